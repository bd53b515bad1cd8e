package ml

import (
	"fmt"
	"math"
	"math/rand"
)

// Layer is a dense layer; W is indexed [out][in].
type Layer struct {
	W [][]float64
	B []float64
}

// MLP is a feed-forward network with a single sigmoid output, trained with Adam
// on binary cross-entropy plus an L2 penalty.
type MLP struct {
	Hidden       []int
	Activation   string
	Alpha        float64
	LearningRate float64
	MaxIter      int
	BatchSize    int
	Seed         int64
	Scaler       Scaler
	Layers       []Layer
}

// NewMLP builds an unfitted network. activation must be relu or tanh.
func NewMLP(p Params) (*MLP, error) {
	m := &MLP{
		Hidden:       p.Ints("hidden_layer_sizes", []int{100}),
		Activation:   p.Str("activation", "relu"),
		Alpha:        p.Float("alpha", 0.0001),
		LearningRate: p.Float("learning_rate_init", 0.001),
		MaxIter:      p.Int("max_iter", 200),
		BatchSize:    p.Int("batch_size", 32),
		Seed:         int64(p.Int("seed", 42)),
	}
	if m.Activation != "relu" && m.Activation != "tanh" {
		return nil, fmt.Errorf("unsupported activation %q", m.Activation)
	}
	for _, h := range m.Hidden {
		if h <= 0 {
			return nil, fmt.Errorf("invalid hidden layer size %d", h)
		}
	}
	return m, nil
}

func (m *MLP) Fit(X [][]float64, y []int) error {
	width, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(m.Seed))
	m.Scaler = FitScaler(X)
	Z := make([][]float64, len(X))
	for i, row := range X {
		Z[i] = m.Scaler.Transform(row)
	}

	sizes := append([]int{width}, m.Hidden...)
	sizes = append(sizes, 1)
	m.Layers = make([]Layer, len(sizes)-1)
	for l := range m.Layers {
		in, out := sizes[l], sizes[l+1]
		limit := math.Sqrt(6 / float64(in+out))
		layer := Layer{W: make([][]float64, out), B: make([]float64, out)}
		for o := 0; o < out; o++ {
			layer.W[o] = make([]float64, in)
			for i := 0; i < in; i++ {
				layer.W[o][i] = (rng.Float64()*2 - 1) * limit
			}
		}
		m.Layers[l] = layer
	}

	opt := newAdam(m.Layers, m.LearningRate)
	grads := zeroLike(m.Layers)
	batch := max(min(m.BatchSize, len(X)), 1)

	for epoch := 0; epoch < m.MaxIter; epoch++ {
		perm := rng.Perm(len(X))
		for start := 0; start < len(perm); start += batch {
			end := min(start+batch, len(perm))
			resetGrads(grads)
			for _, i := range perm[start:end] {
				m.backprop(Z[i], float64(y[i]), grads)
			}
			bs := float64(end - start)
			for l := range grads {
				for o := range grads[l].W {
					for i := range grads[l].W[o] {
						grads[l].W[o][i] = (grads[l].W[o][i] + m.Alpha*m.Layers[l].W[o][i]) / bs
					}
					grads[l].B[o] /= bs
				}
			}
			opt.step(m.Layers, grads)
		}
	}
	return nil
}

// forward returns every layer's pre-activations and activations. acts[0] is
// the input.
func (m *MLP) forward(z []float64) (pre, acts [][]float64) {
	acts = [][]float64{z}
	in := z
	for l, layer := range m.Layers {
		out := make([]float64, len(layer.B))
		for o := range out {
			out[o] = dot(layer.W[o], in) + layer.B[o]
		}
		pre = append(pre, out)
		a := make([]float64, len(out))
		last := l == len(m.Layers)-1
		for o, v := range out {
			switch {
			case last:
				a[o] = sigmoid(v)
			case m.Activation == "tanh":
				a[o] = math.Tanh(v)
			default:
				a[o] = math.Max(0, v)
			}
		}
		acts = append(acts, a)
		in = a
	}
	return pre, acts
}

func (m *MLP) backprop(z []float64, target float64, grads []Layer) {
	pre, acts := m.forward(z)
	L := len(m.Layers)
	delta := []float64{acts[L][0] - target}
	for l := L - 1; l >= 0; l-- {
		prev := acts[l]
		for o, d := range delta {
			for i, a := range prev {
				grads[l].W[o][i] += d * a
			}
			grads[l].B[o] += d
		}
		if l == 0 {
			break
		}
		next := make([]float64, len(prev))
		for i := range next {
			var s float64
			for o, d := range delta {
				s += m.Layers[l].W[o][i] * d
			}
			if m.Activation == "tanh" {
				s *= 1 - prev[i]*prev[i]
			} else if pre[l-1][i] <= 0 {
				s = 0
			}
			next[i] = s
		}
		delta = next
	}
}

func (m *MLP) PredictProba(x []float64) float64 {
	if len(m.Layers) == 0 {
		return 0
	}
	_, acts := m.forward(m.Scaler.Transform(x))
	return acts[len(acts)-1][0]
}

func (m *MLP) Predict(x []float64) int {
	return label(m.PredictProba(x))
}

type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	mom, vel              []Layer
}

func newAdam(layers []Layer, lr float64) *adam {
	return &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8, mom: zeroLike(layers), vel: zeroLike(layers)}
}

func (a *adam) step(layers, grads []Layer) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	update := func(p, g, m, v *float64) {
		*m = a.beta1*(*m) + (1-a.beta1)*(*g)
		*v = a.beta2*(*v) + (1-a.beta2)*(*g)*(*g)
		*p -= a.lr * (*m / c1) / (math.Sqrt(*v/c2) + a.eps)
	}
	for l := range layers {
		for o := range layers[l].W {
			for i := range layers[l].W[o] {
				update(&layers[l].W[o][i], &grads[l].W[o][i], &a.mom[l].W[o][i], &a.vel[l].W[o][i])
			}
			update(&layers[l].B[o], &grads[l].B[o], &a.mom[l].B[o], &a.vel[l].B[o])
		}
	}
}

func zeroLike(layers []Layer) []Layer {
	out := make([]Layer, len(layers))
	for l, layer := range layers {
		out[l] = Layer{W: make([][]float64, len(layer.W)), B: make([]float64, len(layer.B))}
		for o := range layer.W {
			out[l].W[o] = make([]float64, len(layer.W[o]))
		}
	}
	return out
}

func resetGrads(grads []Layer) {
	for l := range grads {
		for o := range grads[l].W {
			for i := range grads[l].W[o] {
				grads[l].W[o][i] = 0
			}
			grads[l].B[o] = 0
		}
	}
}
