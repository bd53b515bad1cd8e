package ml

import "math"

// LogisticRegression is an L2-regularised linear classifier trained by full-batch
// gradient descent on standardised features.
type LogisticRegression struct {
	L2           float64
	LearningRate float64
	MaxIter      int
	Scaler       Scaler
	Weights      []float64
	Bias         float64
}

// NewLogisticRegression builds an unfitted model.
func NewLogisticRegression(p Params) *LogisticRegression {
	return &LogisticRegression{
		L2:           p.Float("l2", 0.01),
		LearningRate: p.Float("learning_rate", 0.1),
		MaxIter:      p.Int("max_iter", 500),
	}
}

func (lr *LogisticRegression) Fit(X [][]float64, y []int) error {
	width, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}
	lr.Scaler = FitScaler(X)
	Z := make([][]float64, len(X))
	for i, row := range X {
		Z[i] = lr.Scaler.Transform(row)
	}

	w := make([]float64, width)
	var b float64
	grad := make([]float64, width)
	n := float64(len(X))
	for iter := 0; iter < lr.MaxIter; iter++ {
		for j := range grad {
			grad[j] = 0
		}
		var gb float64
		for i, z := range Z {
			diff := sigmoid(dot(w, z)+b) - float64(y[i])
			for j := range grad {
				grad[j] += diff * z[j]
			}
			gb += diff
		}
		for j := range w {
			w[j] -= lr.LearningRate * (grad[j]/n + lr.L2*w[j])
		}
		b -= lr.LearningRate * gb / n
	}
	lr.Weights = w
	lr.Bias = b
	return nil
}

func (lr *LogisticRegression) PredictProba(x []float64) float64 {
	if len(lr.Weights) == 0 {
		return 0
	}
	return sigmoid(dot(lr.Weights, lr.Scaler.Transform(x)) + lr.Bias)
}

func (lr *LogisticRegression) Predict(x []float64) int {
	return label(lr.PredictProba(x))
}

// Scaler standardises features to zero mean and unit variance.
// Constant features are centred but left unscaled.
type Scaler struct {
	Mean []float64
	Std  []float64
}

// FitScaler computes per-column mean and population standard deviation.
func FitScaler(X [][]float64) Scaler {
	width := len(X[0])
	s := Scaler{Mean: make([]float64, width), Std: make([]float64, width)}
	n := float64(len(X))
	for _, row := range X {
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for _, row := range X {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Std[j] += d * d
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / n)
		if s.Std[j] < 1e-12 {
			s.Std[j] = 1
		}
	}
	return s
}

// Transform returns a standardised copy of x.
func (s Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
