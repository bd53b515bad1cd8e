package explain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Contribution is one feature's signed surrogate weight. Positive weights push
// the prediction towards defective.
type Contribution struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// Explanation is an ordered list of contributions. It encodes as a JSON object
// whose keys keep the list order.
type Explanation []Contribution

// MarshalJSON writes {"feature": weight, ...} in slice order.
func (e Explanation) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range e {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.Feature)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(c.Weight)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object back into an Explanation, keeping key order.
func (e *Explanation) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*e = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("explanation: expected object, got %v", tok)
	}
	out := Explanation{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("explanation: expected key, got %v", keyTok)
		}
		var w float64
		if err := dec.Decode(&w); err != nil {
			return fmt.Errorf("explanation: %s: %w", key, err)
		}
		out = append(out, Contribution{Feature: key, Weight: w})
	}
	*e = out
	return nil
}

// Finite reports whether every weight is a finite number. JSON cannot encode
// NaN or Inf.
func (e Explanation) Finite() bool {
	for _, c := range e {
		if math.IsNaN(c.Weight) || math.IsInf(c.Weight, 0) {
			return false
		}
	}
	return true
}

// Map returns the contributions keyed by feature.
func (e Explanation) Map() map[string]float64 {
	out := make(map[string]float64, len(e))
	for _, c := range e {
		out[c.Feature] = c.Weight
	}
	return out
}

// Features returns the feature names in order.
func (e Explanation) Features() []string {
	out := make([]string, len(e))
	for i, c := range e {
		out[i] = c.Feature
	}
	return out
}
