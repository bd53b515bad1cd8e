package ml

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"defect-predictor/internal/common"
)

// Params is one hyperparameter configuration. Values arrive from code, YAML or
// JSON, so the accessors accept every numeric representation those produce.
type Params map[string]any

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Int returns key as an int, or def when absent or not numeric.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Float returns key as a float64, or def when absent or not numeric.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Str returns key as a string, or def.
func (p Params) Str(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Ints returns key as an int slice. A scalar becomes a one-element slice.
func (p Params) Ints(key string, def []int) []int {
	switch v := p[key].(type) {
	case []int:
		return append([]int(nil), v...)
	case []any:
		out := make([]int, 0, len(v))
		for _, e := range v {
			n := Params{"v": e}.Int("v", -1)
			if n <= 0 {
				return def
			}
			out = append(out, n)
		}
		return out
	case nil:
		return def
	default:
		if n := p.Int(key, -1); n > 0 {
			return []int{n}
		}
	}
	return def
}

// String renders the parameters in sorted key order.
func (p Params) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, p[k])
	}
	return strings.Join(parts, " ")
}

// Space maps each hyperparameter to its candidate values.
type Space map[string][]any

// Clone copies the space so callers can narrow it without affecting defaults.
func (s Space) Clone() Space {
	out := make(Space, len(s))
	for k, v := range s {
		out[k] = append([]any(nil), v...)
	}
	return out
}

// Keys returns the parameter names in sorted order.
func (s Space) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks that every required key is present with at least one candidate.
func (s Space) Validate(required []string) error {
	var missing []string
	for _, k := range required {
		if len(s[k]) == 0 {
			missing = append(missing, k)
		}
	}
	for k, v := range s {
		if len(v) == 0 && !contains(missing, k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: no candidates for %s", common.ErrSpaceIncomplete, strings.Join(missing, ", "))
	}
	return nil
}

// Size returns the number of distinct configurations in the space.
func (s Space) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, v := range s {
		n *= len(v)
	}
	return n
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
