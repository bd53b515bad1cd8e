package features

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"defect-predictor/internal/common"
)

// DefaultValue fills schema positions missing from the raw metrics.
const DefaultValue = 0.0

// ToVector looks up every schema name in raw, in schema order. Missing names are
// filled with DefaultValue; values that cannot be coerced to a finite number fail
// with common.ErrInvalidMetricValue. Keys in raw that the schema does not name are
// ignored.
func ToVector(raw map[string]any, schema Schema) (MetricVector, error) {
	vec := make(MetricVector, len(schema))
	for i, name := range schema {
		v, ok := raw[name]
		if !ok {
			vec[i] = DefaultValue
			continue
		}
		f, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", common.ErrInvalidMetricValue, name, err)
		}
		vec[i] = f
	}
	return vec, nil
}

// MissingKeys returns the schema names absent from raw, in schema order.
func MissingKeys(raw map[string]any, schema Schema) []string {
	var missing []string
	for _, name := range schema {
		if _, ok := raw[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func toFloat(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x.String())
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x)
		}
		f = parsed
	case nil:
		return 0, fmt.Errorf("null value")
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %v", f)
	}
	return f, nil
}
