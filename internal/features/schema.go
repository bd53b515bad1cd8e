// Package features maps named static code metrics onto the fixed-order numeric
// vectors a trained model expects.
package features

import (
	"fmt"
	"strings"

	"defect-predictor/internal/common"
)

// Schema is the ordered list of feature names a model was trained against.
// Its length and order are fixed once a model is trained.
type Schema []string

// MetricVector is a numeric vector in schema order.
type MetricVector []float64

// DefaultSchema is the object-oriented metric set used by the scoring service.
var DefaultSchema = Schema{
	"loc",
	"cyclomatic_complexity",
	"coupling",
	"cohesion",
	"inheritance_depth",
	"halstead_volume",
	"fan_in",
	"fan_out",
	"defect_density",
}

// RawSchema is the NASA MDP column set used by the raw-metrics variant.
var RawSchema = Schema{
	"loc",
	"v(g)",
	"ev(g)",
	"lOCode",
	"lOComment",
	"lOBlank",
	"locCodeAndComment",
	"uniq_Op",
	"uniq_Opnd",
	"total_Op",
	"total_Opnd",
	"branchCount",
}

// SchemaByName resolves a schema variant name.
func SchemaByName(name string) (Schema, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", common.SchemaDefault:
		return DefaultSchema.Clone(), nil
	case common.SchemaRaw:
		return RawSchema.Clone(), nil
	default:
		return nil, fmt.Errorf("unknown schema %q (want %q or %q)", name, common.SchemaDefault, common.SchemaRaw)
	}
}

// Clone returns a copy that can be handed out without sharing the backing array.
func (s Schema) Clone() Schema {
	out := make(Schema, len(s))
	copy(out, s)
	return out
}

// Equal reports whether both schemas list the same names in the same order.
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Validate rejects empty schemas, blank names and duplicates.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: schema has no features", common.ErrSchemaMismatch)
	}
	seen := make(map[string]struct{}, len(s))
	for i, name := range s {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: feature %d has an empty name", common.ErrSchemaMismatch, i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate feature %q", common.ErrSchemaMismatch, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
