package engine

import (
	"fmt"
	"strings"

	"nexusdb/src/schema"
)

// validateScalar checks a client-supplied value against a scalar field's
// declared type. Numbers arrive as int64 or float64 depending on the
// transport, so Int accepts whole floats.
func validateScalar(f *schema.Field, v interface{}) error {
	if v == nil {
		if f.NonNull && !f.IsID {
			return fmt.Errorf("field '%s' is non-nullable", f.Name)
		}
		return nil
	}

	switch f.TypeName {
	case "String", "ID", "DateTime":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("field '%s' expects a %s, got %T", f.Name, f.TypeName, v)
		}
	case "Int":
		switch n := v.(type) {
		case int, int32, int64:
		case float64:
			if n != float64(int64(n)) {
				return fmt.Errorf("field '%s' expects an Int, got fractional %v", f.Name, n)
			}
		default:
			return fmt.Errorf("field '%s' expects an Int, got %T", f.Name, v)
		}
	case "Float":
		switch v.(type) {
		case int, int32, int64, float64:
		default:
			return fmt.Errorf("field '%s' expects a Float, got %T", f.Name, v)
		}
	case "Boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("field '%s' expects a Boolean, got %T", f.Name, v)
		}
	}
	return nil
}

// asFloat coerces the numeric types a decoded value can arrive as.
func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// compareValues orders two scalar values of the same field. Mixed numeric
// representations compare numerically.
func compareValues(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs)
	}

	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	}

	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

// valuesEqual reports scalar equality with numeric coercion.
func valuesEqual(a, b interface{}) bool {
	return compareValues(a, b) == 0
}
