package storage

import (
	"encoding/json"
	"fmt"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/errortypes"
)

// Keys managed by the stores themselves; user properties may not shadow them.
var (
	reservedEntityKeys = map[string]bool{
		"id": true, "name": true, "type": true, "project": true,
		"observations": true, "created_at": true, "updated_at": true,
	}
	reservedRelationshipKeys = map[string]bool{
		"project": true, "created_at": true,
	}
)

// NormalizeProperties checks that props only holds values a graph property
// can store (scalars or homogeneous lists of scalars) and returns a copy with
// JSON numbers converted. A nil map yields an empty map.
func NormalizeProperties(props map[string]any, reserved map[string]bool) (map[string]any, error) {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if k == "" {
			return nil, errortypes.Validationf("property names must not be empty")
		}
		if reserved[k] {
			return nil, errortypes.Validationf("property %q is reserved", k)
		}
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, errortypes.Validationf("property %q: %v", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	switch val := v.(type) {
	case string, bool, int64, float64:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case float32:
		return float64(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		return val.Float64()
	case []any:
		list := make([]any, 0, len(val))
		var kind string
		for _, item := range val {
			n, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			if _, nested := n.([]any); nested {
				return nil, fmt.Errorf("nested lists are not supported")
			}
			if k := fmt.Sprintf("%T", n); kind == "" {
				kind = k
			} else if k != kind {
				return nil, fmt.Errorf("list elements must share one type")
			}
			list = append(list, n)
		}
		return list, nil
	case []string:
		list := make([]any, len(val))
		for i, s := range val {
			list[i] = s
		}
		return list, nil
	case nil:
		return nil, fmt.Errorf("null values are not supported")
	default:
		return nil, fmt.Errorf("unsupported value of type %T", v)
	}
}
