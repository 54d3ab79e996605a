package value

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/zclconf/go-cty/cty"
)

// ToGo converts a cty.Value to a native Go value. Null and unknown values
// convert to nil.
func ToGo(val cty.Value) (any, error) {
	if !val.IsKnown() || val.IsNull() {
		return nil, nil
	}
	if val.Type().IsPrimitiveType() {
		switch val.Type() {
		case cty.String:
			return val.AsString(), nil
		case cty.Number:
			bf := val.AsBigFloat()
			if i, acc := bf.Int64(); acc == big.Exact {
				return i, nil
			}
			f, _ := bf.Float64()
			return f, nil
		case cty.Bool:
			return val.True(), nil
		default:
			return nil, fmt.Errorf("unsupported primitive type: %s", val.Type().FriendlyName())
		}
	}
	if val.Type().IsObjectType() || val.Type().IsMapType() {
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			converted, err := ToGo(v)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = converted
		}
		return out, nil
	}
	if val.Type().IsTupleType() || val.Type().IsListType() || val.Type().IsSetType() {
		out := make([]any, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			converted, err := ToGo(v)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported cty.Type for conversion: %s", val.Type().FriendlyName())
}

// FromGo converts a native Go value to a cty.Value. It covers the shapes
// that protocol payloads and node handlers produce: nil, booleans, strings,
// integer and float widths, byte slices, time.Time, []any and
// map[string]any. Heterogeneous slices become tuples, homogeneous maps
// become objects.
func FromGo(gv any) (cty.Value, error) {
	switch v := gv.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case cty.Value:
		return v, nil
	case bool:
		return cty.BoolVal(v), nil
	case string:
		return cty.StringVal(v), nil
	case []byte:
		return cty.StringVal(string(v)), nil
	case int:
		return cty.NumberIntVal(int64(v)), nil
	case int8:
		return cty.NumberIntVal(int64(v)), nil
	case int16:
		return cty.NumberIntVal(int64(v)), nil
	case int32:
		return cty.NumberIntVal(int64(v)), nil
	case int64:
		return cty.NumberIntVal(v), nil
	case uint:
		return cty.NumberUIntVal(uint64(v)), nil
	case uint8:
		return cty.NumberUIntVal(uint64(v)), nil
	case uint16:
		return cty.NumberUIntVal(uint64(v)), nil
	case uint32:
		return cty.NumberUIntVal(uint64(v)), nil
	case uint64:
		return cty.NumberUIntVal(v), nil
	case float32:
		return cty.NumberFloatVal(float64(v)), nil
	case float64:
		return cty.NumberFloatVal(v), nil
	case time.Time:
		return cty.StringVal(v.UTC().Format(time.RFC3339Nano)), nil
	case []any:
		if len(v) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, 0, len(v))
		for _, e := range v {
			ev, err := FromGo(e)
			if err != nil {
				return cty.NilVal, err
			}
			elems = append(elems, ev)
		}
		return cty.TupleVal(elems), nil
	case map[string]any:
		if len(v) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(v))
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ev, err := FromGo(v[k])
			if err != nil {
				return cty.NilVal, err
			}
			attrs[k] = ev
		}
		return cty.ObjectVal(attrs), nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported Go type for conversion: %T", gv)
	}
}

// MapToGo converts a map of cty values (typically a node's inputs or config)
// to native Go values.
func MapToGo(in map[string]cty.Value) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for k, v := range in {
		converted, err := ToGo(v)
		if err != nil {
			return nil, fmt.Errorf("converting %q: %w", k, err)
		}
		out[k] = converted
	}
	return out, nil
}

// GetString reads a string attribute from a config map. Missing or null
// attributes return the empty string.
func GetString(m map[string]cty.Value, key string) string {
	v, ok := m[key]
	if !ok || v.IsNull() || v.Type() != cty.String {
		return ""
	}
	return v.AsString()
}

// GetInt reads an integer attribute from a config map, returning def when
// the attribute is missing or not a number.
func GetInt(m map[string]cty.Value, key string, def int64) int64 {
	v, ok := m[key]
	if !ok || v.IsNull() || v.Type() != cty.Number {
		return def
	}
	i, _ := v.AsBigFloat().Int64()
	return i
}

// GetBool reads a boolean attribute from a config map, returning def when
// the attribute is missing or not a bool.
func GetBool(m map[string]cty.Value, key string, def bool) bool {
	v, ok := m[key]
	if !ok || v.IsNull() || v.Type() != cty.Bool {
		return def
	}
	return v.True()
}
