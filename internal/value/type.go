package value

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/typeexpr"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// ParseType parses a port type expression such as "string", "number",
// "list(number)" or "object({name=string})" into a cty.Type. "any" yields
// the dynamic type.
func ParseType(src string) (cty.Type, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(src), "type", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return cty.NilType, fmt.Errorf("parsing type expression %q: %s", src, diags.Error())
	}
	ty, diags := typeexpr.TypeConstraint(expr)
	if diags.HasErrors() {
		return cty.NilType, fmt.Errorf("invalid type expression %q: %s", src, diags.Error())
	}
	return ty, nil
}

// TypeString renders a cty.Type back into the expression syntax accepted by
// ParseType.
func TypeString(ty cty.Type) string {
	return typeexpr.TypeString(ty)
}

// Typed is the JSON wire form of a single typed value: the value encoded
// per its type, plus the type in the same expression syntax ParseType
// accepts, so decoding is exact and the files stay hand-editable.
type Typed struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalTyped encodes a cty.Value together with its type.
func MarshalTyped(v cty.Value) (Typed, error) {
	ty := v.Type()
	vb, err := ctyjson.Marshal(v, ty)
	if err != nil {
		return Typed{}, fmt.Errorf("encoding value: %w", err)
	}
	return Typed{Type: TypeString(ty), Value: vb}, nil
}

// UnmarshalTyped decodes a Typed back into a cty.Value.
func UnmarshalTyped(t Typed) (cty.Value, error) {
	ty, err := ParseType(t.Type)
	if err != nil {
		return cty.NilVal, fmt.Errorf("decoding type: %w", err)
	}
	v, err := ctyjson.Unmarshal(t.Value, ty)
	if err != nil {
		return cty.NilVal, fmt.Errorf("decoding value: %w", err)
	}
	return v, nil
}
