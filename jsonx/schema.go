package jsonx

import "fmt"

// FieldType names the coercion target for a schema field.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "bool"
	TypeObject FieldType = "object"
	TypeArray  FieldType = "array"
)

// FieldSpec declares one schema field: its type, whether it is required,
// and an optional default value used when absent.
type FieldSpec struct {
	Name     string
	Type     FieldType
	Required bool
	Default  interface{}
}

// Schema is an ordered set of field specs (spec §4.7 step 5: "required
// fields present; typed fields coerced; defaults filled; unknown fields
// tolerated unless strict").
type Schema struct {
	Fields []FieldSpec
	Strict bool
}

// Validate checks data (expected to be a map[string]interface{}, the usual
// shape of an Extract result) against s, coercing field types in place and
// filling defaults. Unknown keys are left untouched unless s.Strict, in
// which case they cause an error.
func (s Schema) Validate(data interface{}) (map[string]interface{}, error) {
	obj, ok := data.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("schema validation: expected a JSON object, got %T", data)
	}

	known := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		known[f.Name] = true
		val, present := obj[f.Name]
		if !present {
			if f.Required {
				return nil, fmt.Errorf("schema validation: missing required field %q", f.Name)
			}
			if f.Default != nil {
				obj[f.Name] = f.Default
			}
			continue
		}
		coerced, ok := coerceField(val, f.Type)
		if !ok {
			return nil, fmt.Errorf("schema validation: field %q could not be coerced to %s", f.Name, f.Type)
		}
		obj[f.Name] = coerced
	}

	if s.Strict {
		for k := range obj {
			if !known[k] {
				return nil, fmt.Errorf("schema validation: unknown field %q in strict mode", k)
			}
		}
	}

	return obj, nil
}

func coerceField(v interface{}, t FieldType) (interface{}, bool) {
	switch t {
	case TypeString:
		if s, ok := v.(string); ok {
			return s, true
		}
		return fmt.Sprintf("%v", v), true
	case TypeNumber:
		return CoerceFloat(v)
	case TypeBool:
		return CoerceBool(v)
	case TypeObject:
		m, ok := v.(map[string]interface{})
		return m, ok
	case TypeArray:
		a, ok := v.([]interface{})
		return a, ok
	default:
		return v, true
	}
}
