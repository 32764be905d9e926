package evals

import (
	"encoding/json"
	"log/slog"
	"strings"

	"lab-console/internal/validation"
	"lab-console/pkg/api"
)

const (
	ReturnBoolean = "boolean"
	ReturnNumber  = "number"
)

// CustomFieldsParameter is the script parameter holding the fields of a
// custom evaluation.
const CustomFieldsParameter = "custom_fields"

// ParseCustomFields reads the field list of a custom evaluation from a form
// value. It accepts a JSON string, a list of string fragments that form a
// JSON array once joined with commas, or an already decoded list. Anything
// else yields an empty list.
func ParseCustomFields(value any) []api.CustomEvaluationField {
	switch v := value.(type) {
	case string:
		return decodeFields(v)
	case []string:
		return decodeFields(strings.Join(v, ","))
	case []api.CustomEvaluationField:
		return v
	case []any:
		fragments := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return reencodeFields(v)
			}
			fragments = append(fragments, s)
		}
		return decodeFields(strings.Join(fragments, ","))
	}
	return []api.CustomEvaluationField{}
}

func decodeFields(raw string) []api.CustomEvaluationField {
	var fields []api.CustomEvaluationField
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		slog.Warn("ignoring malformed custom evaluation fields", "error", err)
		return []api.CustomEvaluationField{}
	}
	if fields == nil {
		return []api.CustomEvaluationField{}
	}
	return fields
}

func reencodeFields(items []any) []api.CustomEvaluationField {
	data, err := json.Marshal(items)
	if err != nil {
		return []api.CustomEvaluationField{}
	}
	return decodeFields(string(data))
}

// NewCustomField is the blank row added by the editor.
func NewCustomField() api.CustomEvaluationField {
	return api.CustomEvaluationField{ReturnType: ReturnBoolean}
}

func ValidateCustomFields(fields []api.CustomEvaluationField) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if strings.TrimSpace(f.Name) == "" {
			return validation.Errorf("name", "custom evaluation field has no name")
		}
		if seen[f.Name] {
			return validation.Errorf("name", "duplicate custom evaluation field %q", f.Name)
		}
		seen[f.Name] = true
		if f.ReturnType != ReturnBoolean && f.ReturnType != ReturnNumber {
			return validation.Errorf("return_type", "field %q has unsupported return type %q", f.Name, f.ReturnType)
		}
	}
	return nil
}
