package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperjump/reqai/internal/models"
)

// ParseError reports a submitted field that could not be parsed into its
// structured form. The field keeps its raw text.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse field %q, sent as text: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Coerce converts submitted form values into the payload sent to the record
// store. sample (any record of entityType, may be nil) supplies field shapes.
//
//   - text starting with '{' or '[' is parsed as JSON
//   - "true"/"false" on bool widgets become booleans
//   - tag fields are split on commas and trimmed
//   - relation fields become id lists; a scalar is a one-element list
//   - enum values outside the option set are kept but reported
//
// Parse failures are returned alongside the payload and never drop a field.
func (r *Registry) Coerce(entityType string, values map[string]interface{}, sample *models.Entity) (map[string]interface{}, []*ParseError) {
	out := make(map[string]interface{}, len(values))
	var warnings []*ParseError
	for k, v := range values {
		var sampleValue interface{}
		if sample != nil {
			sampleValue, _ = sample.Get(k)
		}
		w := r.Widget(entityType, k, sampleValue)
		switch w.Kind {
		case WidgetTags, WidgetRelation:
			out[k] = toList(models.StringList(v))
		case WidgetBool:
			out[k] = coerceBool(v)
		case WidgetEnum:
			s, ok := v.(string)
			if !ok {
				out[k] = v
				continue
			}
			s = strings.TrimSpace(s)
			out[k] = s
			if s != "" && !contains(w.Options, s) {
				warnings = append(warnings, &ParseError{
					Field: k,
					Value: s,
					Err:   fmt.Errorf("expected one of %s", strings.Join(w.Options, ", ")),
				})
			}
		default:
			parsed, perr := coerceJSON(k, v)
			if perr != nil {
				warnings = append(warnings, perr)
			}
			out[k] = parsed
		}
	}
	return out, warnings
}

func coerceJSON(field string, v interface{}) (interface{}, *ParseError) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return s, nil
	}
	var parsed interface{}
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return trimmed, &ParseError{Field: field, Value: trimmed, Err: err}
	}
	return parsed, nil
}

func coerceBool(v interface{}) interface{} {
	if s, ok := v.(string); ok {
		switch strings.TrimSpace(s) {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return v
}

func toList(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
