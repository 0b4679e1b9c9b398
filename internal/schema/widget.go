// Package schema derives render models from record shape: table columns, form
// field widgets, and the payload coercion applied when a form is submitted.
// Widget choice is table driven; see Registry.
package schema

// WidgetKind identifies how a field is edited.
type WidgetKind string

const (
	WidgetText     WidgetKind = "text"
	WidgetJSON     WidgetKind = "json"
	WidgetBool     WidgetKind = "bool"
	WidgetRelation WidgetKind = "relation"
	WidgetEnum     WidgetKind = "enum"
	WidgetTags     WidgetKind = "tags"
)

// Widget describes the editor for one field.
type Widget struct {
	Kind WidgetKind `json:"kind"`
	// Options is the closed option set of enum and bool widgets.
	Options []string `json:"options,omitempty"`
	// Target is the entity type a relation field references.
	Target string `json:"target,omitempty"`
}

// FieldRule designates a widget for a named field of one entity type.
type FieldRule struct {
	Kind    WidgetKind
	Options []string
	Target  string
}

func (r FieldRule) widget() Widget {
	w := Widget{Kind: r.Kind, Target: r.Target}
	if len(r.Options) > 0 {
		w.Options = append([]string(nil), r.Options...)
	}
	return w
}

var boolOptions = []string{"true", "false"}

// shapeRules pick a widget from a sample value's runtime shape when no field
// rule applies. The first match wins.
var shapeRules = []struct {
	match func(v interface{}) bool
	rule  FieldRule
}{
	{isStructured, FieldRule{Kind: WidgetJSON}},
	{isBool, FieldRule{Kind: WidgetBool, Options: boolOptions}},
}

func isStructured(v interface{}) bool {
	switch v.(type) {
	case map[string]interface{}, []interface{}, []string:
		return true
	}
	return false
}

func isBool(v interface{}) bool {
	_, ok := v.(bool)
	return ok
}

// shapeWidget resolves a widget from the sample value alone.
func shapeWidget(sample interface{}) Widget {
	for _, r := range shapeRules {
		if r.match(sample) {
			return r.rule.widget()
		}
	}
	return Widget{Kind: WidgetText}
}
