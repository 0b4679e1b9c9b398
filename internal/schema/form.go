package schema

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hyperjump/reqai/internal/models"
	"github.com/hyperjump/reqai/pkg/utils"
)

// FormField is one editable field of a form.
type FormField struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	Widget Widget `json:"widget"`
	// Value is the current value as the widget edits it: JSON text for json
	// widgets, comma separated text for tags, "true"/"false" for bools.
	Value string `json:"value"`
	// Selected holds the chosen ids of a relation widget.
	Selected []string `json:"selected,omitempty"`
	Options  []Option `json:"options,omitempty"`
}

// Form is the render model of a create or edit form.
type Form struct {
	EntityType string      `json:"entity_type"`
	Title      string      `json:"title"`
	ID         string      `json:"id,omitempty"`
	Edit       bool        `json:"edit"`
	Submit     string      `json:"submit"`
	Fields     []FormField `json:"fields"`
}

// NewRecordTemplate builds the blank record offered by an "add" form: the keys
// of sample (the first cached record) minus id, each with an empty value of the
// same shape. A nil sample yields FallbackFields.
func NewRecordTemplate(entityType string, sample *models.Entity) *models.Entity {
	tmpl := models.NewEntity(entityType)
	if sample == nil || len(sample.Keys) == 0 {
		for _, k := range FallbackFields {
			tmpl.Set(k, "")
		}
		return tmpl
	}
	for _, k := range sample.Keys {
		if k == models.IDField {
			continue
		}
		v, _ := sample.Get(k)
		tmpl.Set(k, emptyLike(v))
	}
	return tmpl
}

func emptyLike(v interface{}) interface{} {
	switch v.(type) {
	case []interface{}, []string:
		return []interface{}{}
	case map[string]interface{}:
		return map[string]interface{}{}
	case bool:
		return false
	default:
		return ""
	}
}

// BuildForm renders the form for record, or an add form when record is nil.
// samples is the cached collection of entityType; relation options resolve
// through src.
func (r *Registry) BuildForm(ctx context.Context, entityType string, record *models.Entity, samples []*models.Entity, src RecordSource) (*Form, error) {
	singular := utils.Singular(Title(entityType))
	f := &Form{EntityType: entityType, Fields: []FormField{}}
	if record != nil {
		f.Edit = true
		f.ID = record.ID
		f.Title = "Edit " + singular
		f.Submit = "Update Item"
	} else {
		var sample *models.Entity
		if len(samples) > 0 {
			sample = samples[0]
		}
		record = NewRecordTemplate(entityType, sample)
		f.Title = "Add New " + singular
		f.Submit = "Add Item"
	}

	for _, k := range record.Keys {
		if k == models.IDField {
			continue
		}
		v, _ := record.Get(k)
		field := FormField{
			Name:   k,
			Label:  utils.Humanize(k),
			Widget: r.Widget(entityType, k, v),
		}
		switch field.Widget.Kind {
		case WidgetRelation:
			field.Selected = RelationIDs(v)
			if src != nil {
				opts, err := r.RelationOptions(ctx, field.Widget.Target, src)
				if err != nil {
					return nil, err
				}
				field.Options = opts
			}
			field.Value = strings.Join(field.Selected, ", ")
		case WidgetTags:
			field.Value = strings.Join(models.StringList(v), ", ")
		case WidgetJSON:
			field.Value = jsonText(v)
		default:
			field.Value = FormatValue(v)
		}
		f.Fields = append(f.Fields, field)
	}
	return f, nil
}

func jsonText(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return FormatValue(v)
	}
	return string(b)
}
