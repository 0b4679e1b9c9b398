package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperjump/reqai/internal/models"
	"github.com/hyperjump/reqai/pkg/utils"
)

// FallbackFields are offered when a collection has no record to infer from.
var FallbackFields = []string{"name", "description"}

// DeriveColumns returns the key order of the first record, or nil for an empty collection.
func DeriveColumns(records []*models.Entity) []string {
	if len(records) == 0 {
		return nil
	}
	return append([]string(nil), records[0].Keys...)
}

// Column is one table header.
type Column struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// Row is one rendered record.
type Row struct {
	ID    string   `json:"id"`
	Cells []string `json:"cells"`
	Score *float64 `json:"score,omitempty"`
}

// Table is the render model of a collection or a search result list.
type Table struct {
	EntityType string   `json:"entity_type"`
	Title      string   `json:"title"`
	AddLabel   string   `json:"add_label"`
	Columns    []Column `json:"columns"`
	Rows       []Row    `json:"rows"`
}

// Title renders an entity type for display: "goals_and_objectives" -> "Goals And Objectives".
func Title(entityType string) string {
	return utils.Humanize(entityType)
}

// BuildTable renders records with columns taken from the first record.
func (r *Registry) BuildTable(ctx context.Context, entityType string, records []*models.Entity, src RecordSource) (*Table, error) {
	t := newTable(entityType, DeriveColumns(records))
	for _, e := range records {
		row, err := r.row(ctx, entityType, e, t.Columns, src)
		if err != nil {
			return nil, err
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// BuildSearchTable renders ranked search results; each row carries its score.
func (r *Registry) BuildSearchTable(ctx context.Context, entityType string, results []*models.SearchResult, src RecordSource) (*Table, error) {
	var first []*models.Entity
	if len(results) > 0 {
		first = []*models.Entity{results[0].Entity}
	}
	t := newTable(entityType, DeriveColumns(first))
	for _, res := range results {
		row, err := r.row(ctx, entityType, res.Entity, t.Columns, src)
		if err != nil {
			return nil, err
		}
		score := res.SimilarityScore
		row.Score = &score
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func newTable(entityType string, columns []string) *Table {
	title := Title(entityType)
	t := &Table{
		EntityType: entityType,
		Title:      title,
		AddLabel:   "Add New " + utils.Singular(title),
		Columns:    make([]Column, 0, len(columns)),
		Rows:       []Row{},
	}
	for _, c := range columns {
		t.Columns = append(t.Columns, Column{Name: c, Label: utils.Humanize(c)})
	}
	return t
}

func (r *Registry) row(ctx context.Context, entityType string, e *models.Entity, cols []Column, src RecordSource) (Row, error) {
	var overrides map[string]string
	if d := r.Descriptor(entityType); d != nil && d.Extra != nil && src != nil {
		var err error
		if overrides, err = d.Extra(ctx, e, src); err != nil {
			return Row{}, err
		}
	}
	row := Row{ID: e.ID, Cells: make([]string, len(cols))}
	for i, c := range cols {
		if s, ok := overrides[c.Name]; ok {
			row.Cells[i] = s
			continue
		}
		v, _ := e.Get(c.Name)
		row.Cells[i] = FormatValue(v)
	}
	return row, nil
}

// FormatValue renders a field value as cell text. Lists and objects become
// indented JSON.
func FormatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]interface{}, []interface{}, []string:
		b, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// Option is one choice of a relation selector.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// RelationOptions lists target's records as id plus truncated label.
func (r *Registry) RelationOptions(ctx context.Context, target string, src RecordSource) ([]Option, error) {
	records, err := src.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	labelField := r.Descriptor(target).labelField()
	opts := make([]Option, 0, len(records))
	for _, e := range records {
		if e.ID == "" {
			continue
		}
		opts = append(opts, Option{Value: e.ID, Label: relationLabel(e, labelField)})
	}
	return opts, nil
}

func relationLabel(e *models.Entity, labelField string) string {
	label := utils.Truncate(e.Text(labelField), RelationLabelMax)
	if label == "" {
		return e.ID
	}
	return e.ID + " - " + label
}

// RelationLabels returns an ExtraRenderer that shows each relation field of
// entityType as its referenced ids with labels, one per line. Ids that no
// longer resolve are shown bare.
func (r *Registry) RelationLabels(entityType string) ExtraRenderer {
	return func(ctx context.Context, e *models.Entity, src RecordSource) (map[string]string, error) {
		d := r.Descriptor(entityType)
		if d == nil {
			return nil, nil
		}
		out := make(map[string]string)
		for field, rule := range d.Fields {
			if rule.Kind != WidgetRelation {
				continue
			}
			v, ok := e.Get(field)
			if !ok {
				continue
			}
			ids := RelationIDs(v)
			if len(ids) == 0 {
				out[field] = ""
				continue
			}
			records, err := src.Get(ctx, rule.Target)
			if err != nil {
				return nil, err
			}
			byID := make(map[string]*models.Entity, len(records))
			for _, rec := range records {
				byID[rec.ID] = rec
			}
			labelField := r.Descriptor(rule.Target).labelField()
			lines := make([]string, 0, len(ids))
			for _, id := range ids {
				if rec, ok := byID[id]; ok {
					lines = append(lines, relationLabel(rec, labelField))
				} else {
					lines = append(lines, id)
				}
			}
			out[field] = strings.Join(lines, "\n")
		}
		return out, nil
	}
}

// RelationIDs normalizes a relation value to a list of ids. A scalar is a
// one-element list.
func RelationIDs(v interface{}) []string {
	return models.StringList(v)
}
