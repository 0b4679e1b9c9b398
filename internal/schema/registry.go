package schema

import (
	"context"
	"sync"

	"github.com/hyperjump/reqai/internal/models"
)

// DefaultLabelField names the field shown next to an id in relation options.
const DefaultLabelField = "name"

// RelationLabelMax bounds the label length of a relation option.
const RelationLabelMax = 40

// RecordSource supplies the records a relation field or extra renderer resolves ids against.
type RecordSource interface {
	Get(ctx context.Context, entityType string) ([]*models.Entity, error)
}

// ExtraRenderer returns display overrides for a record's cells, keyed by field.
// It runs at render time so references resolve against the current records.
type ExtraRenderer func(ctx context.Context, e *models.Entity, src RecordSource) (map[string]string, error)

// Descriptor is the per entity type row of the registry.
type Descriptor struct {
	EntityType string
	// LabelField is shown next to ids when this type is the target of a relation.
	LabelField string
	// Fields designates widgets by field name, ahead of shape inference.
	Fields map[string]FieldRule
	Extra  ExtraRenderer
}

func (d *Descriptor) labelField() string {
	if d == nil || d.LabelField == "" {
		return DefaultLabelField
	}
	return d.LabelField
}

// Registry maps entity types to descriptors. Types without a descriptor use
// shape inference only.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*Descriptor
}

// NewRegistry creates a registry holding ds.
func NewRegistry(ds ...*Descriptor) *Registry {
	r := &Registry{descriptors: make(map[string]*Descriptor)}
	for _, d := range ds {
		r.Register(d)
	}
	return r
}

// Register adds or replaces the descriptor for d.EntityType.
func (r *Registry) Register(d *Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[d.EntityType] = d
}

// Descriptor returns the descriptor for entityType, or nil.
func (r *Registry) Descriptor(entityType string) *Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.descriptors[entityType]
}

// Widget resolves the editor for a field: the (entityType, field) rule when one
// is registered, otherwise the shape of sample.
func (r *Registry) Widget(entityType, field string, sample interface{}) Widget {
	if d := r.Descriptor(entityType); d != nil {
		if rule, ok := d.Fields[field]; ok {
			return rule.widget()
		}
	}
	return shapeWidget(sample)
}

// Requirement priorities.
var Priorities = []string{"High", "Medium", "Low"}

// DefaultRegistry describes the requirements model: requirements reference
// goals and business processes, carry a closed priority set and free tags.
func DefaultRegistry() *Registry {
	requirements := &Descriptor{
		EntityType: "requirements",
		Fields: map[string]FieldRule{
			"priority":          {Kind: WidgetEnum, Options: Priorities},
			"tags":              {Kind: WidgetTags},
			"related_goals":     {Kind: WidgetRelation, Target: "goals_and_objectives"},
			"related_processes": {Kind: WidgetRelation, Target: "business_processes"},
		},
	}
	r := NewRegistry(
		requirements,
		&Descriptor{EntityType: "goals_and_objectives", LabelField: "name"},
		&Descriptor{EntityType: "business_processes", LabelField: "name"},
		&Descriptor{EntityType: "stakeholders", LabelField: "name"},
	)
	requirements.Extra = r.RelationLabels(requirements.EntityType)
	return r
}
