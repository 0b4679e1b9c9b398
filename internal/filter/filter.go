// Package filter narrows a browsed collection with exact-match predicates.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hyperjump/reqai/internal/models"
)

// Engine applies tag and version predicates read from the named fields.
type Engine struct {
	TagField     string
	VersionField string
}

// New returns an Engine over the given fields.
func New(tagField, versionField string) *Engine {
	return &Engine{TagField: tagField, VersionField: versionField}
}

// Apply returns the records matching every set predicate, in their original
// order. An empty state returns records unchanged.
func (f *Engine) Apply(records []*models.Entity, state models.FilterState) []*models.Entity {
	if state.IsEmpty() {
		return records
	}
	out := make([]*models.Entity, 0, len(records))
	for _, e := range records {
		if f.Match(e, state) {
			out = append(out, e)
		}
	}
	return out
}

// Match reports whether e satisfies every set predicate of state.
func (f *Engine) Match(e *models.Entity, state models.FilterState) bool {
	if state.Tag != nil && !hasTag(e.Strings(f.TagField), *state.Tag) {
		return false
	}
	if state.Version != nil && f.version(e) != *state.Version {
		return false
	}
	return true
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func (f *Engine) version(e *models.Entity) string {
	v, ok := e.Get(f.VersionField)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(v)
}

// Facets lists the distinct tags and versions present in records, sorted, as
// the choices offered by filter selectors.
type Facets struct {
	Tags     []string `json:"tags"`
	Versions []string `json:"versions"`
}

// Facets collects the filter choices for records.
func (f *Engine) Facets(records []*models.Entity) Facets {
	tags := map[string]struct{}{}
	versions := map[string]struct{}{}
	for _, e := range records {
		for _, t := range e.Strings(f.TagField) {
			tags[t] = struct{}{}
		}
		if v := f.version(e); v != "" {
			versions[v] = struct{}{}
		}
	}
	return Facets{Tags: sortedSet(tags), Versions: sortedSet(versions)}
}

func sortedSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
