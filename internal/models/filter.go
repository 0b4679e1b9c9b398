package models

import "strings"

// FilterState holds the active exact-match predicates for a browsed collection.
// A nil field is unset. Set fields combine with logical AND.
type FilterState struct {
	Tag     *string `json:"tag"`
	Version *string `json:"version"`
}

// IsEmpty reports whether no predicate is set.
func (f FilterState) IsEmpty() bool {
	return f.Tag == nil && f.Version == nil
}

// WithTag returns a copy of f with the tag predicate set, or cleared when tag is blank.
func (f FilterState) WithTag(tag string) FilterState {
	f.Tag = optional(tag)
	return f
}

// WithVersion returns a copy of f with the version predicate set, or cleared when version is blank.
func (f FilterState) WithVersion(version string) FilterState {
	f.Version = optional(version)
	return f
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
