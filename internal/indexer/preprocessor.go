package indexer

import (
	"strings"
	"unicode"

	"github.com/hyperjump/reqai/internal/models"
)

// Preprocess normalizes text for indexing (trim, collapse whitespace).
func Preprocess(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		} else {
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}

// IndexableText returns the normalized descriptive text of e, or "" when e has
// no id or no text. Only entities with non-empty IndexableText are indexed.
func IndexableText(e *models.Entity, field string) string {
	if e == nil || e.ID == "" {
		return ""
	}
	return Preprocess(e.Text(field))
}

// CountIndexable returns how many records have indexable text.
func CountIndexable(records []*models.Entity, field string) int {
	n := 0
	for _, e := range records {
		if IndexableText(e, field) != "" {
			n++
		}
	}
	return n
}
