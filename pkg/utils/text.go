// Package utils provides shared utilities for text, math, and logging.
package utils

import (
	"strings"
	"unicode"
)

// Truncate returns s truncated to maxLen runes, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if maxLen <= 0 || len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// Humanize turns a snake_case identifier into a title: "goals_and_objectives"
// becomes "Goals And Objectives".
func Humanize(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// Singular drops one trailing "s" from a plural title ("Requirements" -> "Requirement").
func Singular(title string) string {
	if strings.HasSuffix(title, "s") {
		return title[:len(title)-1]
	}
	return title
}
