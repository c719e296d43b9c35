// Package target turns free-text element descriptions into canonical
// identifiers used as locator queries and cache keys.
package target

import (
	"strings"
)

// Role says what kind of element a description refers to.
type Role int

const (
	RoleClickable Role = iota
	RoleField
)

// Placeholder identifiers returned when a description normalizes to nothing.
const (
	ClickablePlaceholder = "clickable_element"
	FieldPlaceholder     = "input_field"
)

// Generic-role identifiers used when a specific identifier finds nothing.
const (
	GenericClickable = "clickable_btn"
	GenericField     = "input_box"
)

// fieldSuffixes mark an identifier as already naming a field.
var fieldSuffixes = []string{"_field", "_box", "_input"}

// Normalize converts desc into a canonical identifier: lower case, words joined
// by a single underscore, only [a-z0-9_]. Field identifiers always end in a
// field role suffix. The result is never empty and Normalize is idempotent.
func Normalize(desc string, role Role) string {
	id := canonical(desc)
	if id == "" {
		if role == RoleField {
			return FieldPlaceholder
		}
		return ClickablePlaceholder
	}
	if role == RoleField && !HasFieldSuffix(id) {
		id += "_field"
	}
	return id
}

// HasFieldSuffix reports whether id already carries a field role suffix.
func HasFieldSuffix(id string) bool {
	for _, s := range fieldSuffixes {
		if strings.HasSuffix(id, s) {
			return true
		}
	}
	return false
}

// Tokens splits a canonical identifier into its words.
func Tokens(id string) []string {
	return strings.FieldsFunc(id, func(r rune) bool { return r == '_' })
}

func canonical(desc string) string {
	var b strings.Builder
	b.Grow(len(desc))
	pendingSep := false
	for _, r := range strings.ToLower(desc) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '\t', r == '\n':
			pendingSep = true
		}
		// Anything else is stripped without introducing a separator.
	}
	return b.String()
}
