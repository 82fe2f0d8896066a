package domain

import (
	"strings"
	"unicode"
)

// SnakeCase converts CamelCase and space or hyphen separated words to
// snake_case: "OrderLine" and "order line" both become "order_line". An
// underscore is inserted only where a lower-case letter or digit is followed
// by an upper-case one, so acronyms stay together ("HTTPServer" becomes
// "httpserver").
func SnakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	prevLower := false
	pendingSep := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsSpace(r) || r == '-' || r == '_':
			pendingSep = b.Len() > 0
			prevLower = false
			continue
		case unicode.IsUpper(r):
			if prevLower {
				pendingSep = true
			}
			r = unicode.ToLower(r)
			prevLower = false
		default:
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TitleCase splits s on whitespace and underscores and capitalises each word:
// "order_line" becomes "Order Line".
func TitleCase(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '_'
	})
	for i, w := range words {
		rs := []rune(strings.ToLower(w))
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}

// Normalize rewrites entity, relation and invariant ids in snake_case and
// updates relation ends to match. Names are left alone; an empty name is
// filled from the id in title case.
func Normalize(m *Model) {
	for i := range m.Entities {
		e := &m.Entities[i]
		e.ID = SnakeCase(e.ID)
		if e.Name == "" {
			e.Name = TitleCase(e.ID)
		}
	}
	for i := range m.Relations {
		r := &m.Relations[i]
		r.ID = SnakeCase(r.ID)
		r.From.EntityID = SnakeCase(r.From.EntityID)
		r.To.EntityID = SnakeCase(r.To.EntityID)
	}
	for i := range m.Invariants {
		inv := &m.Invariants[i]
		inv.ID = SnakeCase(inv.ID)
	}
}
