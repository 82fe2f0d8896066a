package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/domainscribe/pkg/domain"
)

// minMatchRunes is the shortest span (spaces removed) that may be rewritten.
// Shorter spans collide with too many function words.
const minMatchRunes = 3

// term is a glossary entry with its phonetic codes computed once.
type term struct {
	text   string
	key    string // lower-cased, spaces removed
	runes  int
	codes  map[string]struct{}
}

// Glossary is an immutable, prepared set of domain terms. It is safe for
// concurrent use.
type Glossary struct {
	terms    []term
	maxWords int
}

// NewGlossary prepares terms for matching. Blank entries and case-insensitive
// duplicates are dropped; the first spelling wins.
func NewGlossary(terms []string) *Glossary {
	g := &Glossary{}
	seen := make(map[string]struct{}, len(terms))
	for _, raw := range terms {
		text := strings.Join(strings.Fields(raw), " ")
		if text == "" {
			continue
		}
		lower := strings.ToLower(text)
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}

		tokens := strings.Fields(lower)
		key := strings.Join(tokens, "")
		g.terms = append(g.terms, term{
			text:   text,
			key:    key,
			runes:  utf8.RuneCountInString(key),
			codes:  phoneticCodes(tokens),
		})
		if len(tokens) > g.maxWords {
			g.maxWords = len(tokens)
		}
	}
	return g
}

// Len reports the number of distinct terms.
func (g *Glossary) Len() int { return len(g.terms) }

// Terms returns the prepared terms in their canonical spelling.
func (g *Glossary) Terms() []string {
	out := make([]string, len(g.terms))
	for i, t := range g.terms {
		out[i] = t.text
	}
	return out
}

// TermsFromModel collects the entity and relation names of m, which is the
// vocabulary most likely to be misheard in a follow-up interview.
func TermsFromModel(m *domain.Model) []string {
	if m == nil {
		return nil
	}
	var out []string
	for _, e := range m.Entities {
		out = append(out, e.Name)
	}
	for _, r := range m.Relations {
		out = append(out, r.Name)
	}
	return out
}

// phoneticCodes returns the Double Metaphone codes of every token and of the
// tokens run together, so "in voice" and "invoice" share a code.
func phoneticCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2+2)
	add := func(s string) {
		p, alt := matchr.DoubleMetaphone(s)
		if p != "" {
			codes[p] = struct{}{}
		}
		if alt != "" {
			codes[alt] = struct{}{}
		}
	}
	for _, t := range tokens {
		add(t)
	}
	if len(tokens) > 1 {
		add(strings.Join(tokens, ""))
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// splitToken separates leading and trailing punctuation from a word so that
// "customers," is matched as "customers" and the comma survives rewriting.
func splitToken(tok string) (lead, core, trail string) {
	core = strings.TrimLeftFunc(tok, unicode.IsPunct)
	lead = tok[:len(tok)-len(core)]
	trimmed := strings.TrimRightFunc(core, unicode.IsPunct)
	trail = core[len(trimmed):]
	return lead, trimmed, trail
}
