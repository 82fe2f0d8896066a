// Package transcript rewrites misheard domain vocabulary in transcription
// results.
//
// A [Corrector] holds a [Glossary] of domain terms (usually entity names).
// Each transcript is scanned left to right; at every position the longest
// window of words that sounds like a glossary term is replaced by that term.
//
// Matching is two-staged. A window is a phonetic candidate when its Double
// Metaphone codes overlap the term's; phonetic candidates are accepted above
// the phonetic threshold on Jaro-Winkler similarity. Windows with no phonetic
// overlap must clear the stricter fuzzy threshold. Similarity is computed on
// the lower-cased text with spaces removed.
package transcript

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	// DefaultPhoneticThreshold is the minimum Jaro-Winkler score for a
	// phonetically overlapping window.
	DefaultPhoneticThreshold = 0.85

	// DefaultFuzzyThreshold is the minimum Jaro-Winkler score for a window
	// without phonetic overlap.
	DefaultFuzzyThreshold = 0.92
)

// Correction methods reported in [Correction.Method].
const (
	MethodPhonetic = "phonetic"
	MethodFuzzy    = "fuzzy"
)

// Correction records one substitution.
type Correction struct {
	Original   string  `json:"original"`
	Corrected  string  `json:"corrected"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// Result is the corrected text and the substitutions that produced it.
// Corrections is never nil.
type Result struct {
	Text        string       `json:"text"`
	Corrections []Correction `json:"corrections"`
}

// Changed reports whether any substitution was made.
func (r Result) Changed() bool { return len(r.Corrections) > 0 }

// Option configures a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold overrides [DefaultPhoneticThreshold].
func WithPhoneticThreshold(v float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = v }
}

// WithFuzzyThreshold overrides [DefaultFuzzyThreshold].
func WithFuzzyThreshold(v float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = v }
}

// Corrector is read-only after construction and safe for concurrent use.
type Corrector struct {
	glossary          *Glossary
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Corrector for the given glossary terms.
func New(terms []string, opts ...Option) *Corrector {
	c := &Corrector{
		glossary:          NewGlossary(terms),
		phoneticThreshold: DefaultPhoneticThreshold,
		fuzzyThreshold:    DefaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Glossary returns the prepared glossary.
func (c *Corrector) Glossary() *Glossary { return c.glossary }

// Match finds the glossary term closest to phrase. It returns ok=false when
// no term clears the thresholds. An exact (case-insensitive) match scores 1.
func (c *Corrector) Match(phrase string) (match string, score float64, method string, ok bool) {
	tokens := strings.Fields(strings.ToLower(phrase))
	if len(tokens) == 0 {
		return "", 0, "", false
	}
	return c.match(tokens)
}

func (c *Corrector) match(tokens []string) (string, float64, string, bool) {
	key := strings.Join(tokens, "")
	if utf8.RuneCountInString(key) < minMatchRunes {
		return "", 0, "", false
	}
	codes := phoneticCodes(tokens)

	var (
		best       *term
		bestScore  float64
		bestPhonet bool
	)
	keyLen := utf8.RuneCountInString(key)
	for i := range c.glossary.terms {
		t := &c.glossary.terms[i]
		if !comparableLength(keyLen, t.runes) {
			continue
		}
		score := matchr.JaroWinkler(key, t.key, false)
		phon := overlaps(codes, t.codes)
		switch {
		case phon && score >= c.phoneticThreshold:
			if !bestPhonet || score > bestScore {
				best, bestScore, bestPhonet = t, score, true
			}
		case !phon && !bestPhonet && score >= c.fuzzyThreshold:
			if score > bestScore {
				best, bestScore = t, score
			}
		}
	}
	if best == nil {
		return "", 0, "", false
	}
	method := MethodFuzzy
	if bestPhonet {
		method = MethodPhonetic
	}
	return best.text, bestScore, method, true
}

// Correct rewrites text against the glossary. Words already spelled like a
// term (ignoring case) are left untouched. When anything is rewritten the
// whitespace is collapsed to single spaces; punctuation around a rewritten
// window is kept.
func (c *Corrector) Correct(text string) Result {
	res := Result{Text: text, Corrections: []Correction{}}
	words := strings.Fields(text)
	if len(words) == 0 || c.glossary.Len() == 0 {
		return res
	}

	pieces := make([]piece, len(words))
	for i, w := range words {
		l, core, tr := splitToken(w)
		pieces[i] = piece{l, core, tr}
	}

	// Windows may span one word more than the longest term so that a term
	// split in two by the recogniser is still found.
	maxN := c.glossary.maxWords + 1

	out := make([]string, 0, len(words))
	for i := 0; i < len(words); {
		n := min(maxN, len(words)-i)
		consumed := 0
		for ; n >= 1; n-- {
			// Punctuation inside a window ends a phrase.
			if n > 1 && !cleanInterior(pieces[i:i+n]) {
				continue
			}
			lower := make([]string, 0, n)
			orig := make([]string, 0, n)
			for _, p := range pieces[i : i+n] {
				if p.core == "" {
					break
				}
				lower = append(lower, strings.ToLower(p.core))
				orig = append(orig, p.core)
			}
			if len(lower) != n {
				continue
			}
			match, score, method, ok := c.match(lower)
			if !ok {
				continue
			}
			// A neighbour must not pull an already correct term into a
			// wider window ("a customer" against "Customer").
			if n > 1 && containsTerm(lower, match) {
				continue
			}
			original := strings.Join(orig, " ")
			first, last := pieces[i], pieces[i+n-1]
			if strings.EqualFold(original, match) || isInflection(lower, match) {
				out = append(out, words[i:i+n]...)
			} else {
				out = append(out, first.lead+match+last.trail)
				res.Corrections = append(res.Corrections, Correction{
					Original:   original,
					Corrected:  match,
					Confidence: score,
					Method:     method,
				})
			}
			consumed = n
			break
		}
		if consumed == 0 {
			out = append(out, words[i])
			consumed = 1
		}
		i += consumed
	}

	if res.Changed() {
		res.Text = strings.Join(out, " ")
	}
	return res
}

// isInflection reports whether the single word is the term plus a short
// suffix ("orders" for "Order"). Such words are already correct.
func isInflection(lower []string, match string) bool {
	if len(lower) != 1 {
		return false
	}
	word, t := lower[0], strings.ToLower(match)
	return len(word) > len(t) && strings.HasPrefix(word, t) && utf8.RuneCountInString(word[len(t):]) <= 2
}

// containsTerm reports whether a proper sub-window of lower already spells
// match, or a single word of it is an inflection of match.
func containsTerm(lower []string, match string) bool {
	want := strings.Fields(strings.ToLower(match))
	for size := 1; size < len(lower); size++ {
		for j := 0; j+size <= len(lower); j++ {
			sub := lower[j : j+size]
			if slices.Equal(sub, want) || isInflection(sub, match) {
				return true
			}
		}
	}
	return false
}

// piece is a transcript word split around its punctuation.
type piece struct{ lead, core, trail string }

// comparableLength rejects pairs whose lengths differ by more than a quarter,
// which Jaro-Winkler's prefix bonus would otherwise let through
// ("customer order" against "Customer").
func comparableLength(a, b int) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d*4 <= max(a, b)
}

// cleanInterior reports whether the window has no punctuation between its
// words: no trailing mark except on the last piece and no leading mark except
// on the first.
func cleanInterior(ps []piece) bool {
	for j, p := range ps {
		if j > 0 && p.lead != "" {
			return false
		}
		if j < len(ps)-1 && p.trail != "" {
			return false
		}
	}
	return true
}
