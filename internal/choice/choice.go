// Package choice resolves a free-text or spoken multiple-choice answer to an
// option letter.
//
// Resolution runs in three passes:
//
//  1. Direct forms: a bare letter ("b"), a spoken letter name ("bee"), a
//     1-based number or ordinal ("2", "second"), optionally behind a lead-in
//     such as "option", "answer" or "I choose".
//  2. Containment: the full text of exactly one option appears, word for
//     word, inside the input.
//  3. Fuzzy: Double Metaphone codes filter phonetic candidates, which are
//     ranked by Jaro-Winkler similarity against the option text. Without a
//     phonetic candidate a stricter pure Jaro-Winkler threshold applies.
package choice

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	containmentConfidence = 0.95
)

// Letter returns the option letter for a 0-based index ("A" for 0).
func Letter(i int) string {
	if i < 0 || i >= 26 {
		return ""
	}
	return string(rune('A' + i))
}

// Index returns the 0-based index of an option letter, or -1.
func Index(letter string) int {
	if len(letter) != 1 {
		return -1
	}
	c := unicode.ToUpper(rune(letter[0]))
	if c < 'A' || c > 'Z' {
		return -1
	}
	return int(c - 'A')
}

// Option is a functional option for configuring a [Resolver].
type Option func(*Resolver)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for an option
// that also matched phonetically. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(r *Resolver) { r.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for an option with
// no phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(r *Resolver) { r.fuzzyThreshold = threshold }
}

// Resolver maps answers to option letters. It is read-only after
// construction and safe for concurrent use.
type Resolver struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Resolver] configured with opts.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// leadIns are stripped from the front of an answer, longest first.
var leadIns = []string{
	"i think the answer is", "the answer is", "my answer is", "i'll go with",
	"i will go with", "i choose", "i pick", "i select", "i'd say", "it's", "it is",
	"answer", "option", "choice", "letter", "number",
}

// letterNames maps spoken letter names to letters.
var letterNames = map[string]string{
	"a": "A", "ay": "A", "eh": "A",
	"b": "B", "bee": "B", "be": "B",
	"c": "C", "see": "C", "sea": "C", "cee": "C",
	"d": "D", "dee": "D",
	"e": "E", "ee": "E",
	"f": "F", "ef": "F", "eff": "F",
}

var numberWords = map[string]int{
	"one": 1, "first": 1, "1st": 1,
	"two": 2, "second": 2, "2nd": 2,
	"three": 3, "third": 3, "3rd": 3,
	"four": 4, "fourth": 4, "4th": 4,
	"five": 5, "fifth": 5, "5th": 5,
	"six": 6, "sixth": 6, "6th": 6,
}

// Resolve returns the letter of the option that input selects. When ok is
// false, letter is "" and confidence is 0. Direct forms resolve with
// confidence 1.
func (r *Resolver) Resolve(input string, options []string) (letter string, confidence float64, ok bool) {
	n := len(options)
	if n == 0 {
		return "", 0, false
	}
	text := normalise(input)
	if text == "" {
		return "", 0, false
	}

	if l, ok := direct(text, n); ok {
		return l, 1, true
	}
	if i, ok := contained(text, options); ok {
		return Letter(i), containmentConfidence, true
	}
	if i, score, ok := r.fuzzy(text, options); ok {
		return Letter(i), score, true
	}
	return "", 0, false
}

// normalise lowercases, drops punctuation other than apostrophes, and
// collapses whitespace.
func normalise(s string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(c), unicode.IsDigit(c), c == '\'':
			b.WriteRune(c)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func stripLeadIn(text string) string {
	for changed := true; changed; {
		changed = false
		for _, li := range leadIns {
			if rest, found := strings.CutPrefix(text, li+" "); found {
				text = rest
				changed = true
			}
		}
	}
	return strings.TrimPrefix(text, "the ")
}

func direct(text string, n int) (string, bool) {
	text = stripLeadIn(text)
	if strings.Contains(text, " ") {
		return "", false
	}
	if l, ok := letterNames[text]; ok && Index(l) < n {
		return l, true
	}
	if len(text) == 1 {
		if i := Index(text); i >= 0 && i < n {
			return Letter(i), true
		}
	}
	if v, err := strconv.Atoi(text); err == nil && v >= 1 && v <= n {
		return Letter(v - 1), true
	}
	if v, ok := numberWords[text]; ok && v <= n {
		return Letter(v - 1), true
	}
	return "", false
}

// contained reports the single option whose normalised text appears as a
// whole-word run inside text.
func contained(text string, options []string) (int, bool) {
	padded := " " + text + " "
	found := -1
	for i, opt := range options {
		o := normalise(opt)
		if o == "" || !strings.Contains(padded, " "+o+" ") {
			continue
		}
		if found >= 0 {
			return -1, false
		}
		found = i
	}
	return found, found >= 0
}

func (r *Resolver) fuzzy(text string, options []string) (int, float64, bool) {
	inTokens := strings.Fields(stripLeadIn(text))
	inFull := strings.Join(inTokens, " ")
	inCodes := codesForTokens(inTokens)

	best, bestScore, bestPhonetic := -1, 0.0, false
	for i, opt := range options {
		o := normalise(opt)
		if o == "" {
			continue
		}
		optTokens := strings.Fields(o)
		score := jwScore(inTokens, optTokens, inFull, o)
		phonetic := codesOverlap(inCodes, codesForTokens(optTokens))

		switch {
		case phonetic && score >= r.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				best, bestScore, bestPhonetic = i, score, true
			}
		case !phonetic && !bestPhonetic && score >= r.fuzzyThreshold && score > bestScore:
			best, bestScore = i, score
		}
	}
	return best, bestScore, best >= 0
}

func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// jwScore compares whole strings, with and without spaces. Token pairs are
// not compared on their own because option texts share short words.
func jwScore(inTokens, optTokens []string, inFull, optFull string) float64 {
	score := matchr.JaroWinkler(inFull, optFull, false)
	if len(inTokens) > 1 || len(optTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inTokens, ""), strings.Join(optTokens, ""), false); s > score {
			score = s
		}
	}
	return score
}
