package assistant

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// DefaultWakePhrases are used when no phrases are configured.
var DefaultWakePhrases = []string{"mistral", "ok bot"}

// webKeywords mark a spoken question as needing a web search.
var webKeywords = []string{
	"cherche sur internet",
	"recherche web",
	"trouve sur le web",
	"sur internet",
	"sur le net",
	"cherchons internet",
}

const (
	// fuzzyThreshold accepts a near-miss spelling on similarity alone.
	fuzzyThreshold = 0.85

	// phoneticThreshold accepts a near-miss whose Double Metaphone codes
	// overlap with the wake phrase.
	phoneticThreshold = 0.70
)

// WakeDetector recognises a wake phrase at the start of a transcription.
// It is read-only after construction and safe for concurrent use.
type WakeDetector struct {
	phrases [][]string
}

// NewWakeDetector returns a detector for phrases plus the bot's own name.
// Phrases are compared case-insensitively; blanks are ignored.
func NewWakeDetector(phrases []string, botName string) *WakeDetector {
	if len(phrases) == 0 {
		phrases = DefaultWakePhrases
	}
	d := &WakeDetector{}
	for _, p := range append(slices.Clone(phrases), botName) {
		words := strings.Fields(strings.ToLower(p))
		if len(words) > 0 && !slices.ContainsFunc(d.phrases, func(w []string) bool { return slices.Equal(w, words) }) {
			d.phrases = append(d.phrases, words)
		}
	}
	return d
}

// Detect reports whether text starts with a wake phrase and returns the rest
// of the sentence as the question, with leading commas and spaces removed.
// woke is true with an empty question when only the wake phrase was heard.
//
// An exact word-for-word match is tried first. Otherwise the leading words
// are compared with Jaro-Winkler similarity, assisted by Double Metaphone,
// so that "Mistrale, ..." or "Mystral ..." still wake the assistant.
func (d *WakeDetector) Detect(text string) (question string, woke bool) {
	text = strings.TrimSpace(text)
	words := splitWords(text)
	if len(words) == 0 {
		return "", false
	}

	for _, phrase := range d.phrases {
		if matchWords(words, phrase, exactWord) {
			return restAfter(text, words, len(phrase)), true
		}
	}
	for _, phrase := range d.phrases {
		if matchWords(words, phrase, similarWord) {
			return restAfter(text, words, len(phrase)), true
		}
	}
	return "", false
}

// IsWebQuery reports whether the question asks for a web search.
func IsWebQuery(question string) bool {
	q := strings.ToLower(question)
	return slices.ContainsFunc(webKeywords, func(kw string) bool { return strings.Contains(q, kw) })
}

// word is a token of the transcription with its byte span.
type word struct {
	text       string
	start, end int
}

// splitWords cuts text into lower-cased letter/digit runs.
func splitWords(text string) []word {
	var out []word
	start := -1
	for i, r := range text {
		inWord := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
		switch {
		case inWord && start < 0:
			start = i
		case !inWord && start >= 0:
			out = append(out, word{strings.ToLower(text[start:i]), start, i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, word{strings.ToLower(text[start:]), start, len(text)})
	}
	return out
}

func matchWords(words []word, phrase []string, eq func(a, b string) bool) bool {
	if len(words) < len(phrase) {
		return false
	}
	for i, p := range phrase {
		if !eq(words[i].text, p) {
			return false
		}
	}
	return true
}

func exactWord(a, b string) bool { return a == b }

func similarWord(a, b string) bool {
	// Short words produce unreliable similarity scores.
	if utf8.RuneCountInString(b) < 4 {
		return a == b
	}
	score := matchr.JaroWinkler(a, b, false)
	if score >= fuzzyThreshold {
		return true
	}
	return score >= phoneticThreshold && codesOverlap(a, b)
}

func codesOverlap(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x != "" && (x == bp || x == bs) {
			return true
		}
	}
	return false
}

// restAfter returns text following the first n words, stripped of leading
// separators.
func restAfter(text string, words []word, n int) string {
	rest := text[words[n-1].end:]
	rest = strings.TrimLeft(rest, ", .!?;:")
	return strings.TrimSpace(rest)
}
