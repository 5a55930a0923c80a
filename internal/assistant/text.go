package assistant

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	urlPattern      = regexp.MustCompile(`https?://\S+`)
	markdownPattern = regexp.MustCompile("[*_`~]")
	mentionPattern  = regexp.MustCompile(`<@!?\d+>|<#\d+>|<a?:\w*:\d+>`)
	spacePattern    = regexp.MustCompile(`\s+`)
)

// CleanForSpeech prepares an answer for text-to-speech. URLs are replaced by
// "[source en ligne]", markdown markers plus Discord mentions, channel links
// and custom emoji are removed, and whitespace is collapsed.
func CleanForSpeech(text string) string {
	text = urlPattern.ReplaceAllString(text, "[source en ligne]")
	text = markdownPattern.ReplaceAllString(text, "")
	text = mentionPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
}

// Chunk splits text into pieces of at most n runes, never cutting a
// multi-byte character. An empty text yields no chunks.
func Chunk(text string, n int) []string {
	if n <= 0 || text == "" {
		return nil
	}
	chunks := make([]string, 0, utf8.RuneCountInString(text)/n+1)
	for len(text) > 0 {
		end, count := 0, 0
		for end < len(text) && count < n {
			_, size := utf8.DecodeRuneInString(text[end:])
			end += size
			count++
		}
		chunks = append(chunks, text[:end])
		text = text[end:]
	}
	return chunks
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for range n {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i]
}
