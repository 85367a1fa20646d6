package segment

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// shortTextThreshold is the length under which a paragraph is kept whole.
// Titles, captions and other short fragments are not worth splitting.
const shortTextThreshold = 80

// mask is substituted for periods that must not terminate a sentence.
// A control character never appears in book text, so unmasking cannot
// collide with real content.
const mask = "\x01"

var (
	// A digit sequence followed by a period: list markers ("12.") and
	// decimals ("3.14"). Both are masked by the same rule.
	ordinalPeriod = regexp.MustCompile(`(\d)\.`)

	// Common abbreviations whose trailing period is not a sentence end.
	// Longer alternatives first so "Mrs." wins over "Mr".
	abbrevPeriod = regexp.MustCompile(`(?i)\b(i\.e|e\.g|Mrs|Mr|Ms|Dr|Prof|Sr|Jr|vs|etc|Vol|No|Fig|Mt)\.`)
)

// Split breaks paragraph text into sentences. It is deterministic and has
// no side effects. Short input is returned whole; otherwise the text is
// split on runs of terminal punctuation (Latin and CJK) with known false
// terminators protected first. Text after the last terminator is kept as a
// final sentence, so input with no punctuation at all comes back as a
// single element.
func Split(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if utf8.RuneCountInString(trimmed) < shortTextThreshold {
		return []string{trimmed}
	}

	masked := maskFalseTerminators(trimmed)

	var sentences []string
	var current strings.Builder
	runes := []rune(masked)
	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])
		if !isTerminator(runes[i]) {
			continue
		}
		// Absorb the whole punctuation run ("?!", "...") into this sentence.
		for i+1 < len(runes) && isTerminator(runes[i+1]) {
			i++
			current.WriteRune(runes[i])
		}
		sentences = append(sentences, current.String())
		current.Reset()
	}
	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}

	result := make([]string, 0, len(sentences))
	for _, s := range sentences {
		s = strings.TrimSpace(strings.ReplaceAll(s, mask, "."))
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

func maskFalseTerminators(text string) string {
	text = abbrevPeriod.ReplaceAllStringFunc(text, func(m string) string {
		return strings.ReplaceAll(m, ".", mask)
	})
	return ordinalPeriod.ReplaceAllString(text, "${1}"+mask)
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}
