package translate

import (
	"github.com/abadojack/whatlanggo"
)

// DetectLanguage classifies a text sample and returns its ISO 639-1 code.
// Used when the configured source language is "auto". Falls back to "en"
// when the sample is too thin to classify.
func DetectLanguage(text string) string {
	if text == "" {
		return "en"
	}
	code := whatlanggo.DetectLang(text).Iso6391()
	if code == "" {
		return "en"
	}
	return code
}
