package scribe

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minTranscriptRunes = 5
	maxFirstWordRepeat = 4
)

// fillerArtifacts are phrases speech models emit on silence.
var fillerArtifacts = []string{"1.5%", "2.5%", "1-2-3-4"}

// IsHallucination flags text a speech model most likely invented from
// silence or noise: very short output, known filler artifacts, or the
// first word repeated more than four times.
func IsHallucination(text string) bool {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minTranscriptRunes {
		return true
	}
	for _, a := range fillerArtifacts {
		if strings.Contains(text, a) {
			return true
		}
	}

	words := strings.Fields(text)
	first := normalizeWord(words[0])
	if first == "" {
		return false
	}
	repeats := 0
	for _, w := range words {
		if normalizeWord(w) == first {
			repeats++
		}
	}
	return repeats > maxFirstWordRepeat
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	}))
}
