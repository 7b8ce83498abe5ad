package lexical

import (
	"strings"
)

// maxHighlights caps the number of highlight sentences per result.
const maxHighlights = 3

// extractHighlights splits content into sentences and returns up to three
// that contain at least one query term, in original order.
func extractHighlights(content string, queryTerms []string, tok *Tokenizer) []string {
	if content == "" || len(queryTerms) == 0 {
		return nil
	}

	terms := make(map[string]struct{}, len(queryTerms))
	for _, t := range queryTerms {
		terms[t] = struct{}{}
	}

	var highlights []string
	for _, sentence := range splitSentences(content) {
		if len(highlights) == maxHighlights {
			break
		}
		for _, token := range tok.Tokenize(sentence) {
			if _, ok := terms[token]; ok {
				highlights = append(highlights, sentence)
				break
			}
		}
	}
	return highlights
}

// splitSentences splits content on sentence boundaries and newlines,
// trimming whitespace and dropping empty pieces.
func splitSentences(content string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for _, r := range content {
		switch r {
		case '.', '!', '?', '\n':
			if r != '\n' {
				current.WriteRune(r)
			}
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()

	return sentences
}
