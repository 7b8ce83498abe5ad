package lexical

import (
	"regexp"
	"strings"
	"unicode"
)

// MinTokenLength is the minimum token length kept by the tokenizer.
// Tokens of 2 characters or fewer are dropped.
const MinTokenLength = 3

// tokenRegex matches letter/digit sequences. Unicode letter and number
// classes are kept so non-Latin content (CJK, Cyrillic, ...) survives
// punctuation stripping; underscores are kept for the identifier split below.
var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// DefaultStopWords is the fixed stop-word list applied during tokenization.
// It mixes common English filler with noise words typical of prompts and
// tool output.
var DefaultStopWords = []string{
	"the", "and", "for", "are", "but", "not", "you", "all", "can", "had",
	"her", "was", "one", "our", "out", "has", "have", "this", "that",
	"with", "from", "they", "them", "then", "than", "will", "would",
	"been", "were", "their", "there", "here", "when", "what", "where",
	"which", "while", "could", "should", "into", "about", "after",
	"before", "between", "through", "each", "other", "some", "such",
	"only", "same", "very", "just", "also", "more", "most", "your",
	"please", "using", "used",
}

// Tokenizer converts text into scoring terms: lower-cased, punctuation
// stripped, identifiers split on camelCase/snake_case boundaries, short
// tokens and stop words dropped.
type Tokenizer struct {
	stopWords map[string]struct{}
}

// NewTokenizer creates a tokenizer with the given stop words.
// A nil list uses DefaultStopWords.
func NewTokenizer(stopWords []string) *Tokenizer {
	if stopWords == nil {
		stopWords = DefaultStopWords
	}
	m := make(map[string]struct{}, len(stopWords))
	for _, w := range stopWords {
		m[strings.ToLower(w)] = struct{}{}
	}
	return &Tokenizer{stopWords: m}
}

// Tokenize splits text into normalized terms.
func (t *Tokenizer) Tokenize(text string) []string {
	var tokens []string

	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, sub := range splitIdentifier(word) {
			lower := strings.ToLower(sub)
			if len([]rune(lower)) < MinTokenLength {
				continue
			}
			if _, stop := t.stopWords[lower]; stop {
				continue
			}
			tokens = append(tokens, lower)
		}
	}

	return tokens
}

// splitIdentifier splits snake_case and camelCase identifiers.
func splitIdentifier(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamelCase(part)...)
			}
		}
		return result
	}
	return splitCamelCase(token)
}

// splitCamelCase splits camelCase and PascalCase identifiers.
// "parseHTTPRequest" -> ["parse", "HTTP", "Request"].
func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

			// Split if previous is lowercase OR next is lowercase (handles acronyms)
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}
