package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize_LowercasesAndStripsPunctuation(t *testing.T) {
	tok := NewTokenizer(nil)
	tokens := tok.Tokenize("Fix: NullPointerException (again)!")
	assert.Equal(t, []string{"fix", "null", "pointer", "exception", "again"}, tokens)
}

func TestTokenize_SplitsIdentifiers(t *testing.T) {
	tok := NewTokenizer([]string{})

	tests := []struct {
		input string
		want  []string
	}{
		{"getUserById", []string{"get", "user"}},          // "By", "Id" too short
		{"parse_http_request", []string{"parse", "http", "request"}},
		{"HTTPHandler", []string{"http", "handler"}},
		{"snake_caseAndCamel", []string{"snake", "case", "and", "camel"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tok.Tokenize(tt.input), "input %q", tt.input)
	}
}

func TestTokenize_DropsShortTokensAndStopWords(t *testing.T) {
	tok := NewTokenizer(nil)

	tokens := tok.Tokenize("go is the best and py ok")
	// "go", "is", "py", "ok" are too short; "the", "and" are stop words.
	assert.Equal(t, []string{"best"}, tokens)
}

func TestTokenize_KeepsUnicodeLetters(t *testing.T) {
	tok := NewTokenizer(nil)

	tokens := tok.Tokenize("Ошибка при инициализации")
	assert.Contains(t, tokens, "ошибка")
	assert.Contains(t, tokens, "инициализации")
}

func TestTokenize_EmptyInput(t *testing.T) {
	tok := NewTokenizer(nil)
	assert.Empty(t, tok.Tokenize(""))
	assert.Empty(t, tok.Tokenize("!!! ... ---"))
}

func TestSplitSentences_BoundariesAndNewlines(t *testing.T) {
	sentences := splitSentences("One. Two!\nThree? \n\nFour")
	assert.Equal(t, []string{"One.", "Two!", "Three?", "Four"}, sentences)
}
