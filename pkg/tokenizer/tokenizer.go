// Package tokenizer defines the token-splitting contract consumed by the
// ingest worker pool and ships a dependency-free default implementation.
package tokenizer

import "unicode"

// Tokenizer converts a message body into a sequence of tokens. Any
// implementation must be safe for concurrent calls and must not hold
// internal locks across a call; the default RuneTokenizer needs neither
// because it carries no mutable state.
type Tokenizer interface {
	Split(body string) []string
}

// RuneTokenizer is a dependency-free default: it groups runs of non-CJK
// letters and digits into words (whatever their script), and treats every CJK
// ideograph as its own single-rune token (approximating the full-mode
// decomposition of a dedicated segmenter without requiring one). Punctuation
// and whitespace are delimiters and never emitted as tokens.
type RuneTokenizer struct {
	// DictionaryPaths are accepted for interface parity with segmenter-backed
	// tokenizers that load dictionaries at construction; RuneTokenizer does
	// not consult them.
	DictionaryPaths []string
}

// New constructs a RuneTokenizer. dictionaryPaths are opaque and unused by
// this implementation; they are threaded through so callers can swap in a
// dictionary-backed Tokenizer without changing call sites.
func New(dictionaryPaths []string) *RuneTokenizer {
	return &RuneTokenizer{DictionaryPaths: dictionaryPaths}
}

func isCJK(r rune) bool {
	return unicode.In(r,
		unicode.Han,
		unicode.Hiragana,
		unicode.Katakana,
		unicode.Hangul,
	)
}

// Split implements Tokenizer. It never allocates a token for whitespace or
// punctuation and is safe for concurrent invocation.
func (t *RuneTokenizer) Split(body string) []string {
	var tokens []string
	var word []rune

	flush := func() {
		if len(word) > 0 {
			tokens = append(tokens, string(word))
			word = word[:0]
		}
	}

	for _, r := range body {
		switch {
		case isCJK(r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			word = append(word, r)
		default:
			flush()
		}
	}
	flush()

	return tokens
}
