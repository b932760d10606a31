package main

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	errEmptyWord   = errors.New("word is empty")
	errWordSpaces  = errors.New("a word cannot contain spaces")
	errEmptyBatch  = errors.New("no words submitted")
	errUnknownUser = errors.New("register before submitting words")
)

// normalizeWord trims and NFC-normalises a submitted word and checks it can
// be placed in a single cell.
func normalizeWord(s string, maxRunes int) (string, error) {
	w := norm.NFC.String(strings.TrimSpace(s))
	if w == "" {
		return "", errEmptyWord
	}
	if strings.IndexFunc(w, unicode.IsSpace) >= 0 {
		return "", errWordSpaces
	}
	if utf8.RuneCountInString(w) > maxRunes {
		return "", fmt.Errorf("word longer than %d characters", maxRunes)
	}
	return w, nil
}

// normalizeBatch validates every word of a batch. Nothing is returned unless
// the whole batch is valid.
func normalizeBatch(words []string, maxRunes, maxWords int) ([]string, error) {
	if len(words) == 0 {
		return nil, errEmptyBatch
	}
	if len(words) > maxWords {
		return nil, fmt.Errorf("too many words (max %d)", maxWords)
	}
	out := make([]string, len(words))
	for i, w := range words {
		n, err := normalizeWord(w, maxRunes)
		if err != nil {
			return nil, fmt.Errorf("word %d: %w", i+1, err)
		}
		out[i] = n
	}
	return out, nil
}

// sanitizeUserID returns the canonical form of a user id: trimmed and capped
// at 64 runes. The canonical id is echoed back on register.
func sanitizeUserID(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > 64 {
		s = string([]rune(s)[:64])
	}
	return s
}
