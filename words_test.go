package main

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeWord(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{"plain", "cat", "cat", nil},
		{"trimmed", "  hat\n", "hat", nil},
		{"nfc", "cafe\u0301", "caf\u00e9", nil},
		{"empty", "   ", "", errEmptyWord},
		{"inner space", "two words", "", errWordSpaces},
		{"inner tab", "a\tb", "", errWordSpaces},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeWord(tt.in, 50)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNormalizeWordLength(t *testing.T) {
	if _, err := normalizeWord(strings.Repeat("é", 5), 5); err != nil {
		t.Fatalf("5 runes should fit in 5: %v", err)
	}
	if _, err := normalizeWord(strings.Repeat("a", 6), 5); err == nil {
		t.Fatal("expected length error")
	}
}

func TestNormalizeBatch(t *testing.T) {
	got, err := normalizeBatch([]string{" a", "b "}, 10, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected batch %q", got)
	}

	if _, err := normalizeBatch(nil, 10, 5); !errors.Is(err, errEmptyBatch) {
		t.Fatalf("expected errEmptyBatch, got %v", err)
	}
	if _, err := normalizeBatch([]string{"a", "b", "c"}, 10, 2); err == nil {
		t.Fatal("expected too-many-words error")
	}
	if _, err := normalizeBatch([]string{"ok", ""}, 10, 5); !errors.Is(err, errEmptyWord) {
		t.Fatalf("one bad word rejects the batch, got %v", err)
	}
}

func TestSanitizeUserID(t *testing.T) {
	if got := sanitizeUserID("  abc "); got != "abc" {
		t.Fatalf("expected trimmed id, got %q", got)
	}
	if got := sanitizeUserID(strings.Repeat("x", 100)); len(got) != 64 {
		t.Fatalf("expected 64 chars, got %d", len(got))
	}
}
