package view

import (
	"testing"
	"unicode/utf8"
)

type runeMeasurer float64

func (m runeMeasurer) Width(s string) float64 {
	return float64(utf8.RuneCountInString(s)) * float64(m)
}

func TestEllipsize(t *testing.T) {
	m := runeMeasurer(10)
	tests := []struct {
		in   string
		maxW float64
		want string
	}{
		{"cat", 30, "cat"},
		{"elephant", 50, "elep…"},
		{"elephant", 10, "…"},
		{"elephant", 5, ""},
		{"", 0, ""},
	}
	for _, tt := range tests {
		if got := Ellipsize(m, tt.in, tt.maxW); got != tt.want {
			t.Errorf("Ellipsize(%q, %v) = %q, want %q", tt.in, tt.maxW, got, tt.want)
		}
	}
}

func TestMonoMeasurer(t *testing.T) {
	m := MonoMeasurer{GlyphW: 6}
	if w := m.Width("hello"); w != 30 {
		t.Errorf("Width(hello) = %f, want 30", w)
	}
	if w := m.Width("日本"); w != 24 {
		t.Errorf("Width(日本) = %f, want 24 (wide runes)", w)
	}
	if got := Ellipsize(m, "hello", 30); got != "hello" {
		t.Errorf("fitting text changed to %q", got)
	}
	got := Ellipsize(m, "wordgrid", 30)
	if m.Width(got) > 30 || got == "wordgrid" {
		t.Errorf("Ellipsize(wordgrid, 30) = %q", got)
	}
}
