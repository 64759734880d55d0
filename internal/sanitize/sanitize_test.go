package sanitize

import (
	"strings"
	"testing"
)

func TestFoldDiacritics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "lowercase polish letters",
			input: "zażółć gęślą jaźń",
			want:  "zazolc gesla jazn",
		},
		{
			name:  "uppercase polish letters",
			input: "ŁĄKA ŹDŹBŁO ŻÓŁW",
			want:  "LAKA ZDZBLO ZOLW",
		},
		{
			name:  "plain ascii passes through",
			input: "plain ASCII text 123",
			want:  "plain ASCII text 123",
		},
		{
			name:  "decomposed form folds like composed",
			input: "dzia\u0142ka o\u0301", // działka + decomposed ó
			want:  "dzialka o",
		},
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := FoldDiacritics(tt.input)
			if got != tt.want {
				t.Errorf("FoldDiacritics(%q): got %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFoldDiacritics_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{"zażółć gęślą jaźń", "Oferta działki", "plain"}
	for _, in := range inputs {
		once := FoldDiacritics(in)
		twice := FoldDiacritics(once)
		if once != twice {
			t.Errorf("FoldDiacritics not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "reply prefix with diacritics and spaces",
			input: "RE: Oferta działki",
			want:  "oferta_dzialki",
		},
		{
			name:  "forward prefix case insensitive",
			input: "fwd: Wypis gruntu",
			want:  "wypis_gruntu",
		},
		{
			name:  "polish reply prefix",
			input: "ODP: Mapa",
			want:  "mapa",
		},
		{
			name:  "unsafe characters become hyphens",
			input: `a/b\c?d%e*f:g|h"i<j>k`,
			want:  "a-b-c-d-e-f-g-h-i-j-k",
		},
		{
			name:  "whitespace runs collapse to underscore",
			input: "too   many\t\twhitespace  runs",
			want:  "too_many_whitespace_runs",
		},
		{
			name:  "dot runs collapse",
			input: "report...final..v2",
			want:  "report.final.v2",
		},
		{
			name:  "surrounding whitespace trimmed",
			input: "   padded subject   ",
			want:  "padded_subject",
		},
		{
			name:  "prefix only yields empty",
			input: "RE: ",
			want:  "",
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
		{
			name:  "prefix not stripped mid-string",
			input: "umowa RE: kupna",
			want:  "umowa_re-_kupna",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Sanitize(tt.input)
			if got != tt.want {
				t.Errorf("Sanitize(%q): got %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"RE: Oferta działki",
		"FW: spotkanie / notatki",
		`weird ?%*:|"<> chars`,
		"już...sprzedane",
		"",
	}

	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if once != twice {
			t.Errorf("Sanitize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestSanitize_OutputIsPathSafe(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"RE: Oferta / działki ?",
		`C:\Users\someone\Desktop`,
		"a<b>c|d\"e",
	}

	for _, in := range inputs {
		got := Sanitize(in)
		if strings.ContainsAny(got, `/\?%*:|"<>`) {
			t.Errorf("Sanitize(%q) = %q still contains unsafe characters", in, got)
		}
	}
}
