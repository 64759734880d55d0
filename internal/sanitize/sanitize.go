// Package sanitize turns arbitrary human text (message subjects, attachment
// names) into strings that are safe as a single path segment on common
// filesystems.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// polishFold maps every Polish diacritic letter to its closest
// unaccented ASCII equivalent, both cases.
var polishFold = map[rune]rune{
	'ą': 'a', 'ć': 'c', 'ę': 'e', 'ł': 'l', 'ń': 'n',
	'ó': 'o', 'ś': 's', 'ź': 'z', 'ż': 'z',
	'Ą': 'A', 'Ć': 'C', 'Ę': 'E', 'Ł': 'L', 'Ń': 'N',
	'Ó': 'O', 'Ś': 'S', 'Ź': 'Z', 'Ż': 'Z',
}

// diacriticStripper decomposes the input and drops any combining marks
// left over after the table fold, so composed and decomposed forms of
// the same letter fold identically.
var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// FoldDiacritics replaces Polish diacritic letters with their unaccented
// ASCII equivalents and removes residual Unicode combining marks. All
// other characters pass through unchanged. The result is stable under
// repeated application.
func FoldDiacritics(s string) string {
	folded := strings.Map(func(r rune) rune {
		if repl, ok := polishFold[r]; ok {
			return repl
		}
		return r
	}, s)

	stripped, _, err := transform.String(diacriticStripper, folded)
	if err != nil {
		return folded
	}
	return stripped
}

var (
	replyPrefix    = regexp.MustCompile(`(?i)^(?:re|fw|fwd|odp):\s*`)
	unsafeChars    = regexp.MustCompile(`[/\\?%*:|"<>]`)
	whitespaceRuns = regexp.MustCompile(`\s+`)
	dotRuns        = regexp.MustCompile(`\.{2,}`)
)

// Sanitize converts a subject line or attachment display name into a
// filesystem-safe path segment. A leading reply/forward prefix (RE:, FW:,
// FWD:, ODP:) is stripped, diacritics are folded, characters unsafe in
// file names become hyphens, whitespace runs become single underscores,
// dot runs collapse, and the result is lowercased.
//
// An input that is empty after stripping yields an empty string; callers
// are expected to substitute a fallback name.
func Sanitize(s string) string {
	s = replyPrefix.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = FoldDiacritics(s)
	s = unsafeChars.ReplaceAllString(s, "-")
	s = whitespaceRuns.ReplaceAllString(s, "_")
	s = dotRuns.ReplaceAllString(s, ".")
	return strings.ToLower(s)
}
