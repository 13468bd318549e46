package worker

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// accuracyScore compares a reference text against the transcript using the
// longest-common-subsequence ratio 2·lcs/(m+n) over lowercased, trimmed
// input. Returns a score in [0, 1]; two empty strings score 1.
func accuracyScore(expected, actual string) float64 {
	a := strings.ToLower(strings.TrimSpace(expected))
	b := strings.ToLower(strings.TrimSpace(actual))
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	lcs := matchr.LongestCommonSubsequence(a, b)
	return 2 * float64(lcs) / float64(utf8.RuneCountInString(a)+utf8.RuneCountInString(b))
}
