// Package fuzzy implements the string similarity scorers used to match
// free text against perfume names.
package fuzzy

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Process lower-cases s, replaces every rune that is not a letter or a digit
// with a space and trims the result.
func Process(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.TrimSpace(mapped)
}

// Ratio returns the indel similarity of a and b in the range 0..100.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 100
	}
	return 200 * float64(lcs(ra, rb)) / float64(total)
}

// TokenSetRatio compares the token sets of a and b after processing both.
// A shared token set that fully covers either side scores 100; otherwise the
// best ratio between the sorted intersection and each side wins.
func TokenSetRatio(a, b string) int {
	left := tokenSet(Process(a))
	right := tokenSet(Process(b))
	if len(left) == 0 || len(right) == 0 {
		return 0
	}

	var sect, onlyLeft, onlyRight []string
	for token := range left {
		if _, ok := right[token]; ok {
			sect = append(sect, token)
		} else {
			onlyLeft = append(onlyLeft, token)
		}
	}
	for token := range right {
		if _, ok := left[token]; !ok {
			onlyRight = append(onlyRight, token)
		}
	}

	if len(sect) > 0 && (len(onlyLeft) == 0 || len(onlyRight) == 0) {
		return 100
	}

	sorted := func(tokens []string) string {
		sort.Strings(tokens)
		return strings.Join(tokens, " ")
	}

	base := sorted(sect)
	combinedLeft := strings.TrimSpace(base + " " + sorted(onlyLeft))
	combinedRight := strings.TrimSpace(base + " " + sorted(onlyRight))

	best := Ratio(combinedLeft, combinedRight)
	if base != "" {
		best = math.Max(best, Ratio(base, combinedLeft))
		best = math.Max(best, Ratio(base, combinedRight))
	}

	return int(math.RoundToEven(best))
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, token := range strings.Fields(s) {
		set[token] = struct{}{}
	}
	return set
}

func lcs(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
