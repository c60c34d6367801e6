// Package resolver extracts canonical perfume names from free text.
package resolver

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/scentmatch/internal/fuzzy"
)

// DefaultThreshold is the minimum token-set score a catalog entry needs to be considered.
const DefaultThreshold = 80

const (
	shortNameWords   = 2
	minOverlap       = 0.6
	highScore        = 90
	minOverlapOnHigh = 0.4
)

type candidate struct {
	name    string
	score   int
	overlap float64
	words   int
}

// Resolve returns the catalog names mentioned in text, in order of confidence.
// Names of one or two words are accepted only when every word appears in the
// text; longer names need a word overlap of 0.6, or 0.4 with a score above 90.
func Resolve(text string, catalog []string, threshold int) []string {
	resolved := make([]string, 0)
	for _, c := range candidates(text, catalog, threshold) {
		if accept(c) && !contains(resolved, c.name) {
			resolved = append(resolved, c.name)
		}
	}
	return resolved
}

func candidates(text string, catalog []string, threshold int) []candidate {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	textWords := wordSet(text)
	res := make([]candidate, 0)
	for _, name := range catalog {
		score := fuzzy.TokenSetRatio(text, name)
		if score < threshold {
			continue
		}

		nameWords := wordSet(name)
		if len(nameWords) == 0 {
			continue
		}

		common := 0
		for w := range nameWords {
			if _, ok := textWords[w]; ok {
				common++
			}
		}

		res = append(res, candidate{
			name:    name,
			score:   score,
			overlap: float64(common) / float64(len(nameWords)),
			words:   len(nameWords),
		})
	}

	sort.SliceStable(res, func(i, j int) bool {
		return res[i].score > res[j].score
	})

	return res
}

func accept(c candidate) bool {
	switch {
	case c.words <= shortNameWords:
		return c.overlap == 1
	case c.overlap >= minOverlap:
		return true
	case c.score > highScore && c.overlap >= minOverlapOnHigh:
		return true
	default:
		return false
	}
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Resolver binds a catalog and threshold for repeated resolution.
type Resolver struct {
	catalog   []string
	threshold int
	logger    *zap.Logger
}

func New(catalog []string, threshold int, logger *zap.Logger) *Resolver {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{
		catalog:   append([]string{}, catalog...),
		threshold: threshold,
		logger:    logger,
	}
}

// Resolve extracts catalog names from text.
func (r *Resolver) Resolve(text string) []string {
	names := Resolve(text, r.catalog, r.threshold)
	r.logger.Debug("resolved perfume names",
		zap.Strings("names", names),
		zap.Int("threshold", r.threshold),
		zap.Int("catalog_size", len(r.catalog)),
	)
	return names
}
