// Package intent classifies chat utterances by keyword presence.
package intent

import (
	"fmt"
	"strings"

	"github.com/coregx/ahocorasick"

	"github.com/spigell/scentmatch/internal/fuzzy"
)

type Intent string

const (
	NoteInquiry Intent = "note"
	Layering    Intent = "layer"
	Articles    Intent = "blog"
	Greeting    Intent = "greeting"
	General     Intent = "factual"
)

// layeringMinNames is how many resolved names a layering request needs.
const layeringMinNames = 2

var keywords = map[Intent][]string{
	NoteInquiry: {"note", "notes", "smell like", "smells like", "composition"},
	Layering:    {"layer", "layering", "layered"},
	Articles:    {"blog", "blogs", "article", "articles", "review", "reviews"},
	Greeting:    {"hello", "hi", "hey", "help"},
}

// Classifier matches whole-word keywords in a single pass over the text.
type Classifier struct {
	ac       *ahocorasick.Automaton
	patterns []Intent
}

func NewClassifier() *Classifier {
	var (
		words  []string
		owners []Intent
	)
	for _, in := range []Intent{NoteInquiry, Layering, Articles, Greeting} {
		for _, w := range keywords[in] {
			words = append(words, w)
			owners = append(owners, in)
		}
	}

	ac, err := ahocorasick.NewBuilder().AddStrings(words).Build()
	if err != nil {
		panic(fmt.Sprintf("building intent keywords: %v", err))
	}

	return &Classifier{ac: ac, patterns: owners}
}

// Matches reports which intents have at least one keyword in text.
func (c *Classifier) Matches(text string) map[Intent]bool {
	haystack := []byte(strings.Join(strings.Fields(fuzzy.Process(text)), " "))

	found := make(map[Intent]bool)
	for _, m := range c.ac.FindAllOverlapping(haystack) {
		if wholeWord(haystack, m.Start, m.End) {
			found[c.patterns[m.PatternID]] = true
		}
	}
	return found
}

// wholeWord reports whether s[start:end] is bounded by spaces or the ends of
// s. Normalized text holds only letters, digits and single spaces.
func wholeWord(s []byte, start, end int) bool {
	return (start == 0 || s[start-1] == ' ') && (end == len(s) || s[end] == ' ')
}

// Classify picks the intent of text given how many perfume names were
// resolved from it. Note inquiries win over layering, which needs at least
// two names; anything unmatched is General.
func (c *Classifier) Classify(text string, names int) Intent {
	found := c.Matches(text)
	switch {
	case found[NoteInquiry]:
		return NoteInquiry
	case found[Layering] && names >= layeringMinNames:
		return Layering
	case found[Articles]:
		return Articles
	case found[Greeting]:
		return Greeting
	}
	return General
}
