// Package notes models the top, middle and base note pyramid of a perfume.
package notes

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Tier names one level of the pyramid.
type Tier string

const (
	Top    Tier = "top"
	Middle Tier = "middle"
	Base   Tier = "base"
)

// Tiers lists the note tiers in pyramid order.
var Tiers = []Tier{Top, Middle, Base}

// NoteSet is the three-tier note pyramid of a perfume. Every tier holds
// normalized, unique notes in first-seen order and is never nil once the set
// was built with New.
type NoteSet struct {
	Top    []string `json:"top"`
	Middle []string `json:"middle"`
	Base   []string `json:"base"`
}

// New builds a NoteSet, normalizing every note and dropping duplicates and
// blanks within a tier.
func New(top, middle, base []string) NoteSet {
	return NoteSet{
		Top:    uniqueNormalized(top),
		Middle: uniqueNormalized(middle),
		Base:   uniqueNormalized(base),
	}
}

// FromMap builds a NoteSet from a tier-keyed mapping. Unknown keys are ignored
// and missing tiers become empty.
func FromMap(m map[string][]string) NoteSet {
	return New(m[string(Top)], m[string(Middle)], m[string(Base)])
}

// Normalize lower-cases a note, collapses inner whitespace and applies NFKC.
func Normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToLower(norm.NFKC.String(s))
}

// Tier returns the notes of t, or nil for an unknown tier.
func (n NoteSet) Tier(t Tier) []string {
	switch t {
	case Top:
		return n.Top
	case Middle:
		return n.Middle
	case Base:
		return n.Base
	default:
		return nil
	}
}

// Map renders the set as a three-key mapping with non-nil tiers.
func (n NoteSet) Map() map[string][]string {
	m := make(map[string][]string, len(Tiers))
	for _, t := range Tiers {
		values := n.Tier(t)
		if values == nil {
			values = []string{}
		}
		m[string(t)] = append([]string{}, values...)
	}
	return m
}

// Empty reports whether no tier carries a note.
func (n NoteSet) Empty() bool {
	return len(n.Top) == 0 && len(n.Middle) == 0 && len(n.Base) == 0
}

// Len counts the notes across all tiers.
func (n NoteSet) Len() int {
	return len(n.Top) + len(n.Middle) + len(n.Base)
}

// Equal compares two sets tier by tier, ignoring order.
func (n NoteSet) Equal(o NoteSet) bool {
	for _, t := range Tiers {
		if !sameSet(n.Tier(t), o.Tier(t)) {
			return false
		}
	}
	return true
}

func sameSet(a, b []string) bool {
	left := toSet(a)
	right := toSet(b)
	if len(left) != len(right) {
		return false
	}
	for k := range left {
		if _, ok := right[k]; !ok {
			return false
		}
	}
	return true
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[Normalize(v)] = struct{}{}
	}
	return set
}

func uniqueNormalized(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	res := make([]string, 0, len(values))
	for _, v := range values {
		normed := Normalize(v)
		if normed == "" {
			continue
		}
		if _, ok := seen[normed]; ok {
			continue
		}
		seen[normed] = struct{}{}
		res = append(res, normed)
	}
	return res
}
