// Package compat scores how well two note pyramids layer together.
package compat

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/scentmatch/internal/notes"
)

const (
	topWeight    = 0.25
	middleWeight = 0.25
)

// ErrInvalidInput is returned by Compare when an argument is not a tier-keyed mapping.
var ErrInvalidInput = errors.New("notes must be a tier-keyed mapping")

// Result describes the overlap between two note sets.
type Result struct {
	SharedBase         []string `json:"shared_base_notes"`
	SharedTop          []string `json:"shared_top_notes"`
	SharedMiddle       []string `json:"shared_middle_notes"`
	BaseScore          int      `json:"base_note_score"`
	CompatibilityScore float64  `json:"compatibility_score"`
}

// Score intersects the tiers of a and b. Base notes count fully, shared top
// and middle notes add a quarter point each. The result does not depend on
// argument order.
func Score(a, b notes.NoteSet) Result {
	a = notes.New(a.Top, a.Middle, a.Base)
	b = notes.New(b.Top, b.Middle, b.Base)

	res := Result{
		SharedBase:   intersect(a.Base, b.Base),
		SharedTop:    intersect(a.Top, b.Top),
		SharedMiddle: intersect(a.Middle, b.Middle),
	}
	res.BaseScore = len(res.SharedBase)
	res.CompatibilityScore = float64(res.BaseScore) +
		topWeight*float64(len(res.SharedTop)) +
		middleWeight*float64(len(res.SharedMiddle))

	return res
}

// Compare scores loosely typed inputs such as decoded JSON. Accepted values
// are notes.NoteSet, *notes.NoteSet, map[string][]string and map[string]any.
func Compare(a, b any) (*Result, error) {
	left, err := toNoteSet(a)
	if err != nil {
		return nil, fmt.Errorf("first argument: %w", err)
	}

	right, err := toNoteSet(b)
	if err != nil {
		return nil, fmt.Errorf("second argument: %w", err)
	}

	res := Score(left, right)
	return &res, nil
}

func toNoteSet(v any) (notes.NoteSet, error) {
	switch val := v.(type) {
	case notes.NoteSet:
		return val, nil
	case *notes.NoteSet:
		if val == nil {
			return notes.NoteSet{}, ErrInvalidInput
		}
		return *val, nil
	case map[string][]string:
		return notes.FromMap(val), nil
	case map[string]any:
		var tiers map[string][]string
		cfg := &mapstructure.DecoderConfig{
			Result:           &tiers,
			WeaklyTypedInput: true,
		}
		decoder, err := mapstructure.NewDecoder(cfg)
		if err != nil {
			return notes.NoteSet{}, err
		}
		if err := decoder.Decode(val); err != nil {
			return notes.NoteSet{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return notes.FromMap(tiers), nil
	default:
		return notes.NoteSet{}, fmt.Errorf("%w: got %T", ErrInvalidInput, v)
	}
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, note := range b {
		set[note] = struct{}{}
	}

	shared := make([]string, 0)
	for _, note := range a {
		if _, ok := set[note]; ok {
			shared = append(shared, note)
		}
	}
	sort.Strings(shared)

	return shared
}
