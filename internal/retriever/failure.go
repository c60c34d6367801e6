package retriever

import (
	"errors"
	"fmt"
)

// Kind classifies why a fetch failed.
type Kind string

const (
	NoResults         Kind = "no_results"
	NoConfidentMatch  Kind = "no_confident_match"
	PageNotConfirmed  Kind = "page_not_confirmed"
	StructureNotFound Kind = "structure_not_found"
	NoNotesFound      Kind = "no_notes_found"
	AutomationFault   Kind = "automation_fault"
)

// Failure is the only error type returned by Fetch.
type Failure struct {
	Kind  Kind
	State State
	Err   error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s during %s", f.Kind, f.State)
	}
	return fmt.Sprintf("%s during %s: %v", f.Kind, f.State, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf returns the failure kind carried by err, or an empty Kind.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
