package retriever

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// KeyEnter submits a focused form field when sent with SendKeys.
const KeyEnter = "\r"

// ErrWaitTimeout is returned by Session.WaitFor when the condition did not hold
// within the timeout.
var ErrWaitTimeout = errors.New("wait condition not met before timeout")

// Condition describes what a session should wait for. Exactly one field is set.
type Condition struct {
	// Selector is a CSS selector that must match a visible element.
	Selector string
	// URLPattern must match the current page location.
	URLPattern *regexp.Regexp
}

func (c Condition) String() string {
	if c.URLPattern != nil {
		return "url~" + c.URLPattern.String()
	}
	return c.Selector
}

// Driver starts browser sessions. Every launched session must be closed.
type Driver interface {
	Launch(ctx context.Context) (Session, error)
}

// Session is a single browser tab owned by one fetch.
type Session interface {
	Navigate(ctx context.Context, url string) error
	SendKeys(ctx context.Context, selector, keys string) error
	Click(ctx context.Context, selector string) error
	WaitFor(ctx context.Context, cond Condition, timeout time.Duration) error
	HTML(ctx context.Context) (string, error)
	Location(ctx context.Context) (string, error)
	Close() error
}
