package retriever

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	searchPage = `<html><body><form><input type="search" name="query"></form></body></html>`
	sauvageURL = "https://www.fragrantica.com/perfume/Dior/Sauvage-31861.html"
	sauvageEDP = "https://www.fragrantica.com/perfume/Dior/Sauvage-Eau-de-Parfum-48100.html"
)

func fixture(t *testing.T, name string) string {
	t.Helper()

	data, err := os.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return string(data)
}

// site is a scripted catalog website served to fake sessions.
type site struct {
	results string
	pages   map[string]string

	navigateErr error
	panicOnHTML bool
}

type fakeDriver struct {
	site      *site
	launchErr error
	// gate, when set, blocks Launch until closed
	gate chan struct{}

	launches atomic.Int32
	mu       sync.Mutex
	sessions []*fakeSession
}

func (d *fakeDriver) Launch(ctx context.Context) (Session, error) {
	d.launches.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.launchErr != nil {
		return nil, d.launchErr
	}

	s := &fakeSession{site: d.site}
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDriver) allClosed(t *testing.T) {
	t.Helper()

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.sessions {
		if !s.closed.Load() {
			t.Fatalf("session %d was not closed", i)
		}
	}
}

type fakeSession struct {
	site     *site
	location string
	html     string
	typed    string
	closed   atomic.Bool
}

func (s *fakeSession) Navigate(_ context.Context, target string) error {
	if s.site.navigateErr != nil {
		return s.site.navigateErr
	}

	s.location = target
	if target == DefaultSearchURL {
		s.html = searchPage
		return nil
	}
	s.html = s.site.pages[target]
	return nil
}

func (s *fakeSession) SendKeys(_ context.Context, selector, keys string) error {
	if !s.has(selector) {
		return errors.New("no element matches " + selector)
	}
	if keys == KeyEnter {
		s.submit()
		return nil
	}
	s.typed += keys
	return nil
}

func (s *fakeSession) Click(_ context.Context, selector string) error {
	if !s.has(selector) {
		return errors.New("no element matches " + selector)
	}
	s.submit()
	return nil
}

func (s *fakeSession) submit() {
	s.location = DefaultSearchURL + "?query=" + url.QueryEscape(s.typed)
	s.html = s.site.results
}

func (s *fakeSession) WaitFor(_ context.Context, cond Condition, _ time.Duration) error {
	if cond.URLPattern != nil {
		if cond.URLPattern.MatchString(s.location) {
			return nil
		}
		return ErrWaitTimeout
	}
	if s.has(cond.Selector) {
		return nil
	}
	return ErrWaitTimeout
}

func (s *fakeSession) HTML(context.Context) (string, error) {
	if s.site.panicOnHTML {
		panic("renderer crashed")
	}
	return s.html, nil
}

func (s *fakeSession) Location(context.Context) (string, error) {
	return s.location, nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *fakeSession) has(selector string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.html))
	if err != nil {
		return false
	}
	return doc.Find(selector).Length() > 0
}
