package retriever

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/scentmatch/internal/cache"
	"github.com/spigell/scentmatch/internal/metrics"
	"github.com/spigell/scentmatch/internal/notes"
)

var sauvageNotes = notes.New(
	[]string{"Calabrian Bergamot", "Pepper"},
	[]string{"Sichuan Pepper", "Lavender", "Pink Pepper", "Vetiver", "Patchouli", "Geranium", "Elemi"},
	[]string{"Ambroxan", "Cedar", "Labdanum"},
)

func newTestRetriever(t *testing.T, driver *fakeDriver, deps Deps) *Retriever {
	t.Helper()

	deps.Driver = driver
	cfg := &Config{MinInterval: 0}
	r, err := New(cfg, &deps)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	return r
}

func sauvageSite(t *testing.T) *site {
	return &site{
		results: fixture(t, "search_results.html"),
		pages: map[string]string{
			sauvageURL: fixture(t, "pyramid.html"),
			sauvageEDP: fixture(t, "description.html"),
		},
	}
}

func TestFetchAutomatic(t *testing.T) {
	driver := &fakeDriver{site: sauvageSite(t)}
	noteCache := cache.New(cache.NewMemoryStore(), nil, nil)
	m := metrics.New()
	r := newTestRetriever(t, driver, Deps{Cache: noteCache, Metrics: m})

	got, err := r.Fetch(context.Background(), "Dior Sauvage", Automatic)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !got.Equal(sauvageNotes) {
		t.Fatalf("expected %v, got %v", sauvageNotes, got)
	}

	driver.allClosed(t)

	cached, ok, err := noteCache.Get(context.Background(), "dior sauvage")
	if err != nil || !ok {
		t.Fatalf("expected write-through to cache, got ok=%v err=%v", ok, err)
	}
	if !cached.Equal(sauvageNotes) {
		t.Fatalf("cached notes differ: %v", cached)
	}

	if got := testutil.ToFloat64(m.Fetches("success")); got != 1 {
		t.Fatalf("expected one successful fetch metric, got %v", got)
	}
}

func TestFetchTopOnly(t *testing.T) {
	s := sauvageSite(t)
	s.pages[sauvageURL] = fixture(t, "top_only.html")
	driver := &fakeDriver{site: s}
	r := newTestRetriever(t, driver, Deps{})

	got, err := r.Fetch(context.Background(), "Dior Sauvage", Automatic)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	want := notes.New([]string{"lemon", "mint"}, nil, nil)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got.Middle == nil || got.Base == nil {
		t.Fatalf("empty tiers must be present, got %#v", got)
	}
}

func TestFetchFailures(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		mode    Mode
		setup   func(t *testing.T, s *site, d *fakeDriver)
		cfg     func(c *Config)
		chooser Chooser
		want    Kind
		state   State
	}{
		{
			name:  "results never appear",
			query: "Dior Sauvage",
			setup: func(t *testing.T, s *site, _ *fakeDriver) {
				s.results = `<html><body><p>No perfumes found.</p></body></html>`
			},
			want:  NoResults,
			state: Searching,
		},
		{
			name:  "empty query",
			query: "   ",
			want:  NoResults,
			state: Idle,
		},
		{
			name:  "no confident match",
			query: "Creed Aventus",
			want:  NoConfidentMatch,
			state: Disambiguating,
		},
		{
			name:  "page not confirmed",
			query: "Dior Sauvage",
			setup: func(t *testing.T, s *site, _ *fakeDriver) {
				s.pages[sauvageURL] = `<html><body><p>Access denied</p></body></html>`
			},
			cfg: func(c *Config) {
				c.PageURLPattern = `/perfume/none/`
			},
			want:  PageNotConfirmed,
			state: PageLoaded,
		},
		{
			name:  "structure not found",
			query: "Dior Sauvage",
			setup: func(t *testing.T, s *site, _ *fakeDriver) {
				s.pages[sauvageURL] = fixture(t, "no_container.html")
			},
			want:  StructureNotFound,
			state: Parsing,
		},
		{
			name:  "no notes found",
			query: "Dior Sauvage",
			setup: func(t *testing.T, s *site, _ *fakeDriver) {
				s.pages[sauvageURL] = fixture(t, "empty_pyramid.html")
			},
			want:  NoNotesFound,
			state: Parsing,
		},
		{
			name:  "navigation fault",
			query: "Dior Sauvage",
			setup: func(t *testing.T, s *site, _ *fakeDriver) {
				s.navigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
			},
			want:  AutomationFault,
			state: Searching,
		},
		{
			name:  "launch fault",
			query: "Dior Sauvage",
			setup: func(t *testing.T, _ *site, d *fakeDriver) {
				d.launchErr = errors.New("chrome not found")
			},
			want:  AutomationFault,
			state: Idle,
		},
		{
			name:  "panic inside a stage",
			query: "Dior Sauvage",
			setup: func(t *testing.T, s *site, _ *fakeDriver) {
				s.panicOnHTML = true
			},
			want:  AutomationFault,
			state: Disambiguating,
		},
		{
			name:  "interactive without chooser",
			query: "Dior Sauvage",
			mode:  Interactive,
			want:  AutomationFault,
			state: Disambiguating,
		},
		{
			name:    "interactive abort",
			query:   "Dior Sauvage",
			mode:    Interactive,
			chooser: &LineChooser{In: strings.NewReader("q\n"), Out: &bytes.Buffer{}},
			want:    NoConfidentMatch,
			state:   Disambiguating,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sauvageSite(t)
			driver := &fakeDriver{site: s}
			if tt.setup != nil {
				tt.setup(t, s, driver)
			}

			cfg := &Config{}
			if tt.cfg != nil {
				tt.cfg(cfg)
			}
			m := metrics.New()
			r, err := New(cfg, &Deps{Driver: driver, Chooser: tt.chooser, Metrics: m})
			if err != nil {
				t.Fatalf("new retriever: %v", err)
			}

			got, err := r.Fetch(context.Background(), tt.query, tt.mode)
			if err == nil {
				t.Fatalf("expected failure, got %v", got)
			}

			var failure *Failure
			if !errors.As(err, &failure) {
				t.Fatalf("expected *Failure, got %T: %v", err, err)
			}
			if failure.Kind != tt.want {
				t.Fatalf("expected kind %s, got %s (%v)", tt.want, failure.Kind, err)
			}
			if failure.State != tt.state {
				t.Fatalf("expected state %s, got %s", tt.state, failure.State)
			}
			if !got.Empty() {
				t.Fatalf("expected empty notes on failure, got %v", got)
			}
			if KindOf(err) != tt.want {
				t.Fatalf("KindOf returned %s", KindOf(err))
			}

			driver.allClosed(t)

			if got := testutil.ToFloat64(m.Fetches(string(tt.want))); got != 1 {
				t.Fatalf("expected fetch metric for %s, got %v", tt.want, got)
			}
		})
	}
}

func TestFetchInteractiveReprompts(t *testing.T) {
	driver := &fakeDriver{site: sauvageSite(t)}
	out := &bytes.Buffer{}
	chooser := &LineChooser{In: strings.NewReader("abc\n9\n0\n2\n"), Out: out}
	r := newTestRetriever(t, driver, Deps{Chooser: chooser})

	got, err := r.Fetch(context.Background(), "sauvage", Interactive)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	want := notes.New(
		[]string{"tobacco leaf", "spicy notes"},
		[]string{"vanilla", "cacao", "tonka bean", "tobacco blossom"},
		[]string{"dried fruits", "woody notes"},
	)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	printed := out.String()
	if n := strings.Count(printed, "invalid choice"); n != 3 {
		t.Fatalf("expected 3 re-prompts, got %d in %q", n, printed)
	}
	for _, item := range []string{"1) Dior Sauvage", "2) Dior Sauvage Eau de Parfum", "4) Eau Sauvage Christian Dior"} {
		if !strings.Contains(printed, item) {
			t.Fatalf("expected %q in listing %q", item, printed)
		}
	}
	if strings.Count(printed, ") Dior Sauvage\n") != 1 {
		t.Fatalf("expected duplicate results to be listed once: %q", printed)
	}

	driver.allClosed(t)
}

func TestFetchLogsStateTransitions(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	driver := &fakeDriver{site: sauvageSite(t)}
	r := newTestRetriever(t, driver, Deps{Logger: zap.New(core)})

	if _, err := r.Fetch(context.Background(), "Dior Sauvage", Automatic); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	var states []string
	var ids = map[string]struct{}{}
	for _, entry := range logs.FilterMessage("retrieval state changed").All() {
		fields := entry.ContextMap()
		states = append(states, fields["to"].(string))
		ids[fields["fetch_id"].(string)] = struct{}{}
	}

	want := []string{"searching", "disambiguating", "page_loaded", "parsing"}
	if strings.Join(states, ",") != strings.Join(want, ",") {
		t.Fatalf("expected transitions %v, got %v", want, states)
	}
	if len(ids) != 1 {
		t.Fatalf("expected a single fetch id across transitions, got %v", ids)
	}
}

func TestLookupUsesCache(t *testing.T) {
	driver := &fakeDriver{site: sauvageSite(t)}
	noteCache := cache.New(cache.NewMemoryStore(), nil, nil)
	if err := noteCache.Put(context.Background(), "Dior Sauvage", sauvageNotes); err != nil {
		t.Fatalf("put: %v", err)
	}
	r := newTestRetriever(t, driver, Deps{Cache: noteCache})

	got, source, err := r.Lookup(context.Background(), "Dior Sauvage", Automatic)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if source != SourceCache {
		t.Fatalf("expected cache source, got %s", source)
	}
	if !got.Equal(sauvageNotes) {
		t.Fatalf("unexpected notes %v", got)
	}
	if n := driver.launches.Load(); n != 0 {
		t.Fatalf("expected no browser launch, got %d", n)
	}
}

func TestLookupSharesInFlightFetch(t *testing.T) {
	driver := &fakeDriver{site: sauvageSite(t), gate: make(chan struct{})}
	noteCache := cache.New(cache.NewMemoryStore(), nil, nil)
	r := newTestRetriever(t, driver, Deps{Cache: noteCache, Metrics: metrics.New()})

	const callers = 5
	var wg sync.WaitGroup
	results := make(chan notes.NoteSet, callers)
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set, _, err := r.Lookup(context.Background(), "Dior Sauvage", Automatic)
			if err != nil {
				errs <- err
				return
			}
			results <- set
		}()
	}

	// let every caller reach the in-flight fetch before the browser starts
	time.Sleep(100 * time.Millisecond)
	close(driver.gate)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("lookup: %v", err)
	}
	count := 0
	for set := range results {
		count++
		if !set.Equal(sauvageNotes) {
			t.Fatalf("unexpected notes %v", set)
		}
	}
	if count != callers {
		t.Fatalf("expected %d results, got %d", callers, count)
	}
	if n := driver.launches.Load(); n != 1 {
		t.Fatalf("expected exactly one browser launch, got %d", n)
	}
	driver.allClosed(t)
}

func TestLookupCancelledCallerDoesNotFailSharers(t *testing.T) {
	driver := &fakeDriver{site: sauvageSite(t), gate: make(chan struct{})}
	r := newTestRetriever(t, driver, Deps{Cache: cache.New(cache.NewMemoryStore(), nil, nil)})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := r.Lookup(firstCtx, "Dior Sauvage", Automatic)
		firstErr <- err
	}()

	type result struct {
		set notes.NoteSet
		err error
	}
	second := make(chan result, 1)
	go func() {
		set, _, err := r.Lookup(context.Background(), "Dior Sauvage", Automatic)
		second <- result{set: set, err: err}
	}()

	// both callers are parked on the same in-flight fetch
	time.Sleep(100 * time.Millisecond)
	cancelFirst()

	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) || KindOf(err) != AutomationFault {
			t.Fatalf("expected cancelled caller to get an automation fault, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting for the shared fetch")
	}

	close(driver.gate)

	res := <-second
	if res.err != nil {
		t.Fatalf("second caller: %v", res.err)
	}
	if !res.set.Equal(sauvageNotes) {
		t.Fatalf("unexpected notes %v", res.set)
	}
	if n := driver.launches.Load(); n != 1 {
		t.Fatalf("expected exactly one browser launch, got %d", n)
	}
	driver.allClosed(t)
}

func TestNewRequiresDriver(t *testing.T) {
	if _, err := New(nil, &Deps{}); err == nil {
		t.Fatalf("expected error without driver")
	}
	if _, err := New(&Config{PageURLPattern: "("}, &Deps{Driver: &fakeDriver{}}); err == nil {
		t.Fatalf("expected error for invalid url pattern")
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	if c.AutoAcceptScore != DefaultAutoAcceptScore || c.MaxCandidates != DefaultMaxCandidates {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.MinInterval != 0 {
		t.Fatalf("zero min interval must disable pacing, got %v", c.MinInterval)
	}
	if c.SearchURL != DefaultSearchURL {
		t.Fatalf("unexpected search url %q", c.SearchURL)
	}
}
