// Package retriever fetches perfume note pyramids from the catalog site by
// driving a browser through search, disambiguation, confirmation and parsing.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/spigell/scentmatch/internal/cache"
	"github.com/spigell/scentmatch/internal/metrics"
	"github.com/spigell/scentmatch/internal/notes"
)

// Mode selects how search results are disambiguated.
type Mode int

const (
	Automatic Mode = iota
	Interactive
)

func (m Mode) String() string {
	if m == Interactive {
		return "interactive"
	}
	return "automatic"
}

// State is a stage of the fetch workflow.
type State string

const (
	Idle           State = "idle"
	Searching      State = "searching"
	Disambiguating State = "disambiguating"
	PageLoaded     State = "page_loaded"
	Parsing        State = "parsing"
)

// Source tells where Lookup found a note set.
type Source string

const (
	SourceCache Source = "cache"
	SourceLive  Source = "live"
)

const (
	DefaultSearchURL       = "https://www.fragrantica.com/search/"
	DefaultAutoAcceptScore = 85
	DefaultMaxCandidates   = 10
	DefaultMinInterval     = 2 * time.Second
	defaultStageTimeout    = 15 * time.Second
	defaultConfirmTimeout  = 10 * time.Second
	launchTimeout          = 30 * time.Second
)

type Config struct {
	SearchURL           string        `mapstructure:"search-url"`
	SearchInputSelector string        `mapstructure:"search-input"`
	SubmitSelector      string        `mapstructure:"submit-button"`
	ResultsSelector     string        `mapstructure:"results"`
	PageURLPattern      string        `mapstructure:"page-url-pattern"`
	PrimaryMarker       string        `mapstructure:"primary-marker"`
	SecondaryMarker     string        `mapstructure:"secondary-marker"`
	AutoAcceptScore     int           `mapstructure:"auto-accept-score"`
	MaxCandidates       int           `mapstructure:"max-candidates"`
	MinInterval         time.Duration `mapstructure:"min-interval"`
	SearchTimeout       time.Duration `mapstructure:"search-timeout"`
	ResultsTimeout      time.Duration `mapstructure:"results-timeout"`
	ConfirmTimeout      time.Duration `mapstructure:"confirm-timeout"`
}

// DefaultConfig returns settings for the public Fragrantica site.
func DefaultConfig() Config {
	return Config{
		SearchURL:           DefaultSearchURL,
		SearchInputSelector: `input[type="search"]`,
		ResultsSelector:     `a[href*="/perfume/"]`,
		PageURLPattern:      `/perfume/[^/]+/[^/]+-\d+\.html`,
		PrimaryMarker:       "#pyramid",
		SecondaryMarker:     `div[itemprop="description"]`,
		AutoAcceptScore:     DefaultAutoAcceptScore,
		MaxCandidates:       DefaultMaxCandidates,
		MinInterval:         DefaultMinInterval,
		SearchTimeout:       defaultStageTimeout,
		ResultsTimeout:      defaultStageTimeout,
		ConfirmTimeout:      defaultConfirmTimeout,
	}
}

// withDefaults fills zero values. MinInterval is kept as given so zero
// disables pacing.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SearchURL == "" {
		c.SearchURL = d.SearchURL
	}
	if c.SearchInputSelector == "" {
		c.SearchInputSelector = d.SearchInputSelector
	}
	if c.ResultsSelector == "" {
		c.ResultsSelector = d.ResultsSelector
	}
	if c.PageURLPattern == "" {
		c.PageURLPattern = d.PageURLPattern
	}
	if c.PrimaryMarker == "" {
		c.PrimaryMarker = d.PrimaryMarker
	}
	if c.SecondaryMarker == "" {
		c.SecondaryMarker = d.SecondaryMarker
	}
	if c.AutoAcceptScore <= 0 {
		c.AutoAcceptScore = d.AutoAcceptScore
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = d.MaxCandidates
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = d.SearchTimeout
	}
	if c.ResultsTimeout <= 0 {
		c.ResultsTimeout = d.ResultsTimeout
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = d.ConfirmTimeout
	}
	return c
}

type Deps struct {
	Driver  Driver
	Cache   *cache.NoteCache
	Chooser Chooser
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type Retriever struct {
	cfg         Config
	pagePattern *regexp.Regexp

	driver  Driver
	cache   *cache.NoteCache
	chooser Chooser
	logger  *zap.Logger
	metrics *metrics.Metrics

	limiter *rate.Limiter
	group   singleflight.Group
}

func New(cfg *Config, deps *Deps) (*Retriever, error) {
	if deps == nil || deps.Driver == nil {
		return nil, errors.New("browser driver is required")
	}

	c := DefaultConfig()
	if cfg != nil {
		c = cfg.withDefaults()
	}

	var pattern *regexp.Regexp
	if c.PageURLPattern != "" {
		var err error
		if pattern, err = regexp.Compile(c.PageURLPattern); err != nil {
			return nil, fmt.Errorf("compile page url pattern: %w", err)
		}
	}

	limit := rate.Inf
	if c.MinInterval > 0 {
		limit = rate.Every(c.MinInterval)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retriever{
		cfg:         c,
		pagePattern: pattern,
		driver:      deps.Driver,
		cache:       deps.Cache,
		chooser:     deps.Chooser,
		logger:      logger,
		metrics:     deps.Metrics,
		limiter:     rate.NewLimiter(limit, 1),
	}, nil
}

// Lookup returns the cached note set for name, fetching it live on a miss.
// Concurrent lookups of the same name share one fetch.
func (r *Retriever) Lookup(ctx context.Context, name string, mode Mode) (notes.NoteSet, Source, error) {
	if r.cache != nil {
		set, ok, err := r.cache.Get(ctx, name)
		if err != nil {
			r.logger.Warn("note cache lookup failed", zap.String("name", name), zap.Error(err))
		}
		if ok {
			return set, SourceCache, nil
		}
	}

	// The fetch outlives any one caller; each caller stops waiting on its own ctx.
	ch := r.group.DoChan(cache.Key(name), func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		if mode == Automatic {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, r.fetchTimeout())
			defer cancel()
		}
		return r.Fetch(fetchCtx, name, mode)
	})

	select {
	case <-ctx.Done():
		return notes.NoteSet{}, SourceLive, &Failure{Kind: AutomationFault, State: Idle, Err: ctx.Err()}
	case res := <-ch:
		if res.Shared {
			r.metrics.SharedFetch()
		}
		if res.Err != nil {
			return notes.NoteSet{}, SourceLive, res.Err
		}
		return res.Val.(notes.NoteSet), SourceLive, nil
	}
}

// fetchTimeout bounds an automatic fetch that no caller can cancel.
func (r *Retriever) fetchTimeout() time.Duration {
	return r.cfg.MinInterval + launchTimeout + r.cfg.SearchTimeout + r.cfg.ResultsTimeout + 2*r.cfg.ConfirmTimeout
}

type fetch struct {
	id     string
	query  string
	mode   Mode
	state  State
	logger *zap.Logger
}

func (f *fetch) enter(s State) {
	f.logger.Debug("retrieval state changed", zap.String("from", string(f.state)), zap.String("to", string(s)))
	f.state = s
}

func (f *fetch) fail(kind Kind, err error) *Failure {
	return &Failure{Kind: kind, State: f.state, Err: err}
}

// waitFailure maps a failed wait to kind when it timed out and to
// AutomationFault otherwise.
func (f *fetch) waitFailure(kind Kind, err error) *Failure {
	if errors.Is(err, ErrWaitTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return f.fail(kind, err)
	}
	return f.fail(AutomationFault, err)
}

// Fetch runs the full retrieval workflow for query. Every error returned is a
// *Failure. The browser session is closed on every path.
func (r *Retriever) Fetch(ctx context.Context, query string, mode Mode) (set notes.NoteSet, err error) {
	f := &fetch{
		id:    uuid.NewString(),
		query: strings.TrimSpace(query),
		mode:  mode,
		state: Idle,
	}
	f.logger = r.logger.With(
		zap.String("fetch_id", f.id),
		zap.String("query", f.query),
		zap.Stringer("mode", mode),
	)

	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = string(KindOf(err))
		}
		r.metrics.Fetch(outcome, time.Since(start).Seconds())
	}()

	if f.query == "" {
		return notes.NoteSet{}, f.fail(NoResults, errors.New("query is empty"))
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return notes.NoteSet{}, f.fail(AutomationFault, fmt.Errorf("waiting for rate limiter: %w", err))
	}

	session, err := r.driver.Launch(ctx)
	if err != nil {
		return notes.NoteSet{}, f.fail(AutomationFault, fmt.Errorf("launch browser: %w", err))
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			f.logger.Warn("closing browser session", zap.Error(cerr))
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			err = f.fail(AutomationFault, fmt.Errorf("panic: %v", p))
			set = notes.NoteSet{}
		}
	}()

	set, err = r.run(ctx, f, session)
	if err != nil {
		f.logger.Info("retrieval failed", zap.String("state", string(f.state)), zap.Error(err))
		return notes.NoteSet{}, err
	}

	f.logger.Info("retrieved notes",
		zap.Int("top", len(set.Top)),
		zap.Int("middle", len(set.Middle)),
		zap.Int("base", len(set.Base)),
		zap.Duration("took", time.Since(start)),
	)

	if r.cache != nil {
		if perr := r.cache.Put(ctx, f.query, set); perr != nil {
			f.logger.Warn("caching retrieved notes", zap.Error(perr))
		}
	}

	return set, nil
}

func (r *Retriever) run(ctx context.Context, f *fetch, session Session) (notes.NoteSet, error) {
	if err := r.search(ctx, f, session); err != nil {
		return notes.NoteSet{}, err
	}

	target, err := r.disambiguate(ctx, f, session)
	if err != nil {
		return notes.NoteSet{}, err
	}

	if err := r.loadPage(ctx, f, session, target); err != nil {
		return notes.NoteSet{}, err
	}

	return r.parse(ctx, f, session)
}

func (r *Retriever) search(ctx context.Context, f *fetch, session Session) error {
	f.enter(Searching)

	if err := session.Navigate(ctx, r.cfg.SearchURL); err != nil {
		return f.fail(AutomationFault, fmt.Errorf("open search page: %w", err))
	}
	input := Condition{Selector: r.cfg.SearchInputSelector}
	if err := session.WaitFor(ctx, input, r.cfg.SearchTimeout); err != nil {
		return f.waitFailure(NoResults, err)
	}
	if err := session.SendKeys(ctx, r.cfg.SearchInputSelector, f.query); err != nil {
		return f.fail(AutomationFault, fmt.Errorf("type query: %w", err))
	}

	if r.cfg.SubmitSelector != "" {
		if err := session.Click(ctx, r.cfg.SubmitSelector); err != nil {
			return f.fail(AutomationFault, fmt.Errorf("submit search: %w", err))
		}
	} else if err := session.SendKeys(ctx, r.cfg.SearchInputSelector, KeyEnter); err != nil {
		return f.fail(AutomationFault, fmt.Errorf("submit search: %w", err))
	}

	results := Condition{Selector: r.cfg.ResultsSelector}
	if err := session.WaitFor(ctx, results, r.cfg.ResultsTimeout); err != nil {
		return f.waitFailure(NoResults, err)
	}

	return nil
}

func (r *Retriever) disambiguate(ctx context.Context, f *fetch, session Session) (string, error) {
	f.enter(Disambiguating)

	markup, err := session.HTML(ctx)
	if err != nil {
		return "", f.fail(AutomationFault, fmt.Errorf("read results: %w", err))
	}
	doc, err := parseDocument(markup)
	if err != nil {
		return "", f.fail(AutomationFault, err)
	}

	var base *url.URL
	if loc, err := session.Location(ctx); err == nil {
		base, _ = url.Parse(loc)
	}
	if base == nil {
		base, _ = url.Parse(r.cfg.SearchURL)
	}

	candidates := collectCandidates(doc, r.cfg.ResultsSelector, base, r.cfg.MaxCandidates)
	if len(candidates) == 0 {
		return "", f.fail(NoResults, errors.New("search returned no candidates"))
	}
	f.logger.Debug("collected candidates", zap.Int("count", len(candidates)))

	switch f.mode {
	case Interactive:
		if r.chooser == nil {
			return "", f.fail(AutomationFault, errors.New("interactive mode requires a chooser"))
		}
		idx, err := r.chooser.Choose(ctx, f.query, candidates)
		if errors.Is(err, ErrChoiceAborted) {
			return "", f.fail(NoConfidentMatch, err)
		}
		if err != nil {
			return "", f.fail(AutomationFault, fmt.Errorf("choose candidate: %w", err))
		}
		if idx < 0 || idx >= len(candidates) {
			return "", f.fail(AutomationFault, fmt.Errorf("chooser returned index %d out of range", idx))
		}
		f.logger.Debug("candidate chosen", zap.String("candidate", candidates[idx].DisplayText))
		return candidates[idx].Target, nil
	default:
		idx, score := bestCandidate(f.query, candidates)
		if score < r.cfg.AutoAcceptScore {
			return "", f.fail(NoConfidentMatch, fmt.Errorf("best candidate %q scored %d, need %d",
				candidates[idx].DisplayText, score, r.cfg.AutoAcceptScore))
		}
		f.logger.Debug("candidate accepted",
			zap.String("candidate", candidates[idx].DisplayText),
			zap.Int("score", score),
		)
		return candidates[idx].Target, nil
	}
}

func (r *Retriever) loadPage(ctx context.Context, f *fetch, session Session, target string) error {
	f.enter(PageLoaded)

	if err := session.Navigate(ctx, target); err != nil {
		return f.fail(AutomationFault, fmt.Errorf("open %s: %w", target, err))
	}

	strategy, err := r.confirmPage(ctx, session, r.cfg.ConfirmTimeout, f.logger)
	if err != nil {
		if ctx.Err() != nil {
			return f.fail(AutomationFault, err)
		}
		return f.fail(PageNotConfirmed, err)
	}
	f.logger.Debug("page confirmed", zap.String("strategy", strategy), zap.String("url", target))

	return nil
}

func (r *Retriever) parse(ctx context.Context, f *fetch, session Session) (notes.NoteSet, error) {
	f.enter(Parsing)

	markup, err := session.HTML(ctx)
	if err != nil {
		return notes.NoteSet{}, f.fail(AutomationFault, fmt.Errorf("read page: %w", err))
	}
	doc, err := parseDocument(markup)
	if err != nil {
		return notes.NoteSet{}, f.fail(AutomationFault, err)
	}

	container, strategy, err := locateContainer(doc)
	if err != nil {
		return notes.NoteSet{}, f.fail(StructureNotFound, err)
	}
	f.logger.Debug("notes container located", zap.String("strategy", strategy))

	set, err := extractNotes(container)
	if err != nil {
		return notes.NoteSet{}, f.fail(NoNotesFound, err)
	}

	return set, nil
}
