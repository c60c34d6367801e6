package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/scentmatch/internal/articles"
	"github.com/spigell/scentmatch/internal/assistant/gemini"
	"github.com/spigell/scentmatch/internal/cache"
	"github.com/spigell/scentmatch/internal/catalog"
	"github.com/spigell/scentmatch/internal/logger"
	"github.com/spigell/scentmatch/internal/metrics"
	"github.com/spigell/scentmatch/internal/resolver"
	"github.com/spigell/scentmatch/internal/retriever"
	"github.com/spigell/scentmatch/internal/secrets"
)

// env holds what every command builds before doing its work.
type env struct {
	config  *Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	closers []func() error
}

func setup() *env {
	logger, err := logger.New(logger.Options{
		JSON:  viper.GetBool("json"),
		Debug: viper.GetBool("debug"),
		Level: viper.GetString("log-level"),
		File:  viper.GetString("log-file"),
	})
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Debug("starting scentmatch", zap.String("version", version))

	return &env{config: config, logger: logger, metrics: metrics.New()}
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Warn("closing resource", zap.Error(err))
		}
	}
	e.logger.Sync()
}

func (e *env) newResolver() (*resolver.Resolver, error) {
	names := catalog.Default()
	if path := strings.TrimSpace(e.config.CatalogFile); path != "" {
		loaded, err := catalog.Load(path)
		if err != nil {
			return nil, err
		}
		names = loaded
	}

	return resolver.New(names, e.config.Resolver.Threshold, logger.WithComponent(e.logger, "resolver")), nil
}

func (e *env) openCache() (*cache.NoteCache, error) {
	cfg := e.config.Cache

	var (
		store cache.Store
		err   error
	)
	switch cfg.Backend {
	case "memory":
		store = cache.NewMemoryStore()
	case "sqlite":
		if err := ensureParent(cfg.Path); err != nil {
			return nil, err
		}
		store, err = cache.OpenSQLite(cfg.Path)
	default:
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
		store, err = cache.OpenBadger(cfg.Path)
	}
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, store.Close)

	e.logger.Debug("opened note cache", zap.String("backend", cfg.Backend), zap.String("path", cfg.Path))

	return cache.New(store, logger.WithComponent(e.logger, "cache"), e.metrics), nil
}

func (e *env) newRetriever(nc *cache.NoteCache, chooser retriever.Chooser) (*retriever.Retriever, error) {
	cfg := e.config.Retriever

	driver := &retriever.ChromeDriver{
		Headless:  cfg.Headless,
		ExecPath:  cfg.ExecPath,
		UserAgent: cfg.UserAgent,
	}

	return retriever.New(&cfg.Config, &retriever.Deps{
		Driver:  driver,
		Cache:   nc,
		Chooser: chooser,
		Logger:  logger.WithComponent(e.logger, "retriever"),
		Metrics: e.metrics,
	})
}

func (e *env) newGenerator(ctx context.Context) (*gemini.Generator, error) {
	cfg := e.config.AI.Gemini

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.APIKey,
		File:  cfg.APIKeyFile,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	return gemini.NewGenerator(ctx, e.logger, apiKey, cfg.Model, cfg.MaxRetries, cfg.MaxLogLength)
}

// newArticleFinder returns nil when article search is disabled.
func (e *env) newArticleFinder(ctx context.Context) (*articles.Finder, error) {
	cfg := e.config.Articles
	if !cfg.Enabled {
		return nil, nil
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "google api key",
		Value: cfg.APIKey,
		File:  cfg.APIKeyFile,
		Env:   "GOOGLE_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set articles.api-key-file or GOOGLE_API_KEY)", err)
	}

	log := logger.WithComponent(e.logger, "articles")

	searcher, err := articles.NewGoogleSearcher(ctx, log, apiKey, cfg.EngineID)
	if err != nil {
		return nil, err
	}

	var store *articles.Store
	if cfg.DB != "" {
		if err := ensureParent(cfg.DB); err != nil {
			return nil, err
		}
		if store, err = articles.OpenStore(cfg.DB); err != nil {
			return nil, err
		}
		e.closers = append(e.closers, store.Close)
	}

	return articles.NewFinder(searcher, store, cfg.Results, log), nil
}

func ensureParent(path string) error {
	if path == "" || strings.HasPrefix(path, ":memory:") || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %q: %w", dir, err)
	}
	return nil
}

var errNoNames = errors.New("no known perfume names found")

// canonicalName maps free text to a catalog name when one matches, and keeps
// the text otherwise so uncatalogued perfumes can still be looked up.
func canonicalName(r *resolver.Resolver, text string) string {
	if names := r.Resolve(text); len(names) > 0 {
		return names[0]
	}
	return strings.TrimSpace(text)
}
