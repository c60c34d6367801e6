// Package cache stores retrieved note sets keyed by canonical perfume name.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/scentmatch/internal/metrics"
	"github.com/spigell/scentmatch/internal/notes"
)

// Record is a cached note set together with the time it was retrieved.
type Record struct {
	Name        string        `json:"name"`
	Notes       notes.NoteSet `json:"notes"`
	RetrievedAt time.Time     `json:"retrieved_at"`
}

// NoteCache reads and writes note sets through a Store. Records that do not
// carry all three tiers are reported as absent so callers retrieve them again.
type NoteCache struct {
	store   Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(store Store, logger *zap.Logger, m *metrics.Metrics) *NoteCache {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NoteCache{
		store:   store,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Get returns the cached note set for name. ok is false when nothing usable is cached.
func (c *NoteCache) Get(ctx context.Context, name string) (notes.NoteSet, bool, error) {
	rec, ok, err := c.Record(ctx, name)
	if err != nil || !ok {
		return notes.NoteSet{}, false, err
	}
	return rec.Notes, true, nil
}

// Record returns the full cached record for name.
func (c *NoteCache) Record(ctx context.Context, name string) (*Record, bool, error) {
	key := Key(name)
	if key == "" {
		return nil, false, errors.New("perfume name is required")
	}

	raw, err := c.store.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		c.metrics.CacheLookup(metrics.CacheMiss)
		return nil, false, nil
	}
	if err != nil {
		c.metrics.CacheLookup(metrics.CacheError)
		return nil, false, fmt.Errorf("loading cached notes for %q: %w", name, err)
	}

	rec, err := decodeRecord(raw)
	if err != nil {
		c.metrics.CacheLookup(metrics.CacheStale)
		c.logger.Debug("ignoring stale cache record", zap.String("name", name), zap.Error(err))
		return nil, false, nil
	}
	if rec.Name == "" {
		rec.Name = name
	}

	c.metrics.CacheLookup(metrics.CacheHit)
	return rec, true, nil
}

// Put stores set under name, replacing any previous record.
func (c *NoteCache) Put(ctx context.Context, name string, set notes.NoteSet) error {
	key := Key(name)
	if key == "" {
		return errors.New("perfume name is required")
	}

	rec := Record{
		Name:        strings.TrimSpace(name),
		Notes:       notes.FromMap(set.Map()),
		RetrievedAt: c.now().UTC(),
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding notes for %q: %w", name, err)
	}

	if err := c.store.Save(ctx, key, raw); err != nil {
		return fmt.Errorf("saving notes for %q: %w", name, err)
	}

	c.logger.Debug("cached notes", zap.String("name", rec.Name), zap.Int("notes", rec.Notes.Len()))
	return nil
}

var errIncomplete = errors.New("record does not carry all note tiers")

// decodeRecord accepts the current envelope and bare tier mappings written by
// earlier versions.
func decodeRecord(raw []byte) (*Record, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	tiers := doc
	rec := &Record{}
	if envelope, ok := doc["notes"].(map[string]any); ok {
		tiers = envelope
		var meta struct {
			Name        string    `json:"name"`
			RetrievedAt time.Time `json:"retrieved_at"`
		}
		if err := json.Unmarshal(raw, &meta); err == nil {
			rec.Name = meta.Name
			rec.RetrievedAt = meta.RetrievedAt
		}
	}

	for _, tier := range notes.Tiers {
		if v, ok := tiers[string(tier)]; !ok || v == nil {
			return nil, fmt.Errorf("%w: %s is missing", errIncomplete, tier)
		}
	}

	var decoded map[string][]string
	cfg := &mapstructure.DecoderConfig{
		Result:           &decoded,
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(tiers); err != nil {
		return nil, err
	}

	rec.Notes = notes.FromMap(decoded)
	return rec, nil
}
