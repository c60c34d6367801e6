package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/spigell/scentmatch/internal/metrics"
	"github.com/spigell/scentmatch/internal/notes"
)

var sauvage = notes.New(
	[]string{"Bergamot", "Pepper"},
	[]string{"Sichuan Pepper", "Geranium"},
	[]string{"Ambroxan", "Cedar"},
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	b, err := OpenBadger("")
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"badger": b,
		"sqlite": s,
	}
	t.Cleanup(func() {
		for _, store := range stores {
			store.Close()
		}
	})

	return stores
}

func TestPutThenGet(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			c := New(store, nil, nil)
			fixed := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
			c.now = func() time.Time { return fixed }

			if err := c.Put(ctx, "Dior Sauvage", sauvage); err != nil {
				t.Fatalf("put: %v", err)
			}

			got, ok, err := c.Get(ctx, "dior  sauvage")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if !ok {
				t.Fatalf("expected cache hit")
			}
			if !got.Equal(sauvage) {
				t.Fatalf("expected %v, got %v", sauvage, got)
			}

			rec, ok, err := c.Record(ctx, "Dior Sauvage")
			if err != nil || !ok {
				t.Fatalf("expected record, got ok=%v err=%v", ok, err)
			}
			if !rec.RetrievedAt.Equal(fixed) {
				t.Fatalf("unexpected retrieval time: %v", rec.RetrievedAt)
			}
			if rec.Name != "Dior Sauvage" {
				t.Fatalf("unexpected name: %q", rec.Name)
			}
		})
	}
}

func TestPutOverwrites(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			c := New(store, nil, nil)
			if err := c.Put(ctx, "Creed Aventus", notes.New([]string{"Pineapple"}, nil, nil)); err != nil {
				t.Fatalf("put: %v", err)
			}
			updated := notes.New([]string{"Pineapple", "Bergamot"}, []string{"Birch"}, []string{"Musk"})
			if err := c.Put(ctx, "Creed Aventus", updated); err != nil {
				t.Fatalf("put: %v", err)
			}

			got, ok, err := c.Get(ctx, "Creed Aventus")
			if err != nil || !ok {
				t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
			}
			if !got.Equal(updated) {
				t.Fatalf("expected %v, got %v", updated, got)
			}
		})
	}
}

func TestGetMissing(t *testing.T) {
	m := metrics.New()
	c := New(NewMemoryStore(), nil, m)

	_, ok, err := c.Get(context.Background(), "Unknown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected miss")
	}
	if got := testutil.ToFloat64(m.CacheLookups(metrics.CacheMiss)); got != 1 {
		t.Fatalf("expected one miss, got %v", got)
	}
}

func TestIncompleteRecordsAreAbsent(t *testing.T) {
	ctx := context.Background()

	records := map[string]string{
		"envelope without base": `{"name":"Dior Sauvage","notes":{"top":["bergamot"],"middle":[]}}`,
		"legacy without base":   `{"top":["bergamot"],"middle":["geranium"]}`,
		"null tier":             `{"notes":{"top":["bergamot"],"middle":[],"base":null}}`,
		"empty object":          `{}`,
		"not json":              `top=bergamot`,
	}

	for name, raw := range records {
		t.Run(name, func(t *testing.T) {
			store := NewMemoryStore()
			if err := store.Save(ctx, Key("Dior Sauvage"), []byte(raw)); err != nil {
				t.Fatalf("save: %v", err)
			}

			m := metrics.New()
			c := New(store, nil, m)
			_, ok, err := c.Get(ctx, "Dior Sauvage")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok {
				t.Fatalf("expected stale record to be treated as absent")
			}
			if got := testutil.ToFloat64(m.CacheLookups(metrics.CacheStale)); got != 1 {
				t.Fatalf("expected one stale lookup, got %v", got)
			}
		})
	}
}

func TestLegacyRecordWithAllTiers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	raw := `{"top":["Bergamot","Pepper"],"middle":["Sichuan Pepper","Geranium"],"base":["Ambroxan","Cedar"]}`
	if err := store.Save(ctx, Key("Dior Sauvage"), []byte(raw)); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := New(store, nil, nil).Get(ctx, "Dior Sauvage")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if !got.Equal(sauvage) {
		t.Fatalf("expected %v, got %v", sauvage, got)
	}
}

func TestEmptyTiersAreValid(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), nil, nil)

	onlyTop := notes.New([]string{"Mint"}, nil, nil)
	if err := c.Put(ctx, "Mint Splash", onlyTop); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := c.Get(ctx, "Mint Splash")
	if err != nil || !ok {
		t.Fatalf("expected record with empty tiers to be a hit, got ok=%v err=%v", ok, err)
	}
	if len(got.Middle) != 0 || len(got.Base) != 0 {
		t.Fatalf("expected empty middle and base, got %v", got)
	}
}

type failingStore struct{ err error }

func (f failingStore) Load(context.Context, string) ([]byte, error) { return nil, f.err }
func (f failingStore) Save(context.Context, string, []byte) error   { return f.err }
func (f failingStore) Close() error                                 { return nil }

func TestStoreErrorsAreSurfaced(t *testing.T) {
	boom := errors.New("disk on fire")
	c := New(failingStore{err: boom}, nil, nil)

	if _, _, err := c.Get(context.Background(), "Dior Sauvage"); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if err := c.Put(context.Background(), "Dior Sauvage", sauvage); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestEmptyName(t *testing.T) {
	c := New(NewMemoryStore(), nil, nil)
	if _, _, err := c.Get(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if err := c.Put(context.Background(), "", sauvage); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestConcurrentReadersNeverSeePartialRecords(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), nil, nil)
	a := notes.New([]string{"lemon"}, []string{"rose"}, []string{"musk"})
	b := notes.New([]string{"orange"}, []string{"lily"}, []string{"vanilla"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			set := a
			if i%2 == 0 {
				set = b
			}
			if err := c.Put(ctx, "Alternating", set); err != nil {
				t.Errorf("put: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			got, ok, err := c.Get(ctx, "Alternating")
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			if ok && !got.Equal(a) && !got.Equal(b) {
				t.Errorf("observed partial record: %v", got)
			}
		}()
	}
	wg.Wait()
}
