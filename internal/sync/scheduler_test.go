package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/osumirror/mirror/internal/model"
	"github.com/osumirror/mirror/internal/upstream"
)

type fakeStore struct {
	mu      sync.Mutex
	saved   []model.Beatmapset
	cursors map[string]model.SyncCursor
}

func newFakeStore() *fakeStore {
	return &fakeStore{cursors: make(map[string]model.SyncCursor)}
}

func (f *fakeStore) SaveSet(ctx context.Context, s model.Beatmapset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, s)
	return nil
}

func (f *fakeStore) LoadCursor(ctx context.Context, workerID string) (model.SyncCursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursors[workerID], nil
}

func (f *fakeStore) SaveCursor(ctx context.Context, c model.SyncCursor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors[c.WorkerID] = c
	return nil
}

type fakeSearcher struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSearcher) Search(ctx context.Context, query, cursor string) (upstream.SearchResult, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return upstream.SearchResult{
		Sets:       []model.Beatmapset{{ID: int64(n), Status: "ranked"}},
		NextCursor: "cursor-2",
	}, nil
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRunCycle_SavesSetsAndCursor(t *testing.T) {
	store := newFakeStore()
	searcher := &fakeSearcher{}
	s := &Scheduler{store: store, upstream: searcher}

	w := workerSpec{id: "ranked_sync", query: "status=ranked", interval: time.Second}
	if err := s.runCycle(context.Background(), w); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	if len(store.saved) != 1 {
		t.Fatalf("expected 1 saved set, got %d", len(store.saved))
	}
	cursor := store.cursors["ranked_sync"]
	if cursor.Cursor != "cursor-2" {
		t.Fatalf("cursor not persisted: %+v", cursor)
	}
}

func TestNew_BuildsSevenWorkers(t *testing.T) {
	s := New(newFakeStore(), &fakeSearcher{}, 30*time.Second)
	if len(s.workers) != 7 {
		t.Fatalf("expected 7 workers, got %d", len(s.workers))
	}
	want := map[string]time.Duration{
		"ranked_sync":           30 * time.Second,
		"loved_sync":            60 * time.Second,
		"qualified_sync":        30 * time.Second,
		"pending_sync":          60 * time.Second,
		"graveyard_sync":        90 * time.Second,
		"any_updated_desc_sync": 30 * time.Second,
		"any_updated_asc_sync":  90 * time.Second,
	}
	for _, w := range s.workers {
		if want[w.id] != w.interval {
			t.Errorf("worker %s interval = %v, want %v", w.id, w.interval, want[w.id])
		}
	}
}

func TestRunWorker_SkipsFirstTwoTicks(t *testing.T) {
	store := newFakeStore()
	searcher := &fakeSearcher{}
	s := &Scheduler{store: store, upstream: searcher}

	w := workerSpec{id: "test_sync", query: "q", interval: 5 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 24*time.Millisecond)
	defer cancel()

	s.runWorker(ctx, w)

	// At ~24ms with a 5ms tick: ticks at 5(skip),10(skip),15,20 -> roughly 2
	// cycles after the 2 skipped ticks, where running every tick would give 4.
	// Timing-based tests are inherently approximate, so the bounds are loose.
	n := searcher.callCount()
	if n == 0 {
		t.Fatalf("expected at least one sync cycle to run after the skipped ticks")
	}
	if n >= 4 {
		t.Fatalf("got %d sync cycles, want fewer than 4 (the first two ticks must be skipped)", n)
	}
}
