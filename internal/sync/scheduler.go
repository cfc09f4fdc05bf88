// Package sync runs the background catalog crawl: one goroutine per
// status/sort slice of the upstream catalog, each resuming from its own
// persisted cursor. Grounded in internal/sdtprobe/worker.go's
// ticker-plus-select worker-loop idiom, generalized from a single probing
// worker to N independently-scheduled named workers sharing one upstream
// client and rate budget.
package sync

import (
	"context"
	"log"
	"time"

	"github.com/osumirror/mirror/internal/metrics"
	"github.com/osumirror/mirror/internal/model"
	"github.com/osumirror/mirror/internal/upstream"
)

// Store is the subset of the metadata gateway the scheduler needs.
type Store interface {
	SaveSet(ctx context.Context, s model.Beatmapset) error
	LoadCursor(ctx context.Context, workerID string) (model.SyncCursor, error)
	SaveCursor(ctx context.Context, c model.SyncCursor) error
}

// Searcher is the subset of the upstream client the scheduler needs.
type Searcher interface {
	Search(ctx context.Context, query, cursor string) (upstream.SearchResult, error)
}

type workerSpec struct {
	id       string
	query    string
	interval time.Duration
}

// Scheduler owns the set of named sync workers and the shared dependencies
// they crawl with.
type Scheduler struct {
	store    Store
	upstream Searcher
	workers  []workerSpec
}

// New builds a Scheduler with the spec's fixed worker roster, parameterized
// by a base interval T (crawler.sync_interval_seconds, default 300s).
func New(store Store, upstream Searcher, baseInterval time.Duration) *Scheduler {
	return &Scheduler{
		store:    store,
		upstream: upstream,
		workers: []workerSpec{
			{id: "ranked_sync", query: "status=ranked", interval: baseInterval},
			{id: "loved_sync", query: "status=loved", interval: 2 * baseInterval},
			{id: "qualified_sync", query: "status=qualified", interval: baseInterval},
			{id: "pending_sync", query: "status=pending", interval: 2 * baseInterval},
			{id: "graveyard_sync", query: "status=graveyard&sort=updated_asc", interval: 3 * baseInterval},
			{id: "any_updated_desc_sync", query: "sort=updated_desc", interval: 30 * time.Second},
			{id: "any_updated_asc_sync", query: "sort=updated_asc", interval: 3 * baseInterval},
		},
	}
}

// Run starts every worker as its own goroutine and blocks until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("sync: starting %d workers", len(s.workers))
	done := make(chan struct{}, len(s.workers))
	for _, w := range s.workers {
		go func(w workerSpec) {
			s.runWorker(ctx, w)
			done <- struct{}{}
		}(w)
	}
	for range s.workers {
		<-done
	}
}

// runWorker ticks at w.interval, skipping the first two ticks (staggered
// startup so every worker doesn't hit the upstream API in the same instant),
// then runs one sync cycle per subsequent tick until ctx is cancelled.
func (s *Scheduler) runWorker(ctx context.Context, w workerSpec) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for skipped := 0; skipped < 2; skipped++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.runCycle(ctx, w); err != nil {
				log.Printf("sync: cycle failed: id=%s query=%s error=%v", w.id, w.query, err)
				metrics.SyncCycles.WithLabelValues(w.id, "error").Inc()
			} else {
				log.Printf("sync: cycle completed: id=%s query=%s", w.id, w.query)
				metrics.SyncCycles.WithLabelValues(w.id, "ok").Inc()
			}
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context, w workerSpec) error {
	cursor, err := s.store.LoadCursor(ctx, w.id)
	if err != nil {
		return err
	}

	result, err := s.upstream.Search(ctx, w.query, cursor.Cursor)
	if err != nil {
		return err
	}

	log.Printf("sync: id=%s fetched %d sets", w.id, len(result.Sets))
	for _, set := range result.Sets {
		if err := s.store.SaveSet(ctx, set); err != nil {
			log.Printf("sync: id=%s failed to save set %d: %v", w.id, set.ID, err)
			continue
		}
		metrics.SyncSetsSaved.WithLabelValues(w.id).Inc()
	}

	return s.store.SaveCursor(ctx, model.SyncCursor{
		WorkerID: w.id,
		Cursor:   result.NextCursor,
		LastSync: time.Now().UTC(),
	})
}
