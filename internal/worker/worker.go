// Package worker implements the Worker: a fleet of W long-running loops,
// each claiming a batch under the worker-side limit discipline, invoking a
// Scraping Session, and writing every result under its own isolated
// transaction. Concurrency is bounded structurally — Fleet.Run starts
// exactly Config.Concurrency goroutines and never spawns more — rather
// than by a semaphore gating a larger task population.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/adscraper/internal/classify"
	"github.com/use-agent/adscraper/internal/metrics"
	"github.com/use-agent/adscraper/internal/models"
	"github.com/use-agent/adscraper/internal/proxy"
)

// Repository is the subset of internal/queue.Repository the Worker needs.
// Defined here so tests can substitute a fake without a database.
type Repository interface {
	ClaimBatch(ctx context.Context, n int) ([]models.QueueEntry, error)
	WriteResult(ctx context.Context, res models.ItemResult) error
	MarkBadAd(ctx context.Context, entryID, reason string) error
	Retry(ctx context.Context, entryID, message string) error
	Requeue(ctx context.Context, entryID string) error
}

// Session is the subset of internal/session.Session a worker loop drives.
type Session interface {
	RunBatch(ctx context.Context, batch []models.QueueEntry) []models.ItemResult
	// TrafficBytes returns the cumulative incoming (response) and outgoing
	// (request) bytes this session's Traffic Tracker has observed so far.
	TrafficBytes() (bytesIn, bytesOut int64)
	Close()
}

// SessionFactory opens one Session per claimed batch, optionally bound to
// a proxy credential set.
type SessionFactory func(ctx context.Context, creds *proxy.Credentials) (Session, error)

// Config controls fleet sizing and the worker-side limit discipline.
type Config struct {
	Concurrency  int
	BatchSize    int
	MaxURLs      int // 0 means unbounded
	ProxyEnabled bool
	// ProxyRotate, when set, makes a worker loop refresh its credentials
	// every RotateEvery instead of holding the one set it acquired for its
	// whole lifetime. Ignored when ProxyEnabled is false.
	ProxyRotate bool
	RotateEvery time.Duration
}

// Fleet runs Config.Concurrency worker loops against a shared Repository.
type Fleet struct {
	repo     Repository
	proxyMgr *proxy.Manager
	factory  SessionFactory
	cfg      Config

	counters Counters

	mu        sync.Mutex
	processed int
}

// NewFleet constructs a Fleet. proxyMgr may be nil when cfg.ProxyEnabled
// is false.
func NewFleet(repo Repository, proxyMgr *proxy.Manager, factory SessionFactory, cfg Config) *Fleet {
	return &Fleet{repo: repo, proxyMgr: proxyMgr, factory: factory, cfg: cfg}
}

// Run starts Config.Concurrency worker loops and blocks until every one
// exits (queue drained, MaxURLs reached, or ctx canceled).
func (f *Fleet) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < f.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			metrics.WorkersRunning.Inc()
			defer metrics.WorkersRunning.Dec()
			f.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

// Counters returns a snapshot of the shared run counters.
func (f *Fleet) Counters() Snapshot {
	return f.counters.Snapshot()
}

// remaining computes max_items_to_process - processed_so_far under the
// shared mutex. A non-positive MaxURLs means unbounded.
func (f *Fleet) remaining() int {
	if f.cfg.MaxURLs <= 0 {
		return f.cfg.BatchSize
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg.MaxURLs - f.processed
}

// needsAcquire reports whether a worker loop holding creds (acquired at
// acquiredAt) must fetch a fresh credential set before claiming its next
// batch: never yet acquired, or rotation is enabled and RotateEvery has
// elapsed since the last acquisition.
func (f *Fleet) needsAcquire(creds *proxy.Credentials, acquiredAt time.Time) bool {
	if creds == nil {
		return true
	}
	if !f.cfg.ProxyRotate || f.cfg.RotateEvery <= 0 {
		return false
	}
	return time.Since(acquiredAt) >= f.cfg.RotateEvery
}

func (f *Fleet) claimSize() int {
	want := f.cfg.BatchSize
	if f.cfg.MaxURLs > 0 {
		if r := f.remaining(); r < want {
			want = r
		}
	}
	return want
}

func (f *Fleet) markProcessed(n int) {
	f.mu.Lock()
	f.processed += n
	f.mu.Unlock()
}

// loop is one worker's claim → scrape → write cycle, repeated until the
// queue is empty, the cap is reached, or ctx is done.
func (f *Fleet) loop(ctx context.Context, workerID int) {
	var creds *proxy.Credentials
	var acquiredAt time.Time

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if f.cfg.MaxURLs > 0 && f.remaining() <= 0 {
			return
		}
		want := f.claimSize()
		if want <= 0 {
			return
		}

		if f.cfg.ProxyEnabled && f.needsAcquire(creds, acquiredAt) {
			c, err := f.proxyMgr.Acquire(ctx)
			if err != nil {
				slog.Error("proxy acquisition exhausted, worker exiting", "worker_id", workerID, "error", err)
				return
			}
			creds = &c
			acquiredAt = time.Now()
		}

		batch, err := f.repo.ClaimBatch(ctx, want)
		if err != nil {
			slog.Error("claim batch failed, worker exiting", "worker_id", workerID, "error", err)
			return
		}
		if len(batch) == 0 {
			return
		}

		f.runBatch(ctx, workerID, batch, creds)
		f.markProcessed(len(batch))
	}
}

func (f *Fleet) runBatch(ctx context.Context, workerID int, batch []models.QueueEntry, creds *proxy.Credentials) {
	sess, err := f.factory(ctx, creds)
	if err != nil {
		slog.Error("session open failed, requeuing batch", "worker_id", workerID, "batch_size", len(batch), "error", err)
		for _, entry := range batch {
			if rerr := f.repo.Retry(ctx, entry.ID, fmt.Sprintf("session open failed: %v - pending retry", err)); rerr != nil {
				slog.Error("requeue after session-open failure failed", "entry_id", entry.ID, "error", rerr)
			}
		}
		return
	}
	defer sess.Close()

	results := sess.RunBatch(ctx, batch)
	bytesIn, bytesOut := sess.TrafficBytes()
	f.counters.addBytes(bytesIn, bytesOut)
	if len(results) != len(batch) {
		slog.Error("session returned fewer results than the batch (missing result)",
			"worker_id", workerID, "batch_size", len(batch), "result_count", len(results))
	}

	for i, entry := range batch {
		if i >= len(results) {
			if rerr := f.repo.Requeue(ctx, entry.ID); rerr != nil {
				slog.Error("requeue missing-result entry failed", "entry_id", entry.ID, "error", rerr)
			}
			continue
		}
		f.writeOne(ctx, results[i])
	}
}

// writeOne persists a single item's outcome under its own isolated
// database call, so a failing write for item k never blocks k+1..B-1,
// and updates the shared counters.
func (f *Fleet) writeOne(ctx context.Context, res models.ItemResult) {
	f.counters.incProcessed()

	if res.Success {
		if err := f.repo.WriteResult(ctx, res); err != nil {
			slog.Error("write result failed", "entry_id", res.EntryID, "error", err)
			return
		}
		f.counters.incSuccess()
		metrics.RecordQueueOutcome("success")
		return
	}

	outcome := classify.Classify(res.ErrorMessage)
	metrics.RecordClassification(outcome.Kind, string(outcome.Category))
	switch outcome.Category {
	case classify.CategoryBadAd:
		if err := f.repo.MarkBadAd(ctx, res.EntryID, res.ErrorMessage); err != nil {
			slog.Error("mark bad_ad failed", "entry_id", res.EntryID, "error", err)
		}
		f.counters.incBadAd()
		metrics.RecordQueueOutcome("bad_ad")
	case classify.CategoryRetry:
		if err := f.repo.Retry(ctx, res.EntryID, res.ErrorMessage+" - pending retry"); err != nil {
			slog.Error("retry write failed", "entry_id", res.EntryID, "error", err)
		}
		f.counters.incRetry()
		metrics.RecordQueueOutcome("retry")
	default:
		failed := models.NewFailedResult(res.EntryID, "PERMANENT ERROR: "+res.ErrorMessage)
		if err := f.repo.WriteResult(ctx, failed); err != nil {
			slog.Error("write failed-result failed", "entry_id", res.EntryID, "error", err)
		}
		f.counters.incFailed()
		metrics.RecordQueueOutcome("failed")
	}
}
