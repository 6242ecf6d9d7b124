package worker

import (
	"context"
	"sync"
	"testing"

	"github.com/use-agent/adscraper/internal/models"
	"github.com/use-agent/adscraper/internal/proxy"
)

// fakeRepo is an in-memory stand-in for internal/queue.Repository, letting
// the worker-side discipline (T-LIMIT) and result-routing logic be tested
// without a database.
type fakeRepo struct {
	mu      sync.Mutex
	pending []models.QueueEntry

	written  []models.ItemResult
	badAds   []string
	retries  []string
	requeued []string
}

func (f *fakeRepo) ClaimBatch(ctx context.Context, n int) ([]models.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.pending) {
		n = len(f.pending)
	}
	batch := f.pending[:n]
	f.pending = f.pending[n:]
	return batch, nil
}

func (f *fakeRepo) WriteResult(ctx context.Context, res models.ItemResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, res)
	return nil
}

func (f *fakeRepo) MarkBadAd(ctx context.Context, entryID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.badAds = append(f.badAds, entryID)
	return nil
}

func (f *fakeRepo) Retry(ctx context.Context, entryID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries = append(f.retries, entryID)
	return nil
}

func (f *fakeRepo) Requeue(ctx context.Context, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, entryID)
	return nil
}

// fixedSession always returns the same scripted results regardless of the
// batch it's given, used to exercise missing-result reconciliation.
type fixedSession struct {
	results []models.ItemResult
}

func (s *fixedSession) RunBatch(ctx context.Context, batch []models.QueueEntry) []models.ItemResult {
	return s.results
}
func (s *fixedSession) TrafficBytes() (int64, int64) { return 0, 0 }
func (s *fixedSession) Close()                       {}

// echoSession returns exactly one success result per entry in whatever
// batch it's given, preserving length (T-LEN's normal case).
type echoSession struct{}

func (s *echoSession) RunBatch(ctx context.Context, batch []models.QueueEntry) []models.ItemResult {
	out := make([]models.ItemResult, len(batch))
	for i, e := range batch {
		out[i] = models.ItemResult{EntryID: e.ID, Success: true}
	}
	return out
}
func (s *echoSession) TrafficBytes() (int64, int64) { return 0, 0 }
func (s *echoSession) Close()                       {}

func entries(n int) []models.QueueEntry {
	out := make([]models.QueueEntry, n)
	for i := range out {
		out[i] = models.QueueEntry{ID: string(rune('a' + i)), CreativeID: "CR", AdvertiserID: "AR"}
	}
	return out
}

func TestFleetRespectsMaxURLsCap(t *testing.T) {
	repo := &fakeRepo{pending: entries(25)}
	factory := func(ctx context.Context, creds *proxy.Credentials) (Session, error) {
		return &echoSession{}, nil
	}

	f := NewFleet(repo, nil, factory, Config{Concurrency: 1, BatchSize: 10, MaxURLs: 12})
	f.Run(context.Background())

	claimed := 25 - len(repo.pending)
	if claimed != 12 {
		t.Fatalf("got %d rows claimed, want 12 (T-LIMIT)", claimed)
	}
}

func TestWriteOneRoutesByClassification(t *testing.T) {
	repo := &fakeRepo{}
	f := NewFleet(repo, nil, nil, Config{})

	f.writeOne(context.Background(), models.ItemResult{EntryID: "1", Success: true})
	f.writeOne(context.Background(), models.NewFailedResult("2", "Creative not found in API - broken/deleted creative page"))
	f.writeOne(context.Background(), models.NewFailedResult("3", "ECONNRESET"))
	f.writeOne(context.Background(), models.NewFailedResult("4", "unexpected schema"))

	if len(repo.written) != 2 {
		t.Fatalf("got %d direct writes, want 2 (success + permanent failure)", len(repo.written))
	}
	if len(repo.badAds) != 1 || repo.badAds[0] != "2" {
		t.Fatalf("got bad_ads %v, want [2]", repo.badAds)
	}
	if len(repo.retries) != 1 || repo.retries[0] != "3" {
		t.Fatalf("got retries %v, want [3]", repo.retries)
	}

	snap := f.Counters()
	if snap.Processed != 4 || snap.Success != 1 || snap.BadAd != 1 || snap.Retry != 1 || snap.Failed != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
}

func TestRunBatchRequeuesMissingResults(t *testing.T) {
	repo := &fakeRepo{}
	sess := &fixedSession{results: []models.ItemResult{{EntryID: "a", Success: true}}}
	factory := func(ctx context.Context, creds *proxy.Credentials) (Session, error) {
		return sess, nil
	}
	f := NewFleet(repo, nil, factory, Config{})

	batch := entries(3)
	f.runBatch(context.Background(), 0, batch, nil)

	if len(repo.requeued) != 2 {
		t.Fatalf("got %d requeued entries, want 2 (T-LEN missing-result recovery)", len(repo.requeued))
	}
	if len(repo.written) != 1 {
		t.Fatalf("got %d written results, want 1", len(repo.written))
	}
}
