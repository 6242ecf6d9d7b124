// Package queue implements the database-backed work queue protocol: atomic batch claiming via SELECT ... FOR UPDATE SKIP LOCKED so
// concurrent workers never claim the same row twice, per-item result
// writes, and a sweeper that reclaims rows stuck in "processing" after a
// crash. The repository talks to Postgres through database/sql with the
// jackc/pgx/v5 stdlib driver registered, which is what lets the test suite
// swap in DATA-DOG/go-sqlmock without a live database.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/use-agent/adscraper/internal/models"
)

// Repository is the queue's database access layer.
type Repository struct {
	db *sql.DB
}

// New wraps an already-open *sql.DB (opened against the "pgx" driver by the
// caller, e.g. sql.Open("pgx", dsn) after importing
// github.com/jackc/pgx/v5/stdlib for its side-effecting driver registration).
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ClaimBatch atomically claims up to n pending rows, moving them to
// "processing" and returning them in the same transaction so no two workers
// ever observe the same row.
func (r *Repository) ClaimBatch(ctx context.Context, n int) ([]models.QueueEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: begin claim tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, claimBatchSQL, n)
	if err != nil {
		return nil, fmt.Errorf("queue: claim batch: %w", err)
	}

	var entries []models.QueueEntry
	for rows.Next() {
		var e models.QueueEntry
		var videoIDsJSON []byte
		if err := rows.Scan(&e.ID, &e.CreativeID, &e.AdvertiserID, &videoIDsJSON,
			&e.AppStoreID, &e.FundedBy, &e.RealCreativeID, &e.ScrapedAt, &e.ErrorMessage); err != nil {
			rows.Close()
			return nil, fmt.Errorf("queue: scan claimed row: %w", err)
		}
		if len(videoIDsJSON) > 0 {
			_ = json.Unmarshal(videoIDsJSON, &e.VideoIDs)
		}
		e.Status = models.StatusProcessing
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("queue: iterate claimed rows: %w", err)
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("queue: commit claim tx: %w", err)
	}
	return entries, nil
}

const claimBatchSQL = `
WITH next AS (
	SELECT id FROM queue_entries
	WHERE status = 'pending'
	ORDER BY id
	FOR UPDATE SKIP LOCKED
	LIMIT $1
)
UPDATE queue_entries SET status = 'processing', updated_at = now()
WHERE id IN (SELECT id FROM next)
RETURNING id, creative_id, advertiser_id, video_ids, app_store_id, funded_by, real_creative_id, scraped_at, error_message
`

// WriteResult persists one item's outcome. Each item is written in
// its own statement so one failing write never blocks the rest of the
// batch.
func (r *Repository) WriteResult(ctx context.Context, res models.ItemResult) error {
	status := models.StatusCompleted
	if !res.Success {
		status = models.StatusFailed
	}

	var videoIDsJSON []byte
	if res.VideoIDs != nil {
		var err error
		videoIDsJSON, err = json.Marshal(res.VideoIDs)
		if err != nil {
			return fmt.Errorf("queue: marshal video ids: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx, writeResultSQL,
		status, videoIDsJSON, res.AppStoreID, res.FundedBy, res.RealCreativeID,
		res.ErrorMessage, res.EntryID)
	if err != nil {
		return fmt.Errorf("queue: write result for entry %s: %w", res.EntryID, err)
	}
	return nil
}

const writeResultSQL = `
UPDATE queue_entries
SET status = $1, video_ids = $2, app_store_id = $3, funded_by = $4,
    real_creative_id = $5, error_message = $6, scraped_at = now(), updated_at = now()
WHERE id = $7
`

// MarkBadAd records a classifier verdict of "bad_ad" — a terminal state
// distinct from a retryable failure.
func (r *Repository) MarkBadAd(ctx context.Context, entryID string, reason string) error {
	_, err := r.db.ExecContext(ctx, markBadAdSQL, reason, entryID)
	if err != nil {
		return fmt.Errorf("queue: mark entry %s bad_ad: %w", entryID, err)
	}
	return nil
}

const markBadAdSQL = `
UPDATE queue_entries
SET status = 'bad_ad', error_message = $1, scraped_at = now(), updated_at = now()
WHERE id = $2
`

// Retry resets an entry to "pending" carrying a classifier-annotated
// error message, the transient-failure path the Error Classifier routes
// to.
func (r *Repository) Retry(ctx context.Context, entryID, message string) error {
	_, err := r.db.ExecContext(ctx, retrySQL, message, entryID)
	if err != nil {
		return fmt.Errorf("queue: retry entry %s: %w", entryID, err)
	}
	return nil
}

const retrySQL = `
UPDATE queue_entries SET status = 'pending', error_message = $1, updated_at = now() WHERE id = $2
`

// Requeue resets an entry back to "pending" so a later claim retries it
// (used when a worker loses its result before writing).
func (r *Repository) Requeue(ctx context.Context, entryID string) error {
	_, err := r.db.ExecContext(ctx, requeueSQL, entryID)
	if err != nil {
		return fmt.Errorf("queue: requeue entry %s: %w", entryID, err)
	}
	return nil
}

const requeueSQL = `
UPDATE queue_entries SET status = 'pending', updated_at = now() WHERE id = $1
`

// SweepStuck reclaims rows that have sat in "processing" for longer than
// staleAfter without completing — the recovery path for a worker that
// crashed mid-batch. It returns the number of rows reclaimed.
func (r *Repository) SweepStuck(ctx context.Context, staleAfter time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, sweepStuckSQL, staleAfter.Seconds())
	if err != nil {
		return 0, fmt.Errorf("queue: sweep stuck rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue: sweep stuck rows affected: %w", err)
	}
	return n, nil
}

const sweepStuckSQL = `
UPDATE queue_entries
SET status = 'pending', updated_at = now()
WHERE status = 'processing' AND updated_at < now() - ($1 * interval '1 second')
`
