package queue

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/use-agent/adscraper/internal/models"
)

func TestClaimBatchReturnsClaimedRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"id", "creative_id", "advertiser_id", "video_ids", "app_store_id", "funded_by", "real_creative_id", "scraped_at", "error_message"}).
		AddRow("1", "CR1", "AR1", nil, nil, nil, nil, nil, nil).
		AddRow("2", "CR2", "AR2", nil, nil, nil, nil, nil, nil)
	mock.ExpectQuery("WITH next AS").WithArgs(2).WillReturnRows(rows)
	mock.ExpectCommit()

	repo := New(db)
	entries, err := repo.ClaimBatch(context.Background(), 2)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Status != models.StatusProcessing {
		t.Fatalf("got status %q, want processing", entries[0].Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClaimBatchEmptyQueueReturnsNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"id", "creative_id", "advertiser_id", "video_ids", "app_store_id", "funded_by", "real_creative_id", "scraped_at", "error_message"})
	mock.ExpectQuery("WITH next AS").WithArgs(5).WillReturnRows(rows)
	mock.ExpectCommit()

	repo := New(db)
	entries, err := repo.ClaimBatch(context.Background(), 5)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d entries, want 0", len(entries))
	}
}

func TestWriteResultSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE queue_entries").
		WithArgs(models.StatusCompleted, sqlmock.AnyArg(), "1435281792", "", "123456789012", "", "42").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := New(db)
	err = repo.WriteResult(context.Background(), models.ItemResult{
		EntryID:        "42",
		Success:        true,
		VideoIDs:       []string{"rkXH2aDmhDQ"},
		AppStoreID:     "1435281792",
		RealCreativeID: "123456789012",
	})
	if err != nil {
		t.Fatalf("WriteResult: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWriteResultFailureSetsFailedStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE queue_entries").
		WithArgs(models.StatusFailed, sqlmock.AnyArg(), "", "", "", "PERMANENT ERROR: bad schema", "7").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := New(db)
	err = repo.WriteResult(context.Background(), models.NewFailedResult("7", "PERMANENT ERROR: bad schema"))
	if err != nil {
		t.Fatalf("WriteResult: %v", err)
	}
}

func TestRetrySetsPendingStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE queue_entries").
		WithArgs("socket hang up - pending retry", "9").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := New(db)
	if err := repo.Retry(context.Background(), "9", "socket hang up - pending retry"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSweepStuckReclaimsOldRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE queue_entries").
		WithArgs(float64(600)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	repo := New(db)
	n, err := repo.SweepStuck(context.Background(), 10*time.Minute)
	if err != nil {
		t.Fatalf("SweepStuck: %v", err)
	}
	if n != 3 {
		t.Fatalf("got %d, want 3", n)
	}
}
