// Package models holds the shared data shapes for the scraping pipeline:
// queue entries, per-item results, and the traffic/extraction records that
// flow between the session, extractor, and validator.
package models

import "time"

// Status is the queue row lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBadAd      Status = "bad_ad"
)

// QueueEntry is one row of the creative queue table.
type QueueEntry struct {
	ID            string
	CreativeID    string
	AdvertiserID  string
	Status        Status
	VideoIDs      []string
	AppStoreID    *string
	FundedBy      *string
	RealCreativeID *string
	ScrapedAt     *time.Time
	ErrorMessage  *string
}

// ItemResult is the per-entry outcome produced by a Scraping Session and
// consumed by the Worker's result-write loop. Exactly one
// ItemResult is produced per input QueueEntry, in the same order.
type ItemResult struct {
	EntryID string

	// Success is the Validator's verdict; it is the sole source of truth
	// for whether the row transitions to completed.
	Success bool

	VideoIDs       []string
	AppStoreID     string
	FundedBy       string
	RealCreativeID string

	// Method records how the result was derived: "api", "frequency", or
	// "static".
	Method string

	// ErrorMessage is set on failure and is fed to the Error Classifier.
	ErrorMessage string
}

// NewFailedResult builds an ItemResult describing a failure for entryID,
// to be classified by internal/classify before the worker writes it.
func NewFailedResult(entryID, message string) ItemResult {
	return ItemResult{EntryID: entryID, Success: false, ErrorMessage: message}
}
