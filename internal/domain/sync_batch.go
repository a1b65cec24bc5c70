package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SyncBatchStatus string

const (
	SyncBatchStatusPending    SyncBatchStatus = "pending"
	SyncBatchStatusProcessing SyncBatchStatus = "processing"
	SyncBatchStatusProcessed  SyncBatchStatus = "processed"
	SyncBatchStatusFailed     SyncBatchStatus = "failed"
)

// SyncBatch is one provider's normalized records for one account, queued by
// the sync orchestrator.
type SyncBatch struct {
	ID             uuid.UUID
	IdempotencyKey string
	AccountID      uuid.UUID
	ProviderLinkID *uuid.UUID
	Source         string
	Payload        json.RawMessage
	Status         SyncBatchStatus
	Attempts       int
	LastAttempt    *time.Time
	LastError      *string
	CreatedAt      time.Time
}

// SyncRetryPolicy selects which batches besides pending ones a processor may
// claim. The zero policy claims pending batches only.
type SyncRetryPolicy struct {
	// Lease is how long a batch may stay processing before it is presumed
	// abandoned by a crashed processor. Zero disables takeover.
	Lease time.Duration
	// RetryDelay is the minimum wait after a failed attempt.
	RetryDelay time.Duration
	// MaxAttempts caps attempts for abandoned and failed batches alike.
	MaxAttempts int
}

// Exhausted reports whether a batch with the given attempts is not claimed
// again under p.
func (p SyncRetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
