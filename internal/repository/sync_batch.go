package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/josh-kwaku/ledger-sync/internal/domain"
)

const syncBatchColumns = `id, idempotency_key, account_id, account_provider_id, source, payload,
	status, attempts, last_attempt, last_error, created_at`

type SyncBatchRepository struct {
	db *sql.DB
}

func NewSyncBatchRepository(db *sql.DB) *SyncBatchRepository {
	return &SyncBatchRepository{db: db}
}

func (r *SyncBatchRepository) Create(ctx context.Context, batch *domain.SyncBatch) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_batches (
			id, idempotency_key, account_id, account_provider_id, source, payload,
			status, attempts, last_attempt, last_error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		batch.ID, batch.IdempotencyKey, batch.AccountID, batch.ProviderLinkID, batch.Source,
		string(batch.Payload), batch.Status, batch.Attempts, batch.LastAttempt, batch.LastError,
		batch.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateBatch)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// ClaimPending moves up to limit claimable batches to processing and
// returns them, oldest first. Pending batches are always claimable; batches
// abandoned past the lease or failed past the retry delay are claimable while
// under the attempt cap. SKIP LOCKED keeps concurrent processors from
// claiming the same batch.
func (r *SyncBatchRepository) ClaimPending(ctx context.Context, limit int, policy domain.SyncRetryPolicy) ([]domain.SyncBatch, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE sync_batches SET status = $1, attempts = attempts + 1, last_attempt = now()
		WHERE id IN (
			SELECT id FROM sync_batches
			WHERE status = $2
			OR (attempts < $4 AND (
				(status = $1 AND $5::float8 > 0 AND last_attempt < now() - make_interval(secs => $5::float8))
				OR (status = $6 AND last_attempt < now() - make_interval(secs => $7::float8))
			))
			ORDER BY created_at LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+syncBatchColumns,
		domain.SyncBatchStatusProcessing, domain.SyncBatchStatusPending, limit,
		policy.MaxAttempts, policy.Lease.Seconds(),
		domain.SyncBatchStatusFailed, policy.RetryDelay.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("ClaimPending: %w", err)
	}
	defer rows.Close()

	var batches []domain.SyncBatch
	for rows.Next() {
		b, err := scanSyncBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("ClaimPending: scan: %w", err)
		}
		batches = append(batches, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ClaimPending: rows: %w", err)
	}
	return batches, nil
}

// UpdateStatus records the outcome of a batch. lastError is nil on success.
func (r *SyncBatchRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SyncBatchStatus, lastError *string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_batches SET status = $1, last_error = $2 WHERE id = $3`,
		status, lastError, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}
	return requireOneRow(res, "UpdateStatus")
}

func scanSyncBatch(s scanner) (*domain.SyncBatch, error) {
	var (
		b      domain.SyncBatch
		linkID uuid.NullUUID
	)
	err := s.Scan(
		&b.ID, &b.IdempotencyKey, &b.AccountID, &linkID, &b.Source, &b.Payload,
		&b.Status, &b.Attempts, &b.LastAttempt, &b.LastError, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if linkID.Valid {
		b.ProviderLinkID = &linkID.UUID
	}
	return &b, nil
}
