package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/ledger-sync/internal/domain"
)

// TransferCandidate is an unmatched inflow/outflow pair on two accounts of
// one family whose dates fall inside the match window.
type TransferCandidate struct {
	InflowID          uuid.UUID
	OutflowID         uuid.UUID
	InflowAmount      decimal.Decimal
	InflowCurrency    domain.Currency
	OutflowAmount     decimal.Decimal
	OutflowCurrency   domain.Currency
	OutflowDate       time.Time
	DateDiff          int
	InflowAccountType domain.AccountType
}

type TransferRepository struct {
	db *sql.DB
}

func NewTransferRepository(db *sql.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// Candidates lists pairs not already in a transfer and not rejected,
// closest dates first. Amount matching is left to the caller.
func (r *TransferRepository) Candidates(ctx context.Context, tx *sql.Tx, familyID uuid.UUID, windowDays int) ([]TransferCandidate, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT i.id, o.id, i.amount, i.currency, o.amount, o.currency, o.date,
			ABS(i.date - o.date) AS date_diff, ia.account_type
		FROM entries i
		JOIN transactions it ON it.entry_id = i.id
		JOIN accounts ia ON ia.id = i.account_id
		JOIN entries o ON o.account_id <> i.account_id
			AND o.amount > 0
			AND i.date BETWEEN o.date - $2::int AND o.date + $2::int
		JOIN transactions ot ON ot.entry_id = o.id
		JOIN accounts oa ON oa.id = o.account_id
		WHERE i.amount < 0
		AND ia.family_id = $1 AND oa.family_id = $1
		AND ia.status IN ($3, $4) AND oa.status IN ($3, $4)
		AND NOT EXISTS (
			SELECT 1 FROM transfers t
			WHERE t.inflow_transaction_id IN (i.id, o.id)
			OR t.outflow_transaction_id IN (i.id, o.id)
		)
		AND NOT EXISTS (
			SELECT 1 FROM rejected_transfers rt
			WHERE rt.inflow_transaction_id = i.id AND rt.outflow_transaction_id = o.id
		)
		ORDER BY date_diff, o.date, i.id, o.id`,
		familyID, windowDays, domain.AccountStatusActive, domain.AccountStatusDraft,
	)
	if err != nil {
		return nil, fmt.Errorf("Candidates: %w", err)
	}
	defer rows.Close()

	var out []TransferCandidate
	for rows.Next() {
		var c TransferCandidate
		if err := rows.Scan(
			&c.InflowID, &c.OutflowID, &c.InflowAmount, &c.InflowCurrency,
			&c.OutflowAmount, &c.OutflowCurrency, &c.OutflowDate,
			&c.DateDiff, &c.InflowAccountType,
		); err != nil {
			return nil, fmt.Errorf("Candidates: scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Candidates: rows: %w", err)
	}
	return out, nil
}

func (r *TransferRepository) Create(ctx context.Context, tx *sql.Tx, t *domain.Transfer) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transfers (id, inflow_transaction_id, outflow_transaction_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.InflowTransactionID, t.OutflowTransactionID, t.Status, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// Reject records that the user declined the pair; it is never proposed again.
func (r *TransferRepository) Reject(ctx context.Context, inflowID, outflowID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rejected_transfers (id, inflow_transaction_id, outflow_transaction_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (inflow_transaction_id, outflow_transaction_id) DO NOTHING`,
		uuid.New(), inflowID, outflowID, time.Now().UTC(),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("Reject: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("Reject: %w", err)
	}
	return nil
}
