package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/josh-kwaku/ledger-sync/internal/domain"
)

const providerLinkColumns = `id, account_id, provider_type, provider_ref, lock_holding_deletion, created_at`

type ProviderLinkRepository struct {
	db *sql.DB
}

func NewProviderLinkRepository(db *sql.DB) *ProviderLinkRepository {
	return &ProviderLinkRepository{db: db}
}

func (r *ProviderLinkRepository) Create(ctx context.Context, link *domain.ProviderLink) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO account_providers (id, account_id, provider_type, provider_ref, lock_holding_deletion, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		link.ID, link.AccountID, link.ProviderType, link.ProviderRef, link.LockHoldingDeletion, link.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// ListByAccount reads every provider link of the account inside tx.
func (r *ProviderLinkRepository) ListByAccount(ctx context.Context, tx *sql.Tx, accountID uuid.UUID) ([]domain.ProviderLink, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+providerLinkColumns+` FROM account_providers
		WHERE account_id = $1 ORDER BY created_at`, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByAccount: %w", err)
	}
	defer rows.Close()

	var links []domain.ProviderLink
	for rows.Next() {
		var l domain.ProviderLink
		if err := rows.Scan(&l.ID, &l.AccountID, &l.ProviderType, &l.ProviderRef, &l.LockHoldingDeletion, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListByAccount: scan: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByAccount: rows: %w", err)
	}
	return links, nil
}
