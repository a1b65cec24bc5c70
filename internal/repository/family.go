package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/josh-kwaku/ledger-sync/internal/domain"
)

type FamilyRepository struct {
	db *sql.DB
}

func NewFamilyRepository(db *sql.DB) *FamilyRepository {
	return &FamilyRepository{db: db}
}

func (r *FamilyRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Family, error) {
	var f domain.Family
	var categoryID uuid.NullUUID
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, currency, investment_contributions_category_id, created_at
		FROM families WHERE id = $1`, id,
	).Scan(&f.ID, &f.Name, &f.Currency, &categoryID, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrFamilyNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	if categoryID.Valid {
		f.InvestmentContributionsCategoryID = &categoryID.UUID
	}
	return &f, nil
}

// ListIDs returns every family that owns at least one active or draft account.
func (r *FamilyRepository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT family_id FROM accounts
		WHERE status IN ($1, $2) ORDER BY family_id`,
		domain.AccountStatusActive, domain.AccountStatusDraft,
	)
	if err != nil {
		return nil, fmt.Errorf("ListIDs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ListIDs: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListIDs: rows: %w", err)
	}
	return ids, nil
}
