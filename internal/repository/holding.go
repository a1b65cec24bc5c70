package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/ledger-sync/internal/domain"
)

const holdingColumns = `h.id, h.account_id, h.security_id, h.provider_security_id, h.security_locked,
	h.date, h.currency, h.quantity, h.price, h.amount, h.cost_basis, h.cost_basis_source,
	h.cost_basis_locked, h.external_id, h.account_provider_id, h.created_at, h.updated_at`

// Rows claimed by the requesting link sort before unowned rows that could be
// adopted. Rows owned by another link never match a scoped lookup.
const linkScope = `($%d::uuid IS NULL OR h.account_provider_id = $%d OR h.account_provider_id IS NULL)`
const linkOrder = ` ORDER BY (h.account_provider_id IS NULL), h.created_at LIMIT 1`

type HoldingRepository struct {
	db *sql.DB
}

func NewHoldingRepository(db *sql.DB) *HoldingRepository {
	return &HoldingRepository{db: db}
}

// GetByID locks and returns a holding of the account.
func (r *HoldingRepository) GetByID(ctx context.Context, tx *sql.Tx, accountID, id uuid.UUID) (*domain.Holding, error) {
	return r.findOne(ctx, tx, "GetByID",
		`SELECT `+holdingColumns+` FROM holdings h
		WHERE h.account_id = $1 AND h.id = $2
		FOR UPDATE`,
		accountID, id,
	)
}

func (r *HoldingRepository) FindByExternalID(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, externalID string) (*domain.Holding, error) {
	return r.findOne(ctx, tx, "FindByExternalID",
		`SELECT `+holdingColumns+` FROM holdings h
		WHERE h.account_id = $1 AND h.external_id = $2`,
		accountID, externalID,
	)
}

// FindByProviderSecurity matches on the security the provider originally
// asserted, so it still finds holdings the user remapped.
func (r *HoldingRepository) FindByProviderSecurity(ctx context.Context, tx *sql.Tx, accountID, securityID uuid.UUID, date time.Time, currency domain.Currency, linkID *uuid.UUID) (*domain.Holding, error) {
	return r.findOne(ctx, tx, "FindByProviderSecurity",
		`SELECT `+holdingColumns+` FROM holdings h
		WHERE h.account_id = $1 AND h.provider_security_id = $2
		AND h.date = $3 AND h.currency = $4 AND `+fmt.Sprintf(linkScope, 5, 5)+linkOrder,
		accountID, securityID, date, currency, linkID,
	)
}

// FindByProviderTicker matches on the ticker of the provider security, for
// resolvers that return a different security row for the same ticker.
func (r *HoldingRepository) FindByProviderTicker(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, ticker string, date time.Time, currency domain.Currency, linkID *uuid.UUID) (*domain.Holding, error) {
	return r.findOne(ctx, tx, "FindByProviderTicker",
		`SELECT `+holdingColumns+` FROM holdings h
		JOIN securities ps ON ps.id = h.provider_security_id
		WHERE h.account_id = $1 AND ps.ticker = $2
		AND h.date = $3 AND h.currency = $4 AND `+fmt.Sprintf(linkScope, 5, 5)+linkOrder,
		accountID, ticker, date, currency, linkID,
	)
}

func (r *HoldingRepository) FindBySecurity(ctx context.Context, tx *sql.Tx, accountID, securityID uuid.UUID, date time.Time, currency domain.Currency, linkID *uuid.UUID) (*domain.Holding, error) {
	return r.findOne(ctx, tx, "FindBySecurity",
		`SELECT `+holdingColumns+` FROM holdings h
		WHERE h.account_id = $1 AND h.security_id = $2
		AND h.date = $3 AND h.currency = $4 AND `+fmt.Sprintf(linkScope, 5, 5)+linkOrder,
		accountID, securityID, date, currency, linkID,
	)
}

// FindByCompositeKey ignores ownership; it backs the cross-provider guard.
func (r *HoldingRepository) FindByCompositeKey(ctx context.Context, tx *sql.Tx, accountID, securityID uuid.UUID, date time.Time, currency domain.Currency) (*domain.Holding, error) {
	return r.findOne(ctx, tx, "FindByCompositeKey",
		`SELECT `+holdingColumns+` FROM holdings h
		WHERE h.account_id = $1 AND h.security_id = $2 AND h.date = $3 AND h.currency = $4`,
		accountID, securityID, date, currency,
	)
}

func (r *HoldingRepository) findOne(ctx context.Context, tx *sql.Tx, op, q string, args ...any) (*domain.Holding, error) {
	h, err := scanHolding(tx.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return h, nil
}

func (r *HoldingRepository) Create(ctx context.Context, tx *sql.Tx, h *domain.Holding) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO holdings (
			id, account_id, security_id, provider_security_id, security_locked,
			date, currency, quantity, price, amount, cost_basis, cost_basis_source,
			cost_basis_locked, external_id, account_provider_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		h.ID, h.AccountID, h.SecurityID, h.ProviderSecurityID, h.SecurityLocked,
		h.Date, h.Currency, h.Quantity, h.Price, h.Amount, h.CostBasis, nullIfEmpty(string(h.CostBasisSource)),
		h.CostBasisLocked, h.ExternalID, h.ProviderLinkID, h.CreatedAt, h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *HoldingRepository) Update(ctx context.Context, tx *sql.Tx, h *domain.Holding) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE holdings SET security_id = $1, provider_security_id = $2, security_locked = $3,
			date = $4, currency = $5, quantity = $6, price = $7, amount = $8,
			cost_basis = $9, cost_basis_source = $10, cost_basis_locked = $11,
			external_id = $12, account_provider_id = $13, updated_at = $14
		WHERE id = $15`,
		h.SecurityID, h.ProviderSecurityID, h.SecurityLocked,
		h.Date, h.Currency, h.Quantity, h.Price, h.Amount,
		h.CostBasis, nullIfEmpty(string(h.CostBasisSource)), h.CostBasisLocked,
		h.ExternalID, h.ProviderLinkID, h.UpdatedAt, h.ID,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	return requireOneRow(res, "Update")
}

// DeleteFuture removes holdings of the security dated after date. When
// linkID is set only that link's holdings are removed.
func (r *HoldingRepository) DeleteFuture(ctx context.Context, tx *sql.Tx, accountID, securityID uuid.UUID, date time.Time, linkID *uuid.UUID) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM holdings
		WHERE account_id = $1 AND security_id = $2 AND date > $3
		AND ($4::uuid IS NULL OR account_provider_id = $4)`,
		accountID, securityID, date, linkID,
	)
	if err != nil {
		return 0, fmt.Errorf("DeleteFuture: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteFuture: rows affected: %w", err)
	}
	return n, nil
}

func scanHolding(s scanner) (*domain.Holding, error) {
	var (
		h             domain.Holding
		providerSecID uuid.NullUUID
		costBasis     decimal.NullDecimal
		costSource    sql.NullString
		linkID        uuid.NullUUID
	)
	err := s.Scan(
		&h.ID, &h.AccountID, &h.SecurityID, &providerSecID, &h.SecurityLocked,
		&h.Date, &h.Currency, &h.Quantity, &h.Price, &h.Amount, &costBasis, &costSource,
		&h.CostBasisLocked, &h.ExternalID, &linkID, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if providerSecID.Valid {
		h.ProviderSecurityID = &providerSecID.UUID
	}
	if costBasis.Valid {
		h.CostBasis = &costBasis.Decimal
	}
	h.CostBasisSource = domain.CostBasisSource(costSource.String)
	if linkID.Valid {
		h.ProviderLinkID = &linkID.UUID
	}
	return &h, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
