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

const entrySelect = `SELECT e.id, e.account_id, e.kind, e.date, e.amount, e.currency,
	e.name, e.notes, e.external_id, e.source, e.excluded, e.user_modified,
	e.import_locked, e.enrichments, e.created_at, e.updated_at,
	t.category_id, t.merchant_id, t.kind, t.investment_activity_label, t.extra,
	tr.security_id, tr.quantity, tr.price, tr.currency, tr.investment_activity_label,
	v.kind
	FROM entries e
	LEFT JOIN transactions t ON t.entry_id = e.id
	LEFT JOIN trades tr ON tr.entry_id = e.id
	LEFT JOIN valuations v ON v.entry_id = e.id`

type EntryRepository struct {
	db *sql.DB
}

func NewEntryRepository(db *sql.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

func (r *EntryRepository) GetByID(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Entry, error) {
	e, err := scanEntry(tx.QueryRowContext(ctx, entrySelect+` WHERE e.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return e, nil
}

// FindByExternalID locks and returns the entry owning the idempotency key.
func (r *EntryRepository) FindByExternalID(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, source, externalID string) (*domain.Entry, error) {
	e, err := scanEntry(tx.QueryRowContext(ctx,
		entrySelect+` WHERE e.account_id = $1 AND e.source = $2 AND e.external_id = $3
		FOR UPDATE OF e`,
		accountID, source, externalID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("FindByExternalID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("FindByExternalID: %w", err)
	}
	return e, nil
}

// FindBySupersededID locks and returns the transaction that absorbed a
// pending record whose key was externalID before it posted under a new one.
func (r *EntryRepository) FindBySupersededID(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, source, externalID string) (*domain.Entry, error) {
	e, err := scanEntry(tx.QueryRowContext(ctx,
		entrySelect+` WHERE e.account_id = $1 AND e.source = $2
		AND (t.extra -> $2::text -> '`+domain.SupersededIDsKey+`') ? $3::text
		ORDER BY e.created_at, e.id
		LIMIT 1
		FOR UPDATE OF e`,
		accountID, source, externalID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("FindBySupersededID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("FindBySupersededID: %w", err)
	}
	return e, nil
}

// FindProviderlessDuplicates returns transactions without a provider key
// that match date, amount and currency exactly, oldest first.
func (r *EntryRepository) FindProviderlessDuplicates(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, date time.Time, amount decimal.Decimal, currency domain.Currency) ([]domain.Entry, error) {
	return r.query(ctx, tx, "FindProviderlessDuplicates",
		entrySelect+` WHERE e.account_id = $1 AND e.kind = $2
		AND e.source IS NULL AND e.external_id IS NULL
		AND e.date = $3 AND e.amount = $4 AND e.currency = $5
		ORDER BY e.created_at, e.id
		FOR UPDATE OF e`,
		accountID, domain.EntryKindTransaction, date, amount, currency,
	)
}

// FindPendingTransactions locks and returns transactions on the account that
// source flagged pending, dated within [from, to], excluding excludeID.
func (r *EntryRepository) FindPendingTransactions(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, source string, currency domain.Currency, from, to time.Time, excludeID uuid.UUID) ([]domain.Entry, error) {
	return r.query(ctx, tx, "FindPendingTransactions",
		entrySelect+` WHERE e.account_id = $1 AND e.kind = $2
		AND e.source = $3 AND e.currency = $4
		AND e.date BETWEEN $5 AND $6
		AND e.id <> $7
		AND (t.extra -> $3::text ->> 'pending') = 'true'
		ORDER BY e.date DESC, e.created_at, e.id
		FOR UPDATE OF e`,
		accountID, domain.EntryKindTransaction, source, currency, from, to, excludeID,
	)
}

func (r *EntryRepository) query(ctx context.Context, tx *sql.Tx, op, q string, args ...any) ([]domain.Entry, error) {
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var entries []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return entries, nil
}

// Create inserts the entry and its payload row. Callers detect a lost race
// on the idempotency key with IsUniqueViolation.
func (r *EntryRepository) Create(ctx context.Context, tx *sql.Tx, e *domain.Entry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO entries (
			id, account_id, kind, date, amount, currency, name, notes,
			external_id, source, excluded, user_modified, import_locked,
			enrichments, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		e.ID, e.AccountID, e.Kind(), e.Date, e.Amount, e.Currency, e.Name, e.Notes,
		e.ExternalID, e.Source, e.Excluded, e.UserModified, e.ImportLocked,
		e.Enrichments, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	if err := r.insertPayload(ctx, tx, e); err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *EntryRepository) insertPayload(ctx context.Context, tx *sql.Tx, e *domain.Entry) error {
	var err error
	switch p := e.Payload.(type) {
	case *domain.Transaction:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO transactions (entry_id, category_id, merchant_id, kind, investment_activity_label, extra)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, p.CategoryID, p.MerchantID, p.Kind, p.InvestmentActivityLabel, p.Extra,
		)
	case *domain.Trade:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO trades (entry_id, security_id, quantity, price, currency, investment_activity_label)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, p.SecurityID, p.Quantity, p.Price, p.Currency, p.InvestmentActivityLabel,
		)
	case *domain.Valuation:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO valuations (entry_id, kind) VALUES ($1, $2)`,
			e.ID, p.Kind,
		)
	default:
		return fmt.Errorf("insertPayload: unknown payload %T", e.Payload)
	}
	if err != nil {
		return fmt.Errorf("insertPayload: %w", err)
	}
	return nil
}

// Update writes every mutable column of the entry and its payload.
func (r *EntryRepository) Update(ctx context.Context, tx *sql.Tx, e *domain.Entry) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE entries SET date = $1, amount = $2, currency = $3, name = $4, notes = $5,
			external_id = $6, source = $7, excluded = $8, user_modified = $9,
			import_locked = $10, enrichments = $11, updated_at = $12
		WHERE id = $13`,
		e.Date, e.Amount, e.Currency, e.Name, e.Notes,
		e.ExternalID, e.Source, e.Excluded, e.UserModified,
		e.ImportLocked, e.Enrichments, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if err := requireOneRow(res, "Update"); err != nil {
		return err
	}

	switch p := e.Payload.(type) {
	case *domain.Transaction:
		_, err = tx.ExecContext(ctx,
			`UPDATE transactions SET category_id = $1, merchant_id = $2, kind = $3,
				investment_activity_label = $4, extra = $5
			WHERE entry_id = $6`,
			p.CategoryID, p.MerchantID, p.Kind, p.InvestmentActivityLabel, p.Extra, e.ID,
		)
	case *domain.Trade:
		_, err = tx.ExecContext(ctx,
			`UPDATE trades SET security_id = $1, quantity = $2, price = $3, currency = $4,
				investment_activity_label = $5
			WHERE entry_id = $6`,
			p.SecurityID, p.Quantity, p.Price, p.Currency, p.InvestmentActivityLabel, e.ID,
		)
	case *domain.Valuation:
		_, err = tx.ExecContext(ctx, `UPDATE valuations SET kind = $1 WHERE entry_id = $2`, p.Kind, e.ID)
	}
	if err != nil {
		return fmt.Errorf("Update: payload: %w", err)
	}
	return nil
}

// UpdateLink stores only the provider correlation key.
func (r *EntryRepository) UpdateLink(ctx context.Context, tx *sql.Tx, id uuid.UUID, externalID, source string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE entries SET external_id = $1, source = $2, updated_at = now() WHERE id = $3`,
		externalID, source, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateLink: %w", err)
	}
	return requireOneRow(res, "UpdateLink")
}

// UpdateExtra replaces the provider metadata bag of a transaction.
func (r *EntryRepository) UpdateExtra(ctx context.Context, tx *sql.Tx, id uuid.UUID, extra domain.Extra) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE transactions SET extra = $1 WHERE entry_id = $2`, extra, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateExtra: %w", err)
	}
	return requireOneRow(res, "UpdateExtra")
}

// SetTransactionKind updates the kind of a transaction and, when categoryID
// is non-nil, fills its category if it has none.
func (r *EntryRepository) SetTransactionKind(ctx context.Context, tx *sql.Tx, id uuid.UUID, kind domain.TransactionKind, categoryID *uuid.UUID) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE transactions SET kind = $1, category_id = COALESCE(category_id, $2)
		WHERE entry_id = $3`,
		kind, categoryID, id,
	)
	if err != nil {
		return fmt.Errorf("SetTransactionKind: %w", err)
	}
	return requireOneRow(res, "SetTransactionKind")
}

func requireOneRow(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

func scanEntry(s scanner) (*domain.Entry, error) {
	var (
		e          domain.Entry
		kind       domain.EntryKind
		txCategory uuid.NullUUID
		txMerchant uuid.NullUUID
		txKind     sql.NullString
		txLabel    sql.NullString
		txExtra    domain.Extra
		trSecurity uuid.NullUUID
		trQuantity decimal.NullDecimal
		trPrice    decimal.NullDecimal
		trCurrency sql.NullString
		trLabel    sql.NullString
		valKind    sql.NullString
	)
	err := s.Scan(
		&e.ID, &e.AccountID, &kind, &e.Date, &e.Amount, &e.Currency,
		&e.Name, &e.Notes, &e.ExternalID, &e.Source, &e.Excluded, &e.UserModified,
		&e.ImportLocked, &e.Enrichments, &e.CreatedAt, &e.UpdatedAt,
		&txCategory, &txMerchant, &txKind, &txLabel, &txExtra,
		&trSecurity, &trQuantity, &trPrice, &trCurrency, &trLabel,
		&valKind,
	)
	if err != nil {
		return nil, err
	}

	switch kind {
	case domain.EntryKindTransaction:
		t := &domain.Transaction{
			Kind:                    domain.TransactionKind(txKind.String),
			InvestmentActivityLabel: labelPtr(txLabel),
			Extra:                   txExtra,
		}
		if txCategory.Valid {
			t.CategoryID = &txCategory.UUID
		}
		if txMerchant.Valid {
			t.MerchantID = &txMerchant.UUID
		}
		e.Payload = t
	case domain.EntryKindTrade:
		e.Payload = &domain.Trade{
			SecurityID:              trSecurity.UUID,
			Quantity:                trQuantity.Decimal,
			Price:                   trPrice.Decimal,
			Currency:                domain.Currency(trCurrency.String),
			InvestmentActivityLabel: labelPtr(trLabel),
		}
	case domain.EntryKindValuation:
		e.Payload = &domain.Valuation{Kind: domain.ValuationKind(valKind.String)}
	default:
		return nil, fmt.Errorf("scanEntry: unknown kind %q", kind)
	}
	return &e, nil
}

func labelPtr(s sql.NullString) *domain.ActivityLabel {
	if !s.Valid {
		return nil
	}
	l := domain.ActivityLabel(s.String)
	return &l
}
