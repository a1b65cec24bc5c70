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

type ExchangeRateRepository struct {
	db *sql.DB
}

func NewExchangeRateRepository(db *sql.DB) *ExchangeRateRepository {
	return &ExchangeRateRepository{db: db}
}

// GetRate returns the rate converting one unit of from into to on date.
func (r *ExchangeRateRepository) GetRate(ctx context.Context, from, to domain.Currency, date time.Time) (decimal.Decimal, error) {
	var rate decimal.Decimal
	err := r.db.QueryRowContext(ctx,
		`SELECT rate FROM exchange_rates
		WHERE from_currency = $1 AND to_currency = $2 AND date = $3`,
		from, to, date,
	).Scan(&rate)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("GetRate: %s/%s on %s: %w", from, to, date.Format(time.DateOnly), domain.ErrRateNotFound)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("GetRate: %w", err)
	}
	return rate, nil
}

func (r *ExchangeRateRepository) Upsert(ctx context.Context, from, to domain.Currency, date time.Time, rate decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO exchange_rates (id, from_currency, to_currency, date, rate)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (from_currency, to_currency, date) DO UPDATE SET rate = EXCLUDED.rate`,
		uuid.New(), from, to, date, rate,
	)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}
