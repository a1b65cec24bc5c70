package fx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/ledger-sync/internal/domain"
)

type rateStore interface {
	GetRate(ctx context.Context, from, to domain.Currency, date time.Time) (decimal.Decimal, error)
}

type rateKey struct {
	from domain.Currency
	to   domain.Currency
	date string
}

// RateService looks up daily exchange rates and memoizes them for the life
// of the service. Build one per matching run.
type RateService struct {
	store rateStore

	mu    sync.Mutex
	rates map[rateKey]decimal.Decimal
}

func NewRateService(store rateStore) *RateService {
	return &RateService{
		store: store,
		rates: make(map[rateKey]decimal.Decimal),
	}
}

// RateOn returns how many units of to one unit of from buys on date. A
// missing direct rate falls back to the inverse of the reverse pair.
func (s *RateService) RateOn(ctx context.Context, from, to domain.Currency, date time.Time) (decimal.Decimal, error) {
	if !from.IsValid() || !to.IsValid() {
		return decimal.Zero, fmt.Errorf("RateOn: invalid currency pair %s/%s: %w", from, to, domain.ErrInvalidCurrency)
	}
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	key := rateKey{from: from, to: to, date: date.Format(time.DateOnly)}
	s.mu.Lock()
	rate, ok := s.rates[key]
	s.mu.Unlock()
	if ok {
		return rate, nil
	}

	rate, err := s.store.GetRate(ctx, from, to, date)
	if errors.Is(err, domain.ErrRateNotFound) {
		var inverse decimal.Decimal
		inverse, err = s.store.GetRate(ctx, to, from, date)
		if err == nil {
			if inverse.IsZero() {
				return decimal.Zero, fmt.Errorf("RateOn: zero rate %s/%s: %w", to, from, domain.ErrRateNotFound)
			}
			rate = decimal.NewFromInt(1).DivRound(inverse, 10)
		}
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("RateOn: %w", err)
	}

	s.mu.Lock()
	s.rates[key] = rate
	s.mu.Unlock()
	return rate, nil
}

func (s *RateService) Convert(ctx context.Context, amount decimal.Decimal, from, to domain.Currency, date time.Time) (decimal.Decimal, error) {
	rate, err := s.RateOn(ctx, from, to, date)
	if err != nil {
		return decimal.Zero, fmt.Errorf("Convert: %w", err)
	}
	return amount.Mul(rate), nil
}

// WithinTolerance reports whether |actual / expected - 1| <= tolerance.
// Signs are ignored; a zero expected amount never matches.
func WithinTolerance(actual, expected, tolerance decimal.Decimal) bool {
	expected = expected.Abs()
	if expected.IsZero() {
		return false
	}
	ratio := actual.Abs().Div(expected)
	return ratio.Sub(decimal.NewFromInt(1)).Abs().LessThanOrEqual(tolerance)
}
