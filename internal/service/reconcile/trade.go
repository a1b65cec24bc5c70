package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/josh-kwaku/ledger-sync/internal/domain"
	"github.com/josh-kwaku/ledger-sync/internal/logging"
	"github.com/josh-kwaku/ledger-sync/internal/metrics"
	"github.com/josh-kwaku/ledger-sync/internal/repository"
)

const recordTrade = "trade"

// ImportTrade creates or updates the trade identified by (account, source,
// external id). Quantity, price and label always follow the provider.
func (i *Importer) ImportTrade(ctx context.Context, rec TradeRecord) (*domain.Entry, error) {
	if err := rec.validate(); err != nil {
		return nil, fmt.Errorf("ImportTrade: %w", err)
	}
	rec.Date = dateOnly(rec.Date)
	ctx, _ = logging.With(ctx, "account_id", i.account.ID, "source", rec.Source, "external_id", rec.ExternalID)

	var (
		result  *domain.Entry
		outcome metrics.Outcome
	)
	err := i.svc.db.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, outcome, err = i.importTrade(ctx, tx, rec)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ImportTrade: %w", err)
	}
	i.svc.metrics.RecordImport(recordTrade, outcome)
	return result, nil
}

func (i *Importer) importTrade(ctx context.Context, tx *sql.Tx, rec TradeRecord) (*domain.Entry, metrics.Outcome, error) {
	security, err := i.svc.securities.GetByID(ctx, tx, rec.SecurityID)
	if err != nil {
		return nil, "", err
	}

	e, err := i.svc.entries.FindByExternalID(ctx, tx, i.account.ID, rec.Source, rec.ExternalID)
	switch {
	case err == nil:
		if e.Kind() != domain.EntryKindTrade {
			return nil, "", fmt.Errorf("%w: %s %s is a %s", domain.ErrTypeCollision, rec.Source, rec.ExternalID, e.Kind())
		}
		i.assignTrade(e, rec, security)
		if err := i.svc.entries.Update(ctx, tx, e); err != nil {
			return nil, "", err
		}
		return e, metrics.OutcomeUpdated, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, "", err
	}

	e = &domain.Entry{
		ID:          uuid.New(),
		AccountID:   i.account.ID,
		Enrichments: domain.Enrichments{},
		Payload:     &domain.Trade{},
		CreatedAt:   i.svc.now(),
	}
	i.assignTrade(e, rec, security)

	err = repository.Savepoint(ctx, tx, "import_trade", func() error {
		return i.svc.entries.Create(ctx, tx, e)
	})
	if repository.IsUniqueViolation(err) {
		existing, err := i.svc.entries.FindByExternalID(ctx, tx, i.account.ID, rec.Source, rec.ExternalID)
		if err != nil {
			return nil, "", err
		}
		if existing.Kind() != domain.EntryKindTrade {
			return nil, "", fmt.Errorf("%w: %s %s is a %s", domain.ErrTypeCollision, rec.Source, rec.ExternalID, existing.Kind())
		}
		i.assignTrade(existing, rec, security)
		if err := i.svc.entries.Update(ctx, tx, existing); err != nil {
			return nil, "", err
		}
		return existing, metrics.OutcomeUpdated, nil
	}
	if err != nil {
		return nil, "", err
	}
	return e, metrics.OutcomeCreated, nil
}

func (i *Importer) assignTrade(e *domain.Entry, rec TradeRecord, security *domain.Security) {
	now := i.svc.now()
	t, _ := e.Trade()

	label := rec.ActivityLabel
	if label == nil {
		l := domain.ActivityBuy
		if rec.Quantity.IsNegative() {
			l = domain.ActivitySell
		}
		label = &l
	}

	amount := rec.Amount
	if amount.IsZero() {
		amount = rec.Quantity.Mul(rec.Price)
	}

	t.SecurityID = security.ID
	t.Quantity = rec.Quantity
	t.Price = rec.Price
	t.Currency = rec.Currency
	t.InvestmentActivityLabel = label

	e.Link(rec.ExternalID, rec.Source)
	e.Date = rec.Date
	e.Amount = amount
	e.Currency = rec.Currency
	e.UpdatedAt = now

	name := strings.TrimSpace(rec.Name)
	if name == "" {
		name = TradeName(rec.Quantity.IsNegative(), rec.Quantity.Abs().String(), security.Ticker)
	}
	if e.Enrichments == nil {
		e.Enrichments = domain.Enrichments{}
	}
	if e.Enrichments.Apply(domain.AttrName, name, rec.Source, now) || e.Name == "" {
		e.Name = name
	}
}

// TradeName builds the default display name, e.g. "Buy 10 shares of AAPL".
func TradeName(sell bool, quantity, ticker string) string {
	verb := "Buy"
	if sell {
		verb = "Sell"
	}
	unit := "shares"
	if quantity == "1" {
		unit = "share"
	}
	return fmt.Sprintf("%s %s %s of %s", verb, quantity, unit, ticker)
}
