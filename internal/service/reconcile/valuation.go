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

const recordValuation = "valuation"

// ImportValuation creates or updates the balance snapshot identified by
// (account, source, external id). Protected valuations are skipped.
func (i *Importer) ImportValuation(ctx context.Context, rec ValuationRecord) (*domain.Entry, error) {
	if err := rec.validate(); err != nil {
		return nil, fmt.Errorf("ImportValuation: %w", err)
	}
	rec.Date = dateOnly(rec.Date)
	ctx, _ = logging.With(ctx, "account_id", i.account.ID, "source", rec.Source, "external_id", rec.ExternalID)

	var (
		result  *domain.Entry
		outcome metrics.Outcome
	)
	err := i.svc.db.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, outcome, err = i.importValuation(ctx, tx, rec)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ImportValuation: %w", err)
	}
	i.svc.metrics.RecordImport(recordValuation, outcome)
	return result, nil
}

func (i *Importer) importValuation(ctx context.Context, tx *sql.Tx, rec ValuationRecord) (*domain.Entry, metrics.Outcome, error) {
	e, err := i.svc.entries.FindByExternalID(ctx, tx, i.account.ID, rec.Source, rec.ExternalID)
	switch {
	case err == nil:
		return i.updateValuation(ctx, tx, e, rec)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, "", err
	}

	e = &domain.Entry{
		ID:          uuid.New(),
		AccountID:   i.account.ID,
		Enrichments: domain.Enrichments{},
		Payload:     &domain.Valuation{Kind: domain.ValuationKindReconciliation},
		CreatedAt:   i.svc.now(),
	}
	i.assignValuation(e, rec)

	err = repository.Savepoint(ctx, tx, "import_valuation", func() error {
		return i.svc.entries.Create(ctx, tx, e)
	})
	if repository.IsUniqueViolation(err) {
		existing, err := i.svc.entries.FindByExternalID(ctx, tx, i.account.ID, rec.Source, rec.ExternalID)
		if err != nil {
			return nil, "", err
		}
		return i.updateValuation(ctx, tx, existing, rec)
	}
	if err != nil {
		return nil, "", err
	}
	return e, metrics.OutcomeCreated, nil
}

func (i *Importer) updateValuation(ctx context.Context, tx *sql.Tx, e *domain.Entry, rec ValuationRecord) (*domain.Entry, metrics.Outcome, error) {
	if e.Kind() != domain.EntryKindValuation {
		return nil, "", fmt.Errorf("%w: %s %s is a %s", domain.ErrTypeCollision, rec.Source, rec.ExternalID, e.Kind())
	}
	if reason := e.ProtectionReason(); reason != "" {
		i.skip(ctx, domain.SkipEvent{
			RecordType: recordValuation,
			ExternalID: rec.ExternalID,
			Source:     rec.Source,
			RowID:      e.ID,
			Reason:     reason,
		})
		return e, metrics.OutcomeSkipped, nil
	}
	i.assignValuation(e, rec)
	if err := i.svc.entries.Update(ctx, tx, e); err != nil {
		return nil, "", err
	}
	return e, metrics.OutcomeUpdated, nil
}

func (i *Importer) assignValuation(e *domain.Entry, rec ValuationRecord) {
	now := i.svc.now()
	v, _ := e.Valuation()
	if rec.Kind != "" {
		v.Kind = rec.Kind
	}

	e.Link(rec.ExternalID, rec.Source)
	e.Date = rec.Date
	e.Amount = rec.Amount
	e.Currency = rec.Currency
	e.UpdatedAt = now

	name := strings.TrimSpace(rec.Name)
	if name == "" {
		name = "Balance update"
	}
	if e.Enrichments == nil {
		e.Enrichments = domain.Enrichments{}
	}
	if e.Enrichments.Apply(domain.AttrName, name, rec.Source, now) || e.Name == "" {
		e.Name = name
	}
}
