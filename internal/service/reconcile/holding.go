package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/ledger-sync/internal/domain"
	"github.com/josh-kwaku/ledger-sync/internal/logging"
	"github.com/josh-kwaku/ledger-sync/internal/metrics"
	"github.com/josh-kwaku/ledger-sync/internal/repository"
)

const recordHolding = "holding"

// ImportHolding creates or updates the position snapshot for a security on a
// date. A row owned by a different provider link is never modified.
func (i *Importer) ImportHolding(ctx context.Context, rec HoldingRecord) (*domain.Holding, error) {
	if err := rec.validate(); err != nil {
		return nil, fmt.Errorf("ImportHolding: %w", err)
	}
	rec.Date = dateOnly(rec.Date)
	ctx, _ = logging.With(ctx, "account_id", i.account.ID, "security_id", rec.SecurityID, "holding_date", rec.Date.Format("2006-01-02"))

	var (
		result  *domain.Holding
		outcome metrics.Outcome
	)
	err := i.svc.db.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, outcome, err = i.importHolding(ctx, tx, rec)
		if err != nil || !rec.DeleteFuture || outcome == metrics.OutcomeSkipped {
			return err
		}
		return i.deleteFutureHoldings(ctx, tx, result, rec.ProviderLinkID)
	})
	if err != nil {
		return nil, fmt.Errorf("ImportHolding: %w", err)
	}
	i.svc.metrics.RecordImport(recordHolding, outcome)
	return result, nil
}

func (i *Importer) importHolding(ctx context.Context, tx *sql.Tx, rec HoldingRecord) (*domain.Holding, metrics.Outcome, error) {
	security, err := i.svc.securities.GetByID(ctx, tx, rec.SecurityID)
	if err != nil {
		return nil, "", err
	}

	h, err := i.locateHolding(ctx, tx, rec, security)
	if err != nil {
		return nil, "", err
	}
	if h != nil && h.OwnedByOther(rec.ProviderLinkID) {
		return i.providerConflict(ctx, h, rec), metrics.OutcomeSkipped, nil
	}

	// The row being written would collide with one another link owns.
	other, err := i.svc.holdings.FindByCompositeKey(ctx, tx, i.account.ID, i.targetSecurity(h, security), rec.Date, rec.Currency)
	switch {
	case err == nil:
		if (h == nil || other.ID != h.ID) && other.OwnedByOther(rec.ProviderLinkID) {
			return i.providerConflict(ctx, other, rec), metrics.OutcomeSkipped, nil
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, "", err
	}

	isNew := h == nil
	if isNew {
		now := i.svc.now()
		h = &domain.Holding{ID: uuid.New(), AccountID: i.account.ID, CreatedAt: now}
	}
	i.assignHolding(h, isNew, rec, security)

	err = repository.Savepoint(ctx, tx, "import_holding", func() error {
		if isNew {
			return i.svc.holdings.Create(ctx, tx, h)
		}
		return i.svc.holdings.Update(ctx, tx, h)
	})
	if repository.IsUniqueViolation(err) {
		return i.adoptCollidingHolding(ctx, tx, h, isNew, rec, security)
	}
	if err != nil {
		return nil, "", err
	}

	if isNew {
		return h, metrics.OutcomeCreated, nil
	}
	return h, metrics.OutcomeUpdated, nil
}

// locateHolding tries, in order: external id, provider security, provider
// ticker, then ledger security. Without an external id the composite key is
// matched directly.
func (i *Importer) locateHolding(ctx context.Context, tx *sql.Tx, rec HoldingRecord, security *domain.Security) (*domain.Holding, error) {
	acct, link := i.account.ID, rec.ProviderLinkID

	var lookups []func() (*domain.Holding, error)
	if rec.ExternalID != "" {
		lookups = []func() (*domain.Holding, error){
			func() (*domain.Holding, error) {
				return i.svc.holdings.FindByExternalID(ctx, tx, acct, rec.ExternalID)
			},
			func() (*domain.Holding, error) {
				return i.svc.holdings.FindByProviderSecurity(ctx, tx, acct, security.ID, rec.Date, rec.Currency, link)
			},
			func() (*domain.Holding, error) {
				return i.svc.holdings.FindByProviderTicker(ctx, tx, acct, security.Ticker, rec.Date, rec.Currency, link)
			},
			func() (*domain.Holding, error) {
				return i.svc.holdings.FindBySecurity(ctx, tx, acct, security.ID, rec.Date, rec.Currency, link)
			},
		}
	} else {
		lookups = []func() (*domain.Holding, error){
			func() (*domain.Holding, error) {
				return i.svc.holdings.FindByCompositeKey(ctx, tx, acct, security.ID, rec.Date, rec.Currency)
			},
		}
	}

	for _, lookup := range lookups {
		h, err := lookup()
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// targetSecurity is the ledger security the holding will carry after the
// write.
func (i *Importer) targetSecurity(h *domain.Holding, provider *domain.Security) uuid.UUID {
	if h != nil && h.SecurityLocked {
		return h.SecurityID
	}
	return provider.ID
}

func (i *Importer) assignHolding(h *domain.Holding, isNew bool, rec HoldingRecord, security *domain.Security) {
	h.Date = rec.Date
	h.Currency = rec.Currency
	h.Quantity = rec.Quantity
	h.Amount = rec.Amount
	h.Price = rec.price()
	h.UpdatedAt = i.svc.now()

	providerSec := security.ID
	h.ProviderSecurityID = &providerSec
	if isNew || !h.SecurityLocked {
		h.SecurityID = security.ID
	}

	if rec.ExternalID != "" {
		ext := rec.ExternalID
		h.ExternalID = &ext
	}
	if rec.ProviderLinkID != nil {
		link := *rec.ProviderLinkID
		h.ProviderLinkID = &link
	}

	existing := h
	if isNew {
		existing = nil
	}
	decision := domain.ReconcileCostBasis(existing, rec.CostBasis, domain.CostBasisProvider)
	if decision.ShouldUpdate {
		h.CostBasis = decision.CostBasis
		h.CostBasisSource = decision.Source
	}
}

// adoptCollidingHolding handles a write that hit the composite unique key,
// typically because a concurrent sync inserted the row first. The existing
// row is adopted when no other link owns it.
func (i *Importer) adoptCollidingHolding(ctx context.Context, tx *sql.Tx, attempted *domain.Holding, wasNew bool, rec HoldingRecord, security *domain.Security) (*domain.Holding, metrics.Outcome, error) {
	existing, err := i.svc.holdings.FindByCompositeKey(ctx, tx, i.account.ID, attempted.SecurityID, rec.Date, rec.Currency)
	if err != nil {
		return nil, "", err
	}
	if existing.OwnedByOther(rec.ProviderLinkID) {
		return i.providerConflict(ctx, existing, rec), metrics.OutcomeSkipped, nil
	}

	if !wasNew {
		// The external id stays on the row that already carries it.
		rec.ExternalID = ""
	}
	i.assignHolding(existing, false, rec, security)
	if err := i.svc.holdings.Update(ctx, tx, existing); err != nil {
		return nil, "", err
	}
	logging.FromContext(ctx).Info("adopted existing holding after key collision", "holding_id", existing.ID)
	return existing, metrics.OutcomeUpdated, nil
}

func (i *Importer) providerConflict(ctx context.Context, h *domain.Holding, rec HoldingRecord) *domain.Holding {
	logging.FromContext(ctx).Warn("holding owned by another provider link, leaving untouched",
		"holding_id", h.ID, "owner_link_id", h.ProviderLinkID, "incoming_link_id", rec.ProviderLinkID)
	i.skip(ctx, domain.SkipEvent{
		RecordType: recordHolding,
		ExternalID: rec.ExternalID,
		RowID:      h.ID,
		Reason:     domain.SkipReasonProviderConflict,
	})
	return h
}

// deleteFutureHoldings removes holdings of the same security dated after h,
// unless a provider link on the account forbids deletion.
func (i *Importer) deleteFutureHoldings(ctx context.Context, tx *sql.Tx, h *domain.Holding, linkID *uuid.UUID) error {
	links, err := i.svc.links.ListByAccount(ctx, tx, i.account.ID)
	if err != nil {
		return err
	}
	if domain.HoldingDeletionLocked(links) {
		logging.FromContext(ctx).Info("future holding deletion locked by provider link")
		return nil
	}
	n, err := i.svc.holdings.DeleteFuture(ctx, tx, i.account.ID, h.SecurityID, h.Date, linkID)
	if err != nil {
		return err
	}
	if n > 0 {
		logging.FromContext(ctx).Info("deleted future holdings", "count", n)
	}
	return nil
}

// RemapHoldingSecurity points a holding at a user-chosen security. Later
// syncs keep updating the position but no longer reassign its security.
func (i *Importer) RemapHoldingSecurity(ctx context.Context, holdingID, securityID uuid.UUID) (*domain.Holding, error) {
	return i.changeHoldingSecurity(ctx, "RemapHoldingSecurity", holdingID, func(tx *sql.Tx, h *domain.Holding) error {
		if _, err := i.svc.securities.GetByID(ctx, tx, securityID); err != nil {
			return err
		}
		h.RemapSecurity(securityID)
		return nil
	})
}

// ResetHoldingSecurity undoes a remap, restoring the security the provider
// asserted.
func (i *Importer) ResetHoldingSecurity(ctx context.Context, holdingID uuid.UUID) (*domain.Holding, error) {
	return i.changeHoldingSecurity(ctx, "ResetHoldingSecurity", holdingID, func(_ *sql.Tx, h *domain.Holding) error {
		if !h.ResetToProviderSecurity() {
			return fmt.Errorf("%w: holding has no provider security", domain.ErrInvalidRecord)
		}
		return nil
	})
}

func (i *Importer) changeHoldingSecurity(ctx context.Context, op string, holdingID uuid.UUID, change func(tx *sql.Tx, h *domain.Holding) error) (*domain.Holding, error) {
	ctx, _ = logging.With(ctx, "account_id", i.account.ID, "holding_id", holdingID)

	var h *domain.Holding
	err := i.svc.db.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		h, err = i.svc.holdings.GetByID(ctx, tx, i.account.ID, holdingID)
		if err != nil {
			return err
		}
		if err := change(tx, h); err != nil {
			return err
		}
		h.UpdatedAt = i.svc.now()
		err = i.svc.holdings.Update(ctx, tx, h)
		if repository.IsUniqueViolation(err) {
			return fmt.Errorf("%w: security %s on %s", domain.ErrHoldingExists, h.SecurityID, h.Date.Format("2006-01-02"))
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	logging.FromContext(ctx).Info("holding security changed",
		"security_id", h.SecurityID, "security_locked", h.SecurityLocked)
	return h, nil
}
