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

const recordTransaction = "transaction"

// errKeyClaimed reports that a concurrent import committed the record's key
// while this one was resolving its row.
var errKeyClaimed = errors.New("provider key claimed concurrently")

// transactionPlan is the outcome of resolving which row an incoming
// transaction record lands on.
type transactionPlan struct {
	entry      *domain.Entry
	isNew      bool
	pendingHit bool
}

// ImportTransaction creates or updates the transaction identified by
// (account, source, external id). It never creates a second row for the same
// key and never changes content on protected rows.
func (i *Importer) ImportTransaction(ctx context.Context, rec TransactionRecord) (*domain.Entry, error) {
	if err := rec.validate(); err != nil {
		return nil, fmt.Errorf("ImportTransaction: %w", err)
	}
	rec.Date = dateOnly(rec.Date)
	ctx, _ = logging.With(ctx, "account_id", i.account.ID, "source", rec.Source, "external_id", rec.ExternalID)

	var (
		result  *domain.Entry
		outcome metrics.Outcome
	)
	err := i.svc.db.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, outcome, err = i.importTransaction(ctx, tx, rec)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ImportTransaction: %w", err)
	}
	i.svc.metrics.RecordImport(recordTransaction, outcome)
	return result, nil
}

func (i *Importer) importTransaction(ctx context.Context, tx *sql.Tx, rec TransactionRecord) (*domain.Entry, metrics.Outcome, error) {
	existing, err := i.svc.entries.FindByExternalID(ctx, tx, i.account.ID, rec.Source, rec.ExternalID)
	switch {
	case err == nil:
		return i.updateTransaction(ctx, tx, existing, rec)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, "", err
	}

	absorbed, err := i.svc.entries.FindBySupersededID(ctx, tx, i.account.ID, rec.Source, rec.ExternalID)
	switch {
	case err == nil:
		i.skip(ctx, domain.SkipEvent{
			RecordType: recordTransaction,
			ExternalID: rec.ExternalID,
			Source:     rec.Source,
			RowID:      absorbed.ID,
			Reason:     domain.SkipReasonSuperseded,
			Detail:     "posted as " + deref(absorbed.ExternalID),
		})
		return absorbed, metrics.OutcomeSkipped, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, "", err
	}

	plan, done, err := i.resolveTransaction(ctx, tx, rec)
	if errors.Is(err, errKeyClaimed) {
		return i.updateClaimedKey(ctx, tx, rec)
	}
	if err != nil || done != nil {
		return done, metrics.OutcomeSkipped, err
	}

	outcome := metrics.OutcomeCreated
	if !plan.isNew {
		outcome = metrics.OutcomeClaimed
	}
	if err := i.assignTransaction(ctx, plan.entry, rec); err != nil {
		return nil, "", err
	}

	err = repository.Savepoint(ctx, tx, "import_transaction", func() error {
		if plan.isNew {
			return i.svc.entries.Create(ctx, tx, plan.entry)
		}
		return i.svc.entries.Update(ctx, tx, plan.entry)
	})
	if repository.IsUniqueViolation(err) {
		return i.updateClaimedKey(ctx, tx, rec)
	}
	if err != nil {
		return nil, "", err
	}

	if plan.isNew && !plan.pendingHit && !rec.pending() {
		if err := i.suggestPendingMatch(ctx, tx, plan.entry); err != nil {
			return nil, "", err
		}
	}
	return plan.entry, outcome, nil
}

// updateClaimedKey applies rec to the row a concurrent import created for
// the same key first.
func (i *Importer) updateClaimedKey(ctx context.Context, tx *sql.Tx, rec TransactionRecord) (*domain.Entry, metrics.Outcome, error) {
	logging.FromContext(ctx).Info("transaction key claimed concurrently, updating instead")
	existing, err := i.svc.entries.FindByExternalID(ctx, tx, i.account.ID, rec.Source, rec.ExternalID)
	if err != nil {
		return nil, "", err
	}
	return i.updateTransaction(ctx, tx, existing, rec)
}

// resolveTransaction picks the row a record with an unseen key lands on.
// When the chosen row is protected it is only linked, and returned as done.
func (i *Importer) resolveTransaction(ctx context.Context, tx *sql.Tx, rec TransactionRecord) (*transactionPlan, *domain.Entry, error) {
	dup, err := i.findDuplicate(ctx, tx, rec)
	if err != nil {
		return nil, nil, err
	}
	if dup != nil {
		if done, err := i.linkIfProtected(ctx, tx, dup, rec); err != nil || done {
			return nil, dup, err
		}
		return &transactionPlan{entry: dup}, nil, nil
	}

	if !rec.pending() {
		hit, err := i.findPendingMatch(ctx, tx, rec)
		if err != nil {
			return nil, nil, err
		}
		if hit != nil {
			logging.FromContext(ctx).Info("posted transaction replaces pending",
				"entry_id", hit.ID, "pending_external_id", deref(hit.ExternalID))
			if t, ok := hit.Transaction(); ok {
				if hit.HasProvider() && *hit.ExternalID != rec.ExternalID {
					t.Extra = t.Extra.Supersede(rec.Source, *hit.ExternalID)
				}
				delete(t.Extra, domain.PostedMatchKey)
				t.Extra = t.Extra.Merge(domain.Extra{rec.Source: map[string]any{"pending": false}})
			}
			if done, err := i.linkIfProtected(ctx, tx, hit, rec); err != nil || done {
				return nil, hit, err
			}
			return &transactionPlan{entry: hit, pendingHit: true}, nil, nil
		}
	}

	return &transactionPlan{
		entry: &domain.Entry{
			ID:          uuid.New(),
			AccountID:   i.account.ID,
			Enrichments: domain.Enrichments{},
			CreatedAt:   i.svc.now(),
			Payload: &domain.Transaction{
				Kind:  domain.TransactionKindStandard,
				Extra: domain.Extra{},
			},
		},
		isNew: true,
	}, nil, nil
}

// linkIfProtected attaches the record's key to a protected row without
// touching its content. It reports whether the row was protected.
func (i *Importer) linkIfProtected(ctx context.Context, tx *sql.Tx, e *domain.Entry, rec TransactionRecord) (bool, error) {
	reason := e.ProtectionReason()
	if reason == "" {
		return false, nil
	}
	err := repository.Savepoint(ctx, tx, "link_transaction", func() error {
		return i.svc.entries.UpdateLink(ctx, tx, e.ID, rec.ExternalID, rec.Source)
	})
	if repository.IsUniqueViolation(err) {
		return true, errKeyClaimed
	}
	if err != nil {
		return true, err
	}
	e.Link(rec.ExternalID, rec.Source)
	if t, ok := e.Transaction(); ok {
		t.Extra = t.Extra.Merge(rec.Extra)
		if err := i.svc.entries.UpdateExtra(ctx, tx, e.ID, t.Extra); err != nil {
			return true, err
		}
	}
	i.skip(ctx, domain.SkipEvent{
		RecordType: recordTransaction,
		ExternalID: rec.ExternalID,
		Source:     rec.Source,
		RowID:      e.ID,
		Reason:     reason,
		Detail:     "linked without content changes",
	})
	return true, nil
}

func (i *Importer) updateTransaction(ctx context.Context, tx *sql.Tx, e *domain.Entry, rec TransactionRecord) (*domain.Entry, metrics.Outcome, error) {
	if e.Kind() != domain.EntryKindTransaction {
		return nil, "", fmt.Errorf("%w: %s %s is a %s", domain.ErrTypeCollision, rec.Source, rec.ExternalID, e.Kind())
	}

	if reason := e.ProtectionReason(); reason != "" {
		if err := i.mergeExtra(ctx, tx, e, rec.Extra); err != nil {
			return nil, "", err
		}
		i.skip(ctx, domain.SkipEvent{
			RecordType: recordTransaction,
			ExternalID: rec.ExternalID,
			Source:     rec.Source,
			RowID:      e.ID,
			Reason:     reason,
		})
		return e, metrics.OutcomeSkipped, nil
	}

	if err := i.assignTransaction(ctx, e, rec); err != nil {
		return nil, "", err
	}
	if err := i.svc.entries.Update(ctx, tx, e); err != nil {
		return nil, "", err
	}
	return e, metrics.OutcomeUpdated, nil
}

// mergeExtra persists provider metadata, which is allowed on protected rows.
func (i *Importer) mergeExtra(ctx context.Context, tx *sql.Tx, e *domain.Entry, extra domain.Extra) error {
	t, ok := e.Transaction()
	if !ok || len(extra) == 0 {
		return nil
	}
	t.Extra = t.Extra.Merge(extra)
	return i.svc.entries.UpdateExtra(ctx, tx, e.ID, t.Extra)
}

// assignTransaction copies provider values onto e, leaving enriched
// attributes alone when a higher-priority source owns them.
func (i *Importer) assignTransaction(ctx context.Context, e *domain.Entry, rec TransactionRecord) error {
	t, ok := e.Transaction()
	if !ok {
		return fmt.Errorf("%w: entry %s is a %s", domain.ErrTypeCollision, e.ID, e.Kind())
	}
	now := i.svc.now()
	if e.Enrichments == nil {
		e.Enrichments = domain.Enrichments{}
	}

	e.Link(rec.ExternalID, rec.Source)
	e.Date = rec.Date
	e.Amount = rec.Amount
	e.Currency = rec.Currency
	e.UpdatedAt = now

	name := strings.TrimSpace(rec.Name)
	if name != "" {
		if e.Enrichments.Apply(domain.AttrName, name, rec.Source, now) {
			e.Name = name
		} else {
			logging.FromContext(ctx).Debug("name kept from higher priority source",
				"entry_id", e.ID, "owner", e.Enrichments.Source(domain.AttrName))
		}
	}
	if e.Name == "" {
		e.Name = "Unknown transaction"
	}
	if rec.Notes != nil && e.Enrichments.Apply(domain.AttrNotes, *rec.Notes, rec.Source, now) {
		e.Notes = rec.Notes
	}
	if rec.CategoryID != nil && e.Enrichments.Apply(domain.AttrCategoryID, rec.CategoryID.String(), rec.Source, now) {
		t.CategoryID = rec.CategoryID
	}
	if rec.MerchantID != nil && e.Enrichments.Apply(domain.AttrMerchantID, rec.MerchantID.String(), rec.Source, now) {
		t.MerchantID = rec.MerchantID
	}

	label := rec.ActivityLabel
	if label == nil && i.account.AccountType.IsInvestment() {
		if inferred, ok := InferActivityLabel(name); ok {
			label = &inferred
		}
	}
	if label != nil {
		t.InvestmentActivityLabel = label
		if err := i.applyLabelKind(ctx, e, t, *label, rec.Source); err != nil {
			return err
		}
	}

	if t.Extra == nil {
		t.Extra = domain.Extra{}
	}
	t.Extra = t.Extra.Merge(rec.Extra)
	return nil
}

// applyLabelKind derives the transaction kind, and for contributions the
// family's contribution category, from an activity label.
func (i *Importer) applyLabelKind(ctx context.Context, e *domain.Entry, t *domain.Transaction, label domain.ActivityLabel, source string) error {
	var kind domain.TransactionKind
	switch {
	case label.IsFundsMovement():
		kind = domain.TransactionKindFundsMovement
	case label == domain.ActivityContribution:
		kind = domain.TransactionKindInvestmentContribution
	default:
		return nil
	}

	now := i.svc.now()
	if e.Enrichments.Apply(domain.AttrKind, string(kind), source, now) {
		t.Kind = kind
	}
	if kind != domain.TransactionKindInvestmentContribution || t.CategoryID != nil {
		return nil
	}

	family, err := i.loadFamily(ctx)
	if err != nil {
		return err
	}
	if family.InvestmentContributionsCategoryID == nil {
		return nil
	}
	cat := *family.InvestmentContributionsCategoryID
	if e.Enrichments.Apply(domain.AttrCategoryID, cat.String(), source, now) {
		t.CategoryID = &cat
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
