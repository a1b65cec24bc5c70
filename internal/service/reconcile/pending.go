package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/ledger-sync/internal/domain"
	"github.com/josh-kwaku/ledger-sync/internal/logging"
)

// findDuplicate looks for a manually entered or CSV-imported transaction the
// incoming record should claim. A candidate with the same name wins; without
// one, only a sole candidate is claimed.
func (i *Importer) findDuplicate(ctx context.Context, tx *sql.Tx, rec TransactionRecord) (*domain.Entry, error) {
	candidates, err := i.svc.entries.FindProviderlessDuplicates(ctx, tx, i.account.ID, rec.Date, rec.Amount, rec.Currency)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	name := strings.TrimSpace(rec.Name)
	for idx := range candidates {
		if name != "" && strings.EqualFold(strings.TrimSpace(candidates[idx].Name), name) {
			return &candidates[idx], nil
		}
	}
	if len(candidates) == 1 {
		return &candidates[0], nil
	}
	logging.FromContext(ctx).Info("several unlinked duplicates, not claiming any", "candidates", len(candidates))
	return nil, nil
}

// findPendingMatch finds the pending row a posted record replaces: first by
// the provider's explicit pending link, then by exact amount within the
// lookback window, then by a single close candidate in the fuzzy window.
func (i *Importer) findPendingMatch(ctx context.Context, tx *sql.Tx, rec TransactionRecord) (*domain.Entry, error) {
	if rec.PendingLinkID != "" {
		e, err := i.svc.entries.FindByExternalID(ctx, tx, i.account.ID, rec.Source, rec.PendingLinkID)
		switch {
		case err == nil && e.Kind() == domain.EntryKindTransaction:
			return e, nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}

	m := i.svc.matching
	exactFrom := daysBefore(rec.Date, m.PendingExactWindowDays)
	fuzzyFrom := daysBefore(rec.Date, m.PendingFuzzyWindowDays)
	from := exactFrom
	if fuzzyFrom.Before(from) {
		from = fuzzyFrom
	}
	candidates, err := i.svc.entries.FindPendingTransactions(ctx, tx, i.account.ID, rec.Source, rec.Currency, from, rec.Date, uuid.Nil)
	if err != nil {
		return nil, err
	}
	for idx := range candidates {
		c := &candidates[idx]
		if !c.Date.Before(exactFrom) && c.Amount.Equal(rec.Amount) {
			return c, nil
		}
	}

	matches := convergingCandidates(rec, candidates, fuzzyFrom, m.MediumTolerance(), m.NameSimilarityThreshold)
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	}
	logging.FromContext(ctx).Info("several pending transactions could have posted, not converging", "candidates", len(matches))
	return nil, nil
}

// convergingCandidates returns the pending candidates dated on or after from
// whose amount is within tolerance of rec and whose name or merchant agrees
// with it, for example a restaurant charge that settled with a tip.
func convergingCandidates(rec TransactionRecord, candidates []domain.Entry, from time.Time, tolerance decimal.Decimal, nameThreshold float64) []*domain.Entry {
	var out []*domain.Entry
	for idx := range candidates {
		c := &candidates[idx]
		if c.Date.Before(from) {
			continue
		}
		delta, ok := amountDelta(rec.Amount, c.Amount)
		if !ok || delta.GreaterThan(tolerance) {
			continue
		}
		if namesAgree(rec.Name, c.Name, nameThreshold) || recordMerchantMatches(rec, c) {
			out = append(out, c)
		}
	}
	return out
}

func recordMerchantMatches(rec TransactionRecord, c *domain.Entry) bool {
	t, ok := c.Transaction()
	if !ok || rec.MerchantID == nil || t.MerchantID == nil {
		return false
	}
	return *rec.MerchantID == *t.MerchantID
}
