package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/josh-kwaku/ledger-sync/internal/config"
	"github.com/josh-kwaku/ledger-sync/internal/domain"
	"github.com/josh-kwaku/ledger-sync/internal/fx"
	"github.com/josh-kwaku/ledger-sync/internal/logging"
	"github.com/josh-kwaku/ledger-sync/internal/metrics"
	"github.com/josh-kwaku/ledger-sync/internal/repository"
)

type transferRepository interface {
	Candidates(ctx context.Context, tx *sql.Tx, familyID uuid.UUID, windowDays int) ([]repository.TransferCandidate, error)
	Create(ctx context.Context, tx *sql.Tx, t *domain.Transfer) error
}

type entryRepository interface {
	SetTransactionKind(ctx context.Context, tx *sql.Tx, id uuid.UUID, kind domain.TransactionKind, categoryID *uuid.UUID) error
}

type familyRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Family, error)
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
}

type rateRepository interface {
	GetRate(ctx context.Context, from, to domain.Currency, date time.Time) (decimal.Decimal, error)
}

// MatchResult lists the transfers one auto-match run created for a family.
type MatchResult struct {
	FamilyID uuid.UUID
	Matched  []domain.Transfer
	// NoRate counts cross-currency candidates skipped for a missing rate.
	NoRate int
}

// Matcher pairs inflows and outflows across a family's accounts. Runs for
// the same family are collapsed so at most one is in flight per process.
type Matcher struct {
	transfers   transferRepository
	entries     entryRepository
	families    familyRepository
	rates       rateRepository
	db          *repository.DB
	matching    config.Matching
	metrics     metrics.Recorder
	concurrency int

	inflight singleflight.Group
}

func NewMatcher(
	transfers transferRepository,
	entries entryRepository,
	families familyRepository,
	rates rateRepository,
	db *sql.DB,
	matching config.Matching,
	rec metrics.Recorder,
	concurrency int,
) *Matcher {
	if rec == nil {
		rec = metrics.Noop{}
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Matcher{
		transfers:   transfers,
		entries:     entries,
		families:    families,
		rates:       rates,
		db:          repository.NewDB(db),
		matching:    matching,
		metrics:     rec,
		concurrency: concurrency,
	}
}

// AutoMatch pairs unmatched transactions of one family. Candidates are taken
// closest date first and a transaction joins at most one transfer.
func (m *Matcher) AutoMatch(ctx context.Context, familyID uuid.UUID) (*MatchResult, error) {
	v, err, _ := m.inflight.Do(familyID.String(), func() (any, error) {
		return m.autoMatch(ctx, familyID)
	})
	if err != nil {
		return nil, fmt.Errorf("AutoMatch: %w", err)
	}
	return v.(*MatchResult), nil
}

// AutoMatchAll runs AutoMatch for every family with active accounts. A
// failing family is logged and does not stop the others.
func (m *Matcher) AutoMatchAll(ctx context.Context) ([]*MatchResult, error) {
	ids, err := m.families.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("AutoMatchAll: %w", err)
	}

	results := make([]*MatchResult, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for idx, id := range ids {
		g.Go(func() error {
			res, err := m.AutoMatch(ctx, id)
			if err != nil {
				logging.FromContext(ctx).Error("transfer auto-match failed", "family_id", id, "error", err)
				errs[idx] = fmt.Errorf("family %s: %w", id, err)
				return nil
			}
			results[idx] = res
			return nil
		})
	}
	_ = g.Wait()

	out := results[:0]
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, errors.Join(errs...)
}

func (m *Matcher) autoMatch(ctx context.Context, familyID uuid.UUID) (*MatchResult, error) {
	ctx, log := logging.With(ctx, "family_id", familyID)

	family, err := m.families.GetByID(ctx, familyID)
	if err != nil {
		return nil, err
	}
	rates := fx.NewRateService(m.rates)
	result := &MatchResult{FamilyID: familyID}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	candidates, err := m.transfers.Candidates(ctx, tx, familyID, m.matching.TransferDateWindowDays)
	if err != nil {
		return nil, err
	}

	used := make(map[uuid.UUID]struct{})
	for _, c := range candidates {
		if _, ok := used[c.InflowID]; ok {
			continue
		}
		if _, ok := used[c.OutflowID]; ok {
			continue
		}

		ok, err := m.amountsMatch(ctx, rates, c)
		if errors.Is(err, domain.ErrRateNotFound) {
			result.NoRate++
			log.Debug("no exchange rate for transfer candidate",
				"from", c.OutflowCurrency, "to", c.InflowCurrency, "date", c.OutflowDate.Format(time.DateOnly))
			continue
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		t := domain.Transfer{
			ID:                   uuid.New(),
			InflowTransactionID:  c.InflowID,
			OutflowTransactionID: c.OutflowID,
			Status:               domain.TransferStatusPending,
			CreatedAt:            time.Now().UTC(),
		}
		err = repository.Savepoint(ctx, tx, "auto_match_transfer", func() error {
			return m.createTransfer(ctx, tx, &t, c, family)
		})
		used[c.InflowID] = struct{}{}
		used[c.OutflowID] = struct{}{}
		if repository.IsUniqueViolation(err) {
			log.Info("transfer already recorded for candidate", "inflow_id", c.InflowID, "outflow_id", c.OutflowID)
			continue
		}
		if err != nil {
			return nil, err
		}
		result.Matched = append(result.Matched, t)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	m.metrics.RecordTransfers(len(result.Matched))
	if len(result.Matched) > 0 {
		log.Info("transfers auto-matched", "count", len(result.Matched))
	}
	return result, nil
}

func (m *Matcher) amountsMatch(ctx context.Context, rates *fx.RateService, c repository.TransferCandidate) (bool, error) {
	if c.InflowCurrency == c.OutflowCurrency {
		return c.InflowAmount.Neg().Equal(c.OutflowAmount), nil
	}
	converted, err := rates.Convert(ctx, c.OutflowAmount, c.OutflowCurrency, c.InflowCurrency, c.OutflowDate)
	if err != nil {
		return false, err
	}
	return fx.WithinTolerance(c.InflowAmount, converted, m.matching.FXTolerance()), nil
}

// createTransfer records the pair and reclassifies both sides. The outflow
// kind depends on the destination account.
func (m *Matcher) createTransfer(ctx context.Context, tx *sql.Tx, t *domain.Transfer, c repository.TransferCandidate, family *domain.Family) error {
	if err := m.transfers.Create(ctx, tx, t); err != nil {
		return err
	}
	if err := m.entries.SetTransactionKind(ctx, tx, c.InflowID, domain.TransactionKindFundsMovement, nil); err != nil {
		return err
	}

	kind := domain.KindForDestination(c.InflowAccountType)
	var category *uuid.UUID
	if kind == domain.TransactionKindInvestmentContribution {
		category = family.InvestmentContributionsCategoryID
	}
	return m.entries.SetTransactionKind(ctx, tx, c.OutflowID, kind, category)
}
