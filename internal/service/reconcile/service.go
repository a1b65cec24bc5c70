package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/ledger-sync/internal/config"
	"github.com/josh-kwaku/ledger-sync/internal/domain"
	"github.com/josh-kwaku/ledger-sync/internal/logging"
	"github.com/josh-kwaku/ledger-sync/internal/metrics"
	"github.com/josh-kwaku/ledger-sync/internal/repository"
)

type entryRepo interface {
	GetByID(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Entry, error)
	FindByExternalID(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, source, externalID string) (*domain.Entry, error)
	FindBySupersededID(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, source, externalID string) (*domain.Entry, error)
	FindProviderlessDuplicates(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, date time.Time, amount decimal.Decimal, currency domain.Currency) ([]domain.Entry, error)
	FindPendingTransactions(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, source string, currency domain.Currency, from, to time.Time, excludeID uuid.UUID) ([]domain.Entry, error)
	Create(ctx context.Context, tx *sql.Tx, e *domain.Entry) error
	Update(ctx context.Context, tx *sql.Tx, e *domain.Entry) error
	UpdateLink(ctx context.Context, tx *sql.Tx, id uuid.UUID, externalID, source string) error
	UpdateExtra(ctx context.Context, tx *sql.Tx, id uuid.UUID, extra domain.Extra) error
}

type holdingRepo interface {
	GetByID(ctx context.Context, tx *sql.Tx, accountID, id uuid.UUID) (*domain.Holding, error)
	FindByExternalID(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, externalID string) (*domain.Holding, error)
	FindByProviderSecurity(ctx context.Context, tx *sql.Tx, accountID, securityID uuid.UUID, date time.Time, currency domain.Currency, linkID *uuid.UUID) (*domain.Holding, error)
	FindByProviderTicker(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, ticker string, date time.Time, currency domain.Currency, linkID *uuid.UUID) (*domain.Holding, error)
	FindBySecurity(ctx context.Context, tx *sql.Tx, accountID, securityID uuid.UUID, date time.Time, currency domain.Currency, linkID *uuid.UUID) (*domain.Holding, error)
	FindByCompositeKey(ctx context.Context, tx *sql.Tx, accountID, securityID uuid.UUID, date time.Time, currency domain.Currency) (*domain.Holding, error)
	Create(ctx context.Context, tx *sql.Tx, h *domain.Holding) error
	Update(ctx context.Context, tx *sql.Tx, h *domain.Holding) error
	DeleteFuture(ctx context.Context, tx *sql.Tx, accountID, securityID uuid.UUID, date time.Time, linkID *uuid.UUID) (int64, error)
}

type securityRepo interface {
	GetByID(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Security, error)
}

type providerLinkRepo interface {
	ListByAccount(ctx context.Context, tx *sql.Tx, accountID uuid.UUID) ([]domain.ProviderLink, error)
}

type familyRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Family, error)
}

// Service holds what every per-account Importer shares.
type Service struct {
	entries    entryRepo
	holdings   holdingRepo
	securities securityRepo
	links      providerLinkRepo
	families   familyRepo
	db         *repository.DB
	matching   config.Matching
	metrics    metrics.Recorder
	now        func() time.Time
}

func NewService(
	entries entryRepo,
	holdings holdingRepo,
	securities securityRepo,
	links providerLinkRepo,
	families familyRepo,
	db *sql.DB,
	matching config.Matching,
	rec metrics.Recorder,
) *Service {
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Service{
		entries:    entries,
		holdings:   holdings,
		securities: securities,
		links:      links,
		families:   families,
		db:         repository.NewDB(db),
		matching:   matching,
		metrics:    rec,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// For returns an Importer bound to account. Importers for different
// accounts may run concurrently.
func (s *Service) For(account *domain.Account) *Importer {
	return &Importer{svc: s, account: account}
}

// Importer reconciles provider records into one account. Skips are
// collected rather than returned as errors.
type Importer struct {
	svc     *Service
	account *domain.Account

	mu      sync.Mutex
	skipped []domain.SkipEvent
	family  *domain.Family
}

func (i *Importer) Account() *domain.Account {
	return i.account
}

// Skipped returns the records left untouched so far.
func (i *Importer) Skipped() []domain.SkipEvent {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]domain.SkipEvent, len(i.skipped))
	copy(out, i.skipped)
	return out
}

func (i *Importer) skip(ctx context.Context, ev domain.SkipEvent) {
	i.mu.Lock()
	i.skipped = append(i.skipped, ev)
	i.mu.Unlock()

	i.svc.metrics.RecordSkip(ev.RecordType, string(ev.Reason))
	logging.FromContext(ctx).Info("provider record skipped",
		"account_id", i.account.ID,
		"record_type", ev.RecordType,
		"external_id", ev.ExternalID,
		"source", ev.Source,
		"row_id", ev.RowID,
		"reason", ev.Reason,
	)
}

func (i *Importer) loadFamily(ctx context.Context) (*domain.Family, error) {
	i.mu.Lock()
	f := i.family
	i.mu.Unlock()
	if f != nil {
		return f, nil
	}

	f, err := i.svc.families.GetByID(ctx, i.account.FamilyID)
	if err != nil {
		return nil, fmt.Errorf("loadFamily: %w", err)
	}
	i.mu.Lock()
	i.family = f
	i.mu.Unlock()
	return f, nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBefore(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, -days)
}
