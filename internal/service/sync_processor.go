package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/ledger-sync/internal/domain"
	"github.com/josh-kwaku/ledger-sync/internal/logging"
	"github.com/josh-kwaku/ledger-sync/internal/metrics"
	"github.com/josh-kwaku/ledger-sync/internal/service/reconcile"
	"github.com/josh-kwaku/ledger-sync/internal/service/transfer"
)

type syncBatchRepo interface {
	ClaimPending(ctx context.Context, limit int, policy domain.SyncRetryPolicy) ([]domain.SyncBatch, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SyncBatchStatus, lastError *string) error
}

type spAccountRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
}

type importerFactory interface {
	For(account *domain.Account) *reconcile.Importer
}

type autoMatcher interface {
	AutoMatch(ctx context.Context, familyID uuid.UUID) (*transfer.MatchResult, error)
}

// SyncPayload is the body of a sync batch: one provider's normalized records
// for one account.
type SyncPayload struct {
	Transactions []reconcile.TransactionRecord `json:"transactions,omitempty"`
	Trades       []reconcile.TradeRecord       `json:"trades,omitempty"`
	Holdings     []reconcile.HoldingRecord     `json:"holdings,omitempty"`
	Valuations   []reconcile.ValuationRecord   `json:"valuations,omitempty"`
}

// SyncProcessor drains queued sync batches through the reconcilers and then
// auto-matches transfers for every family it touched.
type SyncProcessor struct {
	batches     syncBatchRepo
	accounts    spAccountRepo
	importers   importerFactory
	matcher     autoMatcher
	logger      *slog.Logger
	metrics     metrics.Recorder
	interval    time.Duration
	batchSize   int
	concurrency int
	retry       domain.SyncRetryPolicy
}

func NewSyncProcessor(
	batches syncBatchRepo,
	accounts spAccountRepo,
	importers importerFactory,
	matcher autoMatcher,
	logger *slog.Logger,
	rec metrics.Recorder,
	interval time.Duration,
	batchSize int,
	concurrency int,
	retry domain.SyncRetryPolicy,
) *SyncProcessor {
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &SyncProcessor{
		batches:     batches,
		accounts:    accounts,
		importers:   importers,
		matcher:     matcher,
		logger:      logger,
		metrics:     rec,
		interval:    interval,
		batchSize:   max(batchSize, 1),
		concurrency: max(concurrency, 1),
		retry:       retry,
	}
}

func (p *SyncProcessor) Start(ctx context.Context) {
	p.logger.Info("sync processor started", "interval", p.interval, "batch_size", p.batchSize)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("sync processor stopped")
			return
		case <-ticker.C:
			if _, err := p.ProcessPending(ctx); err != nil {
				p.logger.Error("failed to process sync batches", "error", err)
			}
		}
	}
}

// ProcessPending claims up to one batch-size of batches and processes them.
// A failing batch is marked failed, to be retried under the retry policy,
// and does not affect the others. It returns the number of batches claimed.
func (p *SyncProcessor) ProcessPending(ctx context.Context) (int, error) {
	ctx = logging.WithLogger(ctx, p.logger)

	batches, err := p.batches.ClaimPending(ctx, p.batchSize, p.retry)
	if err != nil {
		return 0, fmt.Errorf("ProcessPending: %w", err)
	}
	if len(batches) == 0 {
		return 0, nil
	}

	var (
		mu       sync.Mutex
		families = make(map[uuid.UUID]struct{})
	)
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, batch := range batches {
		g.Go(func() error {
			familyID, ok := p.processBatch(ctx, batch)
			if ok {
				mu.Lock()
				families[familyID] = struct{}{}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for familyID := range families {
		if _, err := p.matcher.AutoMatch(ctx, familyID); err != nil {
			p.logger.Error("transfer auto-match after sync failed", "family_id", familyID, "error", err)
		}
	}
	return len(batches), nil
}

// processBatch applies one batch and records its outcome. It reports the
// account's family when any record may have changed the ledger.
func (p *SyncProcessor) processBatch(ctx context.Context, batch domain.SyncBatch) (uuid.UUID, bool) {
	start := time.Now()
	ctx, log := logging.With(ctx, "sync_batch_id", batch.ID, "account_id", batch.AccountID, "source", batch.Source)

	familyID, touched, err := p.applyBatch(ctx, batch)

	status := domain.SyncBatchStatusProcessed
	var lastError *string
	if err != nil {
		status = domain.SyncBatchStatusFailed
		msg := err.Error()
		lastError = &msg
		log.Error("sync batch failed", "attempts", batch.Attempts, "error", err)
		if p.retry.Exhausted(batch.Attempts) {
			log.Warn("sync batch will not be retried", "max_attempts", p.retry.MaxAttempts)
		}
	}
	if uerr := p.batches.UpdateStatus(ctx, batch.ID, status, lastError); uerr != nil {
		log.Error("failed to record sync batch status", "status", status, "error", uerr)
	}
	p.metrics.RecordBatch(string(status), time.Since(start))
	return familyID, touched
}

func (p *SyncProcessor) applyBatch(ctx context.Context, batch domain.SyncBatch) (uuid.UUID, bool, error) {
	var payload SyncPayload
	if err := json.Unmarshal(batch.Payload, &payload); err != nil {
		return uuid.Nil, false, fmt.Errorf("malformed payload: %w", err)
	}

	account, err := p.accounts.GetByID(ctx, batch.AccountID)
	if err != nil {
		return uuid.Nil, false, err
	}
	imp := p.importers.For(account)

	var errs []error
	for _, rec := range payload.Transactions {
		if rec.Source == "" {
			rec.Source = batch.Source
		}
		if _, err := imp.ImportTransaction(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("transaction %s: %w", rec.ExternalID, err))
		}
	}
	for _, rec := range payload.Trades {
		if rec.Source == "" {
			rec.Source = batch.Source
		}
		if _, err := imp.ImportTrade(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("trade %s: %w", rec.ExternalID, err))
		}
	}
	for _, rec := range payload.Holdings {
		if rec.ProviderLinkID == nil {
			rec.ProviderLinkID = batch.ProviderLinkID
		}
		if _, err := imp.ImportHolding(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("holding %s on %s: %w", rec.SecurityID, rec.Date.Format(time.DateOnly), err))
		}
	}
	for _, rec := range payload.Valuations {
		if rec.Source == "" {
			rec.Source = batch.Source
		}
		if _, err := imp.ImportValuation(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("valuation %s: %w", rec.ExternalID, err))
		}
	}

	if skipped := imp.Skipped(); len(skipped) > 0 {
		logging.FromContext(ctx).Info("sync batch left records untouched", "skipped", len(skipped))
	}
	return account.FamilyID, true, errors.Join(errs...)
}
