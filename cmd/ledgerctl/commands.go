package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/ledger-sync/internal/config"
	"github.com/josh-kwaku/ledger-sync/internal/domain"
	"github.com/josh-kwaku/ledger-sync/internal/repository"
	"github.com/josh-kwaku/ledger-sync/internal/service"
	"github.com/josh-kwaku/ledger-sync/internal/service/reconcile"
)

func runEnqueue(ctx context.Context, db *sql.DB, args []string) error {
	fs := newFlagSet("enqueue")
	accountID := fs.String("account", "", "account id")
	linkID := fs.String("link", "", "provider link id")
	source := fs.String("source", "", "provider source")
	key := fs.String("key", "", "idempotency key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("enqueue: exactly one payload file is required")
	}

	batch, err := buildBatch(*accountID, *linkID, *source, *key, fs.Arg(0))
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	err = repository.NewSyncBatchRepository(db).Create(ctx, batch)
	if errors.Is(err, domain.ErrDuplicateBatch) {
		slog.Info("sync batch already queued", "idempotency_key", batch.IdempotencyKey)
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	slog.Info("sync batch queued", "sync_batch_id", batch.ID, "idempotency_key", batch.IdempotencyKey)
	return nil
}

// buildBatch reads a payload file and checks it decodes as a sync payload
// before it is queued.
func buildBatch(accountID, linkID, source, key, path string) (*domain.SyncBatch, error) {
	account, err := uuid.Parse(accountID)
	if err != nil {
		return nil, fmt.Errorf("invalid account id: %w", err)
	}
	if source == "" {
		return nil, errors.New("source is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var payload service.SyncPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}

	if key == "" {
		key = fmt.Sprintf("%s:%s:%s", source, account, uuid.NewString())
	}
	b := &domain.SyncBatch{
		ID:             uuid.New(),
		IdempotencyKey: key,
		AccountID:      account,
		Source:         source,
		Payload:        raw,
		Status:         domain.SyncBatchStatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	if linkID != "" {
		id, err := uuid.Parse(linkID)
		if err != nil {
			return nil, fmt.Errorf("invalid link id: %w", err)
		}
		b.ProviderLinkID = &id
	}
	return b, nil
}

func runRate(ctx context.Context, db *sql.DB, args []string) error {
	fs := newFlagSet("rate")
	from := fs.String("from", "", "source currency")
	to := fs.String("to", "", "target currency")
	date := fs.String("date", "", "rate date (YYYY-MM-DD)")
	rate := fs.String("rate", "", "units of target per unit of source")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fromCur, err := domain.ParseCurrency(*from)
	if err != nil {
		return fmt.Errorf("rate: from: %w", err)
	}
	toCur, err := domain.ParseCurrency(*to)
	if err != nil {
		return fmt.Errorf("rate: to: %w", err)
	}
	day, err := time.Parse(time.DateOnly, *date)
	if err != nil {
		return fmt.Errorf("rate: date: %w", err)
	}
	r, err := decimal.NewFromString(*rate)
	if err != nil || !r.IsPositive() {
		return fmt.Errorf("rate: %q is not a positive decimal", *rate)
	}

	if err := repository.NewExchangeRateRepository(db).Upsert(ctx, fromCur, toCur, day, r); err != nil {
		return fmt.Errorf("rate: %w", err)
	}
	slog.Info("exchange rate stored", "from", fromCur, "to", toCur, "date", *date, "rate", r)
	return nil
}

func runAccount(ctx context.Context, db *sql.DB, args []string) error {
	fs := newFlagSet("account")
	familyID := fs.String("family", "", "family id")
	name := fs.String("name", "", "account name")
	kind := fs.String("type", string(domain.AccountTypeDepository), "account type")
	currency := fs.String("currency", string(domain.CurrencyUSD), "account currency")
	if err := fs.Parse(args); err != nil {
		return err
	}

	family, err := uuid.Parse(*familyID)
	if err != nil {
		return fmt.Errorf("account: invalid family id: %w", err)
	}
	cur, err := domain.ParseCurrency(*currency)
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}

	a := &domain.Account{
		ID:          uuid.New(),
		FamilyID:    family,
		Name:        *name,
		AccountType: domain.AccountType(*kind),
		Currency:    cur,
		Status:      domain.AccountStatusActive,
		CreatedAt:   time.Now().UTC(),
	}
	if err := repository.NewAccountRepository(db).Create(ctx, a); err != nil {
		return fmt.Errorf("account: %w", err)
	}
	fmt.Println(a.ID)
	return nil
}

func runAccounts(ctx context.Context, db *sql.DB, args []string) error {
	fs := newFlagSet("accounts")
	familyID := fs.String("family", "", "family id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	family, err := uuid.Parse(*familyID)
	if err != nil {
		return fmt.Errorf("accounts: invalid family id: %w", err)
	}

	accounts, err := repository.NewAccountRepository(db).GetByFamilyID(ctx, family)
	if err != nil {
		return fmt.Errorf("accounts: %w", err)
	}
	for _, a := range accounts {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n", a.ID, a.AccountType, a.Currency, a.Status, a.Name)
	}
	return nil
}

func runLink(ctx context.Context, db *sql.DB, args []string) error {
	fs := newFlagSet("link")
	accountID := fs.String("account", "", "account id")
	provider := fs.String("provider", "", "provider type")
	ref := fs.String("ref", "", "provider-side account reference")
	lock := fs.Bool("lock-deletion", false, "forbid pruning holdings on this account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	account, err := uuid.Parse(*accountID)
	if err != nil {
		return fmt.Errorf("link: invalid account id: %w", err)
	}

	l := &domain.ProviderLink{
		ID:                  uuid.New(),
		AccountID:           account,
		ProviderType:        domain.ProviderType(*provider),
		ProviderRef:         *ref,
		LockHoldingDeletion: *lock,
		CreatedAt:           time.Now().UTC(),
	}
	if err := repository.NewProviderLinkRepository(db).Create(ctx, l); err != nil {
		return fmt.Errorf("link: %w", err)
	}
	fmt.Println(l.ID)
	return nil
}

func runSecurity(ctx context.Context, db *sql.DB, args []string) error {
	fs := newFlagSet("security")
	ticker := fs.String("ticker", "", "ticker symbol")
	mic := fs.String("mic", "", "exchange MIC")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var displayName *string
	if *name != "" {
		displayName = name
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("security: %w", err)
	}
	defer tx.Rollback()

	s, err := repository.NewSecurityRepository(db).FindOrCreate(ctx, tx, *ticker, *mic, displayName)
	if err != nil {
		return fmt.Errorf("security: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("security: commit: %w", err)
	}
	fmt.Println(s.ID)
	return nil
}

type holdingArgs struct {
	account  uuid.UUID
	holding  uuid.UUID
	security uuid.UUID
	reset    bool
}

func parseHoldingArgs(args []string) (holdingArgs, error) {
	fs := newFlagSet("holding")
	accountID := fs.String("account", "", "account id")
	holdingID := fs.String("id", "", "holding id")
	securityID := fs.String("security", "", "security to remap the holding to")
	reset := fs.Bool("reset", false, "restore the provider security")
	if err := fs.Parse(args); err != nil {
		return holdingArgs{}, err
	}

	var (
		out holdingArgs
		err error
	)
	if out.account, err = uuid.Parse(*accountID); err != nil {
		return holdingArgs{}, fmt.Errorf("invalid account id: %w", err)
	}
	if out.holding, err = uuid.Parse(*holdingID); err != nil {
		return holdingArgs{}, fmt.Errorf("invalid holding id: %w", err)
	}
	out.reset = *reset
	switch {
	case out.reset && *securityID != "":
		return holdingArgs{}, errors.New("-security and -reset are mutually exclusive")
	case out.reset:
		return out, nil
	}
	if out.security, err = uuid.Parse(*securityID); err != nil {
		return holdingArgs{}, fmt.Errorf("invalid security id: %w", err)
	}
	return out, nil
}

func runHolding(ctx context.Context, db *sql.DB, args []string) error {
	a, err := parseHoldingArgs(args)
	if err != nil {
		return fmt.Errorf("holding: %w", err)
	}
	account, err := repository.NewAccountRepository(db).GetByID(ctx, a.account)
	if err != nil {
		return fmt.Errorf("holding: %w", err)
	}
	imp := reconcile.NewService(
		repository.NewEntryRepository(db),
		repository.NewHoldingRepository(db),
		repository.NewSecurityRepository(db),
		repository.NewProviderLinkRepository(db),
		repository.NewFamilyRepository(db),
		db,
		config.DefaultMatching(),
		nil,
	).For(account)

	var h *domain.Holding
	if a.reset {
		h, err = imp.ResetHoldingSecurity(ctx, a.holding)
	} else {
		h, err = imp.RemapHoldingSecurity(ctx, a.holding, a.security)
	}
	if err != nil {
		return fmt.Errorf("holding: %w", err)
	}
	fmt.Println(h.SecurityID)
	return nil
}
