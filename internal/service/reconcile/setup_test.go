package reconcile

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/ledger-sync/internal/config"
	"github.com/josh-kwaku/ledger-sync/internal/domain"
	"github.com/josh-kwaku/ledger-sync/internal/repository"
	"github.com/josh-kwaku/ledger-sync/internal/testutil"
)

type testEnv struct {
	db      *sql.DB
	svc     *Service
	entries *repository.EntryRepository
	family  *domain.Family
}

func setupReconcileTest(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	entries := repository.NewEntryRepository(db)
	svc := NewService(
		entries,
		repository.NewHoldingRepository(db),
		repository.NewSecurityRepository(db),
		repository.NewProviderLinkRepository(db),
		repository.NewFamilyRepository(db),
		db,
		config.DefaultMatching(),
		nil,
	)
	return &testEnv{
		db:      db,
		svc:     svc,
		entries: entries,
		family:  testutil.SeedFamily(t, db, "Test Family"),
	}
}

func (e *testEnv) account(t *testing.T, accountType domain.AccountType) *domain.Account {
	t.Helper()
	return testutil.SeedAccount(t, e.db, e.family.ID, accountType, domain.CurrencyUSD)
}

func (e *testEnv) load(t *testing.T, id uuid.UUID) *domain.Entry {
	t.Helper()
	return testutil.LoadEntry(t, e.db, e.entries.GetByID, id)
}

func (e *testEnv) findByKey(t *testing.T, accountID uuid.UUID, source, externalID string) *domain.Entry {
	t.Helper()

	tx, err := e.db.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	entry, err := e.entries.FindByExternalID(context.Background(), tx, accountID, source, externalID)
	require.NoError(t, err)
	return entry
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func pendingExtra(source string, pending bool) domain.Extra {
	return domain.Extra{source: map[string]any{"pending": pending}}
}
