package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/ledger-sync/internal/domain"
)

func SeedFamily(t *testing.T, db *sql.DB, name string) *domain.Family {
	t.Helper()

	f := &domain.Family{ID: uuid.New(), Name: name, Currency: domain.CurrencyUSD, CreatedAt: time.Now().UTC()}
	_, err := db.Exec(
		`INSERT INTO families (id, name, currency) VALUES ($1, $2, $3)`,
		f.ID, f.Name, f.Currency,
	)
	if err != nil {
		t.Fatalf("seed family: %v", err)
	}
	return f
}

func SeedCategory(t *testing.T, db *sql.DB, familyID uuid.UUID, name string) uuid.UUID {
	t.Helper()

	id := uuid.New()
	if _, err := db.Exec(`INSERT INTO categories (id, family_id, name) VALUES ($1, $2, $3)`, id, familyID, name); err != nil {
		t.Fatalf("seed category %s: %v", name, err)
	}
	return id
}

// SetContributionCategory configures the family's investment contributions
// category.
func SetContributionCategory(t *testing.T, db *sql.DB, familyID, categoryID uuid.UUID) {
	t.Helper()

	if _, err := db.Exec(
		`UPDATE families SET investment_contributions_category_id = $1 WHERE id = $2`,
		categoryID, familyID,
	); err != nil {
		t.Fatalf("set contribution category: %v", err)
	}
}

func SeedMerchant(t *testing.T, db *sql.DB, name string) uuid.UUID {
	t.Helper()

	id := uuid.New()
	if _, err := db.Exec(`INSERT INTO merchants (id, name) VALUES ($1, $2)`, id, name); err != nil {
		t.Fatalf("seed merchant %s: %v", name, err)
	}
	return id
}

func SeedAccount(t *testing.T, db *sql.DB, familyID uuid.UUID, accountType domain.AccountType, currency domain.Currency) *domain.Account {
	t.Helper()

	a := &domain.Account{
		ID:          uuid.New(),
		FamilyID:    familyID,
		Name:        string(accountType) + " " + string(currency),
		AccountType: accountType,
		Currency:    currency,
		Status:      domain.AccountStatusActive,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := db.Exec(
		`INSERT INTO accounts (id, family_id, name, account_type, currency, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.FamilyID, a.Name, a.AccountType, a.Currency, a.Status,
	)
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}

func SeedProviderLink(t *testing.T, db *sql.DB, accountID uuid.UUID, provider domain.ProviderType, lockDeletion bool) *domain.ProviderLink {
	t.Helper()

	l := &domain.ProviderLink{
		ID:                  uuid.New(),
		AccountID:           accountID,
		ProviderType:        provider,
		ProviderRef:         "ref-" + uuid.NewString()[:8],
		LockHoldingDeletion: lockDeletion,
	}
	_, err := db.Exec(
		`INSERT INTO account_providers (id, account_id, provider_type, provider_ref, lock_holding_deletion)
		 VALUES ($1, $2, $3, $4, $5)`,
		l.ID, l.AccountID, l.ProviderType, l.ProviderRef, l.LockHoldingDeletion,
	)
	if err != nil {
		t.Fatalf("seed provider link: %v", err)
	}
	return l
}

func SeedSecurity(t *testing.T, db *sql.DB, ticker, exchangeMIC string) *domain.Security {
	t.Helper()

	s := &domain.Security{ID: uuid.New(), Ticker: ticker, ExchangeMIC: exchangeMIC}
	if _, err := db.Exec(
		`INSERT INTO securities (id, ticker, exchange_mic) VALUES ($1, $2, $3)`,
		s.ID, s.Ticker, s.ExchangeMIC,
	); err != nil {
		t.Fatalf("seed security %s: %v", ticker, err)
	}
	return s
}

// EntryOpts describes a transaction row inserted directly, bypassing the
// importers, as a user or CSV import would create it.
type EntryOpts struct {
	Date         time.Time
	Amount       string
	Currency     domain.Currency
	Name         string
	ExternalID   string
	Source       string
	MerchantID   *uuid.UUID
	Extra        domain.Extra
	Excluded     bool
	UserModified bool
	ImportLocked bool
}

func SeedTransaction(t *testing.T, db *sql.DB, accountID uuid.UUID, o EntryOpts) uuid.UUID {
	t.Helper()

	if o.Currency == "" {
		o.Currency = domain.CurrencyUSD
	}
	if o.Extra == nil {
		o.Extra = domain.Extra{}
	}
	var extID, source *string
	if o.ExternalID != "" {
		extID, source = &o.ExternalID, &o.Source
	}

	id := uuid.New()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO entries (id, account_id, kind, date, amount, currency, name,
			external_id, source, excluded, user_modified, import_locked)
		 VALUES ($1, $2, 'transaction', $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, accountID, o.Date, decimal.RequireFromString(o.Amount), o.Currency, o.Name,
		extID, source, o.Excluded, o.UserModified, o.ImportLocked,
	); err != nil {
		t.Fatalf("seed entry: %v", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO transactions (entry_id, merchant_id, extra) VALUES ($1, $2, $3)`,
		id, o.MerchantID, o.Extra,
	); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit seed: %v", err)
	}
	return id
}

func SeedRate(t *testing.T, db *sql.DB, from, to domain.Currency, date time.Time, rate string) {
	t.Helper()

	if _, err := db.Exec(
		`INSERT INTO exchange_rates (id, from_currency, to_currency, date, rate) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), from, to, date, decimal.RequireFromString(rate),
	); err != nil {
		t.Fatalf("seed rate: %v", err)
	}
}

func CountEntries(t *testing.T, db *sql.DB, accountID uuid.UUID) int {
	t.Helper()

	var n int
	if err := db.QueryRow(`SELECT count(*) FROM entries WHERE account_id = $1`, accountID).Scan(&n); err != nil {
		t.Fatalf("count entries: %v", err)
	}
	return n
}

func CountHoldings(t *testing.T, db *sql.DB, accountID uuid.UUID) int {
	t.Helper()

	var n int
	if err := db.QueryRow(`SELECT count(*) FROM holdings WHERE account_id = $1`, accountID).Scan(&n); err != nil {
		t.Fatalf("count holdings: %v", err)
	}
	return n
}

// LoadEntry reads an entry outside any caller transaction.
func LoadEntry(t *testing.T, db *sql.DB, load func(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Entry, error), id uuid.UUID) *domain.Entry {
	t.Helper()

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	e, err := load(context.Background(), tx, id)
	if err != nil {
		t.Fatalf("load entry %s: %v", id, err)
	}
	return e
}

func Date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}
