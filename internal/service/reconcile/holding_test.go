package reconcile

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/ledger-sync/internal/domain"
	"github.com/josh-kwaku/ledger-sync/internal/testutil"
)

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestImportHolding(t *testing.T) {
	env := setupReconcileTest(t)
	ctx := context.Background()

	holdingRecord := func(sec *domain.Security, date, qty string, link *uuid.UUID) HoldingRecord {
		return HoldingRecord{
			SecurityID:     sec.ID,
			Date:           testutil.Date(date),
			Currency:       domain.CurrencyUSD,
			Quantity:       dec(qty),
			Amount:         dec(qty).Mul(dec("100")),
			ProviderLinkID: link,
		}
	}

	t.Run("creates then updates the same row", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeInvestment)
		sec := testutil.SeedSecurity(t, env.db, "VTI", "ARCX")
		imp := env.svc.For(acct)

		rec := holdingRecord(sec, "2024-07-01", "10", nil)
		rec.ExternalID = "h-vti"
		first, err := imp.ImportHolding(ctx, rec)
		require.NoError(t, err)

		rec.Quantity = dec("12")
		rec.Amount = dec("1200")
		second, err := imp.ImportHolding(ctx, rec)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 1, testutil.CountHoldings(t, env.db, acct.ID))
		assert.True(t, dec("12").Equal(second.Quantity))
		assert.True(t, dec("100").Equal(second.Price))
	})

	t.Run("holding owned by another provider is left alone", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeInvestment)
		sec := testutil.SeedSecurity(t, env.db, "MSFT", "XNAS")
		linkX := testutil.SeedProviderLink(t, env.db, acct.ID, domain.ProviderPlaid, false)
		linkY := testutil.SeedProviderLink(t, env.db, acct.ID, domain.ProviderSnapTrade, false)
		imp := env.svc.For(acct)

		owned, err := imp.ImportHolding(ctx, holdingRecord(sec, "2024-07-02", "5", &linkX.ID))
		require.NoError(t, err)

		got, err := imp.ImportHolding(ctx, holdingRecord(sec, "2024-07-02", "7", &linkY.ID))
		require.NoError(t, err)

		assert.Equal(t, owned.ID, got.ID)
		assert.True(t, dec("5").Equal(got.Quantity))
		assert.Equal(t, linkX.ID, *got.ProviderLinkID)
		assert.Equal(t, 1, testutil.CountHoldings(t, env.db, acct.ID))

		skipped := imp.Skipped()
		require.Len(t, skipped, 1)
		assert.Equal(t, domain.SkipReasonProviderConflict, skipped[0].Reason)
	})

	t.Run("unowned holding is adopted", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeInvestment)
		sec := testutil.SeedSecurity(t, env.db, "GOOG", "XNAS")
		link := testutil.SeedProviderLink(t, env.db, acct.ID, domain.ProviderPlaid, false)
		imp := env.svc.For(acct)

		manual, err := imp.ImportHolding(ctx, holdingRecord(sec, "2024-07-03", "1", nil))
		require.NoError(t, err)

		got, err := imp.ImportHolding(ctx, holdingRecord(sec, "2024-07-03", "2", &link.ID))
		require.NoError(t, err)

		assert.Equal(t, manual.ID, got.ID)
		require.NotNil(t, got.ProviderLinkID)
		assert.Equal(t, link.ID, *got.ProviderLinkID)
		assert.True(t, dec("2").Equal(got.Quantity))
	})

	t.Run("user remap survives sync", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeInvestment)
		providerSec := testutil.SeedSecurity(t, env.db, "BRK.B", "")
		userSec := testutil.SeedSecurity(t, env.db, "BRK.B", "XNYS")
		imp := env.svc.For(acct)

		rec := holdingRecord(providerSec, "2024-07-04", "3", nil)
		rec.ExternalID = "h-brk"
		h, err := imp.ImportHolding(ctx, rec)
		require.NoError(t, err)

		remapped, err := imp.RemapHoldingSecurity(ctx, h.ID, userSec.ID)
		require.NoError(t, err)
		assert.Equal(t, userSec.ID, remapped.SecurityID)
		assert.True(t, remapped.SecurityLocked)

		rec.Quantity = dec("4")
		got, err := imp.ImportHolding(ctx, rec)
		require.NoError(t, err)

		assert.Equal(t, h.ID, got.ID)
		assert.Equal(t, userSec.ID, got.SecurityID)
		require.NotNil(t, got.ProviderSecurityID)
		assert.Equal(t, providerSec.ID, *got.ProviderSecurityID)
		assert.True(t, dec("4").Equal(got.Quantity))
	})

	t.Run("reset restores provider security", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeInvestment)
		providerSec := testutil.SeedSecurity(t, env.db, "RDS.A", "")
		userSec := testutil.SeedSecurity(t, env.db, "SHEL", "XNYS")
		imp := env.svc.For(acct)

		rec := holdingRecord(providerSec, "2024-07-06", "3", nil)
		rec.ExternalID = "h-shel"
		h, err := imp.ImportHolding(ctx, rec)
		require.NoError(t, err)

		_, err = imp.RemapHoldingSecurity(ctx, h.ID, userSec.ID)
		require.NoError(t, err)

		reset, err := imp.ResetHoldingSecurity(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, providerSec.ID, reset.SecurityID)
		assert.False(t, reset.SecurityLocked)

		rec.Quantity = dec("5")
		got, err := imp.ImportHolding(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, h.ID, got.ID)
		assert.Equal(t, providerSec.ID, got.SecurityID)
	})

	t.Run("security changes are scoped and checked", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeInvestment)
		secA := testutil.SeedSecurity(t, env.db, "SCPA", "XNAS")
		secB := testutil.SeedSecurity(t, env.db, "SCPB", "XNAS")
		imp := env.svc.For(acct)

		a, err := imp.ImportHolding(ctx, holdingRecord(secA, "2024-07-07", "1", nil))
		require.NoError(t, err)
		_, err = imp.ImportHolding(ctx, holdingRecord(secB, "2024-07-07", "1", nil))
		require.NoError(t, err)

		_, err = imp.RemapHoldingSecurity(ctx, a.ID, secB.ID)
		assert.ErrorIs(t, err, domain.ErrHoldingExists)

		_, err = imp.RemapHoldingSecurity(ctx, a.ID, uuid.New())
		assert.ErrorIs(t, err, domain.ErrSecurityNotFound)

		other := env.svc.For(env.account(t, domain.AccountTypeInvestment))
		_, err = other.ResetHoldingSecurity(ctx, a.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		stored, err := imp.ResetHoldingSecurity(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, secA.ID, stored.SecurityID)
	})

	t.Run("lookup order", func(t *testing.T) {
		t.Run("provider security finds a remapped holding", func(t *testing.T) {
			acct := env.account(t, domain.AccountTypeInvestment)
			providerSec := testutil.SeedSecurity(t, env.db, "LKPA", "")
			userSec := testutil.SeedSecurity(t, env.db, "LKPA", "XNAS")
			imp := env.svc.For(acct)

			rec := holdingRecord(providerSec, "2024-07-08", "2", nil)
			rec.ExternalID = "lkp-a-1"
			h, err := imp.ImportHolding(ctx, rec)
			require.NoError(t, err)
			_, err = imp.RemapHoldingSecurity(ctx, h.ID, userSec.ID)
			require.NoError(t, err)

			rec.ExternalID = "lkp-a-2"
			rec.Quantity = dec("3")
			got, err := imp.ImportHolding(ctx, rec)
			require.NoError(t, err)

			assert.Equal(t, h.ID, got.ID)
			assert.Equal(t, userSec.ID, got.SecurityID)
			assert.Equal(t, "lkp-a-2", *got.ExternalID)
			assert.Equal(t, 1, testutil.CountHoldings(t, env.db, acct.ID))
		})

		t.Run("provider ticker matches an equivalent security row", func(t *testing.T) {
			acct := env.account(t, domain.AccountTypeInvestment)
			first := testutil.SeedSecurity(t, env.db, "LKPB", "XNAS")
			second := testutil.SeedSecurity(t, env.db, "LKPB", "BATS")
			imp := env.svc.For(acct)

			rec := holdingRecord(first, "2024-07-09", "2", nil)
			rec.ExternalID = "lkp-b-1"
			h, err := imp.ImportHolding(ctx, rec)
			require.NoError(t, err)

			rec = holdingRecord(second, "2024-07-09", "4", nil)
			rec.ExternalID = "lkp-b-2"
			got, err := imp.ImportHolding(ctx, rec)
			require.NoError(t, err)

			assert.Equal(t, h.ID, got.ID)
			assert.True(t, dec("4").Equal(got.Quantity))
			assert.Equal(t, 1, testutil.CountHoldings(t, env.db, acct.ID))
		})

		t.Run("resolved security matches when provider security differs", func(t *testing.T) {
			acct := env.account(t, domain.AccountTypeInvestment)
			providerSec := testutil.SeedSecurity(t, env.db, "LKPC", "")
			userSec := testutil.SeedSecurity(t, env.db, "LKPD", "XNAS")
			imp := env.svc.For(acct)

			rec := holdingRecord(providerSec, "2024-07-10", "2", nil)
			rec.ExternalID = "lkp-c-1"
			h, err := imp.ImportHolding(ctx, rec)
			require.NoError(t, err)
			_, err = imp.RemapHoldingSecurity(ctx, h.ID, userSec.ID)
			require.NoError(t, err)

			rec = holdingRecord(userSec, "2024-07-10", "6", nil)
			rec.ExternalID = "lkp-c-2"
			got, err := imp.ImportHolding(ctx, rec)
			require.NoError(t, err)

			assert.Equal(t, h.ID, got.ID)
			assert.Equal(t, userSec.ID, got.SecurityID)
			assert.True(t, dec("6").Equal(got.Quantity))
			assert.Equal(t, 1, testutil.CountHoldings(t, env.db, acct.ID))
		})
	})

	t.Run("concurrent imports of the same position converge", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeInvestment)
		sec := testutil.SeedSecurity(t, env.db, "RACE", "XNAS")
		link := testutil.SeedProviderLink(t, env.db, acct.ID, domain.ProviderPlaid, false)

		const workers = 8
		ids := make([]uuid.UUID, workers)
		var g errgroup.Group
		for w := range workers {
			g.Go(func() error {
				rec := holdingRecord(sec, "2024-07-11", "10", &link.ID)
				rec.ExternalID = "race-h"
				h, err := env.svc.For(acct).ImportHolding(ctx, rec)
				if err != nil {
					return err
				}
				ids[w] = h.ID
				return nil
			})
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, 1, testutil.CountHoldings(t, env.db, acct.ID))
		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
	})

	t.Run("concurrent providers keep their own claim", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeInvestment)
		sec := testutil.SeedSecurity(t, env.db, "RACE2", "XNAS")
		linkX := testutil.SeedProviderLink(t, env.db, acct.ID, domain.ProviderPlaid, false)
		linkY := testutil.SeedProviderLink(t, env.db, acct.ID, domain.ProviderSnapTrade, false)

		var g errgroup.Group
		for _, link := range []uuid.UUID{linkX.ID, linkY.ID} {
			g.Go(func() error {
				_, err := env.svc.For(acct).ImportHolding(ctx, holdingRecord(sec, "2024-07-12", "1", &link))
				return err
			})
		}
		require.NoError(t, g.Wait())

		var owners int
		require.NoError(t, env.db.QueryRow(
			`SELECT count(DISTINCT account_provider_id) FROM holdings WHERE account_id = $1`, acct.ID,
		).Scan(&owners))
		assert.Equal(t, 1, testutil.CountHoldings(t, env.db, acct.ID))
		assert.Equal(t, 1, owners)
	})

	t.Run("manual cost basis is kept", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeInvestment)
		sec := testutil.SeedSecurity(t, env.db, "NVDA", "XNAS")
		imp := env.svc.For(acct)

		rec := holdingRecord(sec, "2024-07-05", "2", nil)
		rec.CostBasis = decPtr("150")
		h, err := imp.ImportHolding(ctx, rec)
		require.NoError(t, err)
		require.NotNil(t, h.CostBasis)
		assert.Equal(t, domain.CostBasisProvider, h.CostBasisSource)

		_, err = env.db.Exec(
			`UPDATE holdings SET cost_basis = 90, cost_basis_source = 'manual' WHERE id = $1`, h.ID,
		)
		require.NoError(t, err)

		rec.CostBasis = decPtr("175")
		got, err := imp.ImportHolding(ctx, rec)
		require.NoError(t, err)
		require.NotNil(t, got.CostBasis)
		assert.True(t, dec("90").Equal(*got.CostBasis))
		assert.Equal(t, domain.CostBasisManual, got.CostBasisSource)
	})

	t.Run("delete future holdings", func(t *testing.T) {
		tests := []struct {
			name      string
			locked    bool
			wantCount int
		}{
			{"deletes when unlocked", false, 1},
			{"keeps when a link locks deletion", true, 2},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				acct := env.account(t, domain.AccountTypeInvestment)
				sec := testutil.SeedSecurity(t, env.db, "DEL"+uuid.NewString()[:4], "")
				testutil.SeedProviderLink(t, env.db, acct.ID, domain.ProviderPlaid, tt.locked)
				imp := env.svc.For(acct)

				_, err := imp.ImportHolding(ctx, holdingRecord(sec, "2024-07-20", "1", nil))
				require.NoError(t, err)

				rec := holdingRecord(sec, "2024-07-10", "1", nil)
				rec.DeleteFuture = true
				_, err = imp.ImportHolding(ctx, rec)
				require.NoError(t, err)

				assert.Equal(t, tt.wantCount, testutil.CountHoldings(t, env.db, acct.ID))
			})
		}
	})

	t.Run("missing security", func(t *testing.T) {
		imp := env.svc.For(env.account(t, domain.AccountTypeInvestment))
		_, err := imp.ImportHolding(ctx, HoldingRecord{
			Date:     testutil.Date("2024-07-01"),
			Currency: domain.CurrencyUSD,
		})
		assert.ErrorIs(t, err, domain.ErrMissingSecurity)
	})
}
