package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/ledger-sync/internal/domain"
	"github.com/josh-kwaku/ledger-sync/internal/testutil"
)

func TestImportTrade(t *testing.T) {
	env := setupReconcileTest(t)
	ctx := context.Background()

	acct := env.account(t, domain.AccountTypeInvestment)
	sec := testutil.SeedSecurity(t, env.db, "AAPL", "XNAS")
	imp := env.svc.For(acct)

	t.Run("generates name and label", func(t *testing.T) {
		e, err := imp.ImportTrade(ctx, TradeRecord{
			ExternalID: "trade-1",
			Source:     "snaptrade",
			SecurityID: sec.ID,
			Date:       testutil.Date("2024-08-01"),
			Quantity:   dec("10"),
			Price:      dec("190.50"),
			Currency:   domain.CurrencyUSD,
		})
		require.NoError(t, err)

		stored := env.load(t, e.ID)
		assert.Equal(t, "Buy 10 shares of AAPL", stored.Name)
		assert.True(t, dec("1905").Equal(stored.Amount))

		trade, ok := stored.Trade()
		require.True(t, ok)
		require.NotNil(t, trade.InvestmentActivityLabel)
		assert.Equal(t, domain.ActivityBuy, *trade.InvestmentActivityLabel)
	})

	t.Run("sell is labelled from quantity sign", func(t *testing.T) {
		e, err := imp.ImportTrade(ctx, TradeRecord{
			ExternalID: "trade-2",
			Source:     "snaptrade",
			SecurityID: sec.ID,
			Date:       testutil.Date("2024-08-02"),
			Quantity:   dec("-4"),
			Price:      dec("200"),
			Amount:     dec("-800"),
			Currency:   domain.CurrencyUSD,
		})
		require.NoError(t, err)

		stored := env.load(t, e.ID)
		assert.Equal(t, "Sell 4 shares of AAPL", stored.Name)
		trade, _ := stored.Trade()
		assert.Equal(t, domain.ActivitySell, *trade.InvestmentActivityLabel)
	})

	t.Run("updates overwrite quantity and price", func(t *testing.T) {
		rec := TradeRecord{
			ExternalID: "trade-3",
			Source:     "snaptrade",
			SecurityID: sec.ID,
			Date:       testutil.Date("2024-08-03"),
			Quantity:   dec("1"),
			Price:      dec("100"),
			Currency:   domain.CurrencyUSD,
		}
		first, err := imp.ImportTrade(ctx, rec)
		require.NoError(t, err)

		rec.Quantity = dec("2")
		rec.Price = dec("101")
		second, err := imp.ImportTrade(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		trade, _ := env.load(t, first.ID).Trade()
		assert.True(t, dec("2").Equal(trade.Quantity))
		assert.True(t, dec("101").Equal(trade.Price))
	})

	t.Run("zero quantity rejected", func(t *testing.T) {
		_, err := imp.ImportTrade(ctx, TradeRecord{
			ExternalID: "trade-zero",
			Source:     "snaptrade",
			SecurityID: sec.ID,
			Date:       testutil.Date("2024-08-03"),
			Currency:   domain.CurrencyUSD,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	})
}

func TestImportValuation(t *testing.T) {
	env := setupReconcileTest(t)
	ctx := context.Background()

	t.Run("creates and updates", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeProperty)
		imp := env.svc.For(acct)
		rec := ValuationRecord{
			ExternalID: "bal-2024-09-01",
			Source:     "plaid",
			Date:       testutil.Date("2024-09-01"),
			Amount:     dec("350000"),
			Currency:   domain.CurrencyUSD,
		}
		first, err := imp.ImportValuation(ctx, rec)
		require.NoError(t, err)

		rec.Amount = dec("351000")
		second, err := imp.ImportValuation(ctx, rec)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		stored := env.load(t, first.ID)
		assert.True(t, dec("351000").Equal(stored.Amount))
		assert.Equal(t, "Balance update", stored.Name)
		v, ok := stored.Valuation()
		require.True(t, ok)
		assert.Equal(t, domain.ValuationKindReconciliation, v.Kind)
	})

	t.Run("protected valuation skipped", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeVehicle)
		imp := env.svc.For(acct)
		rec := ValuationRecord{
			ExternalID: "bal-car",
			Source:     "plaid",
			Date:       testutil.Date("2024-09-01"),
			Amount:     dec("20000"),
			Currency:   domain.CurrencyUSD,
		}
		e, err := imp.ImportValuation(ctx, rec)
		require.NoError(t, err)

		_, err = env.db.Exec(`UPDATE entries SET user_modified = TRUE WHERE id = $1`, e.ID)
		require.NoError(t, err)

		rec.Amount = dec("1")
		_, err = imp.ImportValuation(ctx, rec)
		require.NoError(t, err)

		assert.True(t, dec("20000").Equal(env.load(t, e.ID).Amount))
		require.Len(t, imp.Skipped(), 1)
		assert.Equal(t, domain.SkipReasonUserModified, imp.Skipped()[0].Reason)
	})
}
