package reconcile

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/ledger-sync/internal/domain"
	"github.com/josh-kwaku/ledger-sync/internal/testutil"
)

func TestImportTransaction(t *testing.T) {
	env := setupReconcileTest(t)
	ctx := context.Background()

	t.Run("creates once and is idempotent", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeDepository)
		imp := env.svc.For(acct)
		rec := TransactionRecord{
			ExternalID: "tx-1",
			Source:     "plaid",
			Date:       testutil.Date("2024-03-01"),
			Amount:     dec("12.50"),
			Currency:   domain.CurrencyUSD,
			Name:       "Coffee Shop",
		}

		first, err := imp.ImportTransaction(ctx, rec)
		require.NoError(t, err)
		second, err := imp.ImportTransaction(ctx, rec)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 1, testutil.CountEntries(t, env.db, acct.ID))

		got := env.load(t, first.ID)
		assert.True(t, dec("12.50").Equal(got.Amount))
		assert.Equal(t, "Coffee Shop", got.Name)
		assert.Equal(t, "tx-1", *got.ExternalID)
		assert.Empty(t, imp.Skipped())
	})

	t.Run("missing correlation fields", func(t *testing.T) {
		imp := env.svc.For(env.account(t, domain.AccountTypeDepository))

		_, err := imp.ImportTransaction(ctx, TransactionRecord{
			Source:   "plaid",
			Date:     testutil.Date("2024-03-01"),
			Amount:   dec("1"),
			Currency: domain.CurrencyUSD,
		})
		assert.ErrorIs(t, err, domain.ErrMissingCorrelation)
	})

	t.Run("protected rows are skipped", func(t *testing.T) {
		tests := []struct {
			name   string
			opts   testutil.EntryOpts
			reason domain.SkipReason
		}{
			{"excluded", testutil.EntryOpts{Excluded: true}, domain.SkipReasonExcluded},
			{"user modified", testutil.EntryOpts{UserModified: true}, domain.SkipReasonUserModified},
			{"import locked", testutil.EntryOpts{ImportLocked: true}, domain.SkipReasonImportLocked},
			{"excluded wins over user modified", testutil.EntryOpts{Excluded: true, UserModified: true}, domain.SkipReasonExcluded},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				acct := env.account(t, domain.AccountTypeDepository)
				opts := tt.opts
				opts.Date = testutil.Date("2024-03-02")
				opts.Amount = "40.00"
				opts.Name = "Groceries"
				opts.ExternalID = "tx-protected"
				opts.Source = "plaid"
				id := testutil.SeedTransaction(t, env.db, acct.ID, opts)

				imp := env.svc.For(acct)
				got, err := imp.ImportTransaction(ctx, TransactionRecord{
					ExternalID: "tx-protected",
					Source:     "plaid",
					Date:       testutil.Date("2024-03-03"),
					Amount:     dec("99.00"),
					Currency:   domain.CurrencyUSD,
					Name:       "GROCERY STORE 123",
					Extra:      domain.Extra{"plaid": map[string]any{"category": "FOOD"}},
				})
				require.NoError(t, err)
				assert.Equal(t, id, got.ID)

				stored := env.load(t, id)
				assert.True(t, dec("40.00").Equal(stored.Amount))
				assert.Equal(t, "Groceries", stored.Name)
				assert.Equal(t, "2024-03-02", stored.Date.Format("2006-01-02"))

				txn, ok := stored.Transaction()
				require.True(t, ok)
				bag, ok := txn.Extra["plaid"].(map[string]any)
				require.True(t, ok)
				assert.Equal(t, "FOOD", bag["category"])

				skipped := imp.Skipped()
				require.Len(t, skipped, 1)
				assert.Equal(t, tt.reason, skipped[0].Reason)
				assert.Equal(t, id, skipped[0].RowID)
			})
		}
	})

	t.Run("external id reused by a trade", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeInvestment)
		sec := testutil.SeedSecurity(t, env.db, "COLL", "XNAS")
		imp := env.svc.For(acct)

		_, err := imp.ImportTrade(ctx, TradeRecord{
			ExternalID: "shared-1",
			Source:     "snaptrade",
			SecurityID: sec.ID,
			Date:       testutil.Date("2024-03-04"),
			Quantity:   dec("2"),
			Price:      dec("10"),
			Currency:   domain.CurrencyUSD,
		})
		require.NoError(t, err)

		_, err = imp.ImportTransaction(ctx, TransactionRecord{
			ExternalID: "shared-1",
			Source:     "snaptrade",
			Date:       testutil.Date("2024-03-04"),
			Amount:     dec("20"),
			Currency:   domain.CurrencyUSD,
			Name:       "Cash",
		})
		assert.ErrorIs(t, err, domain.ErrTypeCollision)
		assert.Equal(t, 1, testutil.CountEntries(t, env.db, acct.ID))
	})

	t.Run("claims providerless duplicate", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeDepository)
		id := testutil.SeedTransaction(t, env.db, acct.ID, testutil.EntryOpts{
			Date:   testutil.Date("2024-03-05"),
			Amount: "18.00",
			Name:   "Bookstore",
		})

		got, err := env.svc.For(acct).ImportTransaction(ctx, TransactionRecord{
			ExternalID: "csv-dupe",
			Source:     "plaid",
			Date:       testutil.Date("2024-03-05"),
			Amount:     dec("18.00"),
			Currency:   domain.CurrencyUSD,
			Name:       "Bookstore",
		})
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, 1, testutil.CountEntries(t, env.db, acct.ID))
		assert.Equal(t, "csv-dupe", *env.load(t, id).ExternalID)
	})

	t.Run("protected duplicate is linked without content changes", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeDepository)
		id := testutil.SeedTransaction(t, env.db, acct.ID, testutil.EntryOpts{
			Date:         testutil.Date("2024-03-06"),
			Amount:       "25.00",
			Name:         "Dinner with Sam",
			UserModified: true,
		})

		imp := env.svc.For(acct)
		_, err := imp.ImportTransaction(ctx, TransactionRecord{
			ExternalID: "dinner-1",
			Source:     "plaid",
			Date:       testutil.Date("2024-03-06"),
			Amount:     dec("25.00"),
			Currency:   domain.CurrencyUSD,
			Name:       "RESTAURANT 42",
		})
		require.NoError(t, err)

		stored := env.load(t, id)
		assert.Equal(t, "Dinner with Sam", stored.Name)
		require.NotNil(t, stored.ExternalID)
		assert.Equal(t, "dinner-1", *stored.ExternalID)
		assert.Equal(t, 1, testutil.CountEntries(t, env.db, acct.ID))
		require.Len(t, imp.Skipped(), 1)
		assert.Equal(t, domain.SkipReasonUserModified, imp.Skipped()[0].Reason)
	})

	t.Run("posted record with pending link replaces pending row", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeCreditCard)
		imp := env.svc.For(acct)

		pending, err := imp.ImportTransaction(ctx, TransactionRecord{
			ExternalID: "p1",
			Source:     "plaid",
			Date:       testutil.Date("2024-01-10"),
			Amount:     dec("-20.00"),
			Currency:   domain.CurrencyUSD,
			Name:       "Corner Bistro",
			Extra:      pendingExtra("plaid", true),
		})
		require.NoError(t, err)

		posted, err := imp.ImportTransaction(ctx, TransactionRecord{
			ExternalID:    "x9",
			Source:        "plaid",
			Date:          testutil.Date("2024-01-12"),
			Amount:        dec("-23.00"),
			Currency:      domain.CurrencyUSD,
			Name:          "Corner Bistro",
			Extra:         pendingExtra("plaid", false),
			PendingLinkID: "p1",
		})
		require.NoError(t, err)

		assert.Equal(t, pending.ID, posted.ID)
		assert.Equal(t, 1, testutil.CountEntries(t, env.db, acct.ID))

		stored := env.load(t, posted.ID)
		assert.Equal(t, "x9", *stored.ExternalID)
		assert.True(t, dec("-23.00").Equal(stored.Amount))
		txn, _ := stored.Transaction()
		assert.False(t, txn.Extra.IsPending("plaid"))
		assert.Equal(t, []string{"p1"}, txn.Extra.SupersededIDs("plaid"))
	})

	t.Run("replayed batch does not resurrect superseded pending", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeCreditCard)
		pendingRec := TransactionRecord{
			ExternalID: "p1",
			Source:     "plaid",
			Date:       testutil.Date("2024-01-10"),
			Amount:     dec("-20.00"),
			Currency:   domain.CurrencyUSD,
			Name:       "Corner Bistro",
			Extra:      pendingExtra("plaid", true),
		}
		postedRec := TransactionRecord{
			ExternalID:    "x9",
			Source:        "plaid",
			Date:          testutil.Date("2024-01-12"),
			Amount:        dec("-23.00"),
			Currency:      domain.CurrencyUSD,
			Name:          "Corner Bistro",
			Extra:         pendingExtra("plaid", false),
			PendingLinkID: "p1",
		}

		first := env.svc.For(acct)
		_, err := first.ImportTransaction(ctx, pendingRec)
		require.NoError(t, err)
		posted, err := first.ImportTransaction(ctx, postedRec)
		require.NoError(t, err)

		replay := env.svc.For(acct)
		for _, rec := range []TransactionRecord{pendingRec, postedRec} {
			got, err := replay.ImportTransaction(ctx, rec)
			require.NoError(t, err)
			assert.Equal(t, posted.ID, got.ID)
		}

		assert.Equal(t, 1, testutil.CountEntries(t, env.db, acct.ID))
		stored := env.load(t, posted.ID)
		assert.Equal(t, "x9", *stored.ExternalID)
		assert.True(t, dec("-23.00").Equal(stored.Amount))
		txn, _ := stored.Transaction()
		assert.False(t, txn.Extra.IsPending("plaid"))

		skipped := replay.Skipped()
		require.Len(t, skipped, 1)
		assert.Equal(t, domain.SkipReasonSuperseded, skipped[0].Reason)
		assert.Equal(t, "p1", skipped[0].ExternalID)
		assert.Equal(t, posted.ID, skipped[0].RowID)
	})

	t.Run("same key converges pending to posted", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeCreditCard)
		imp := env.svc.For(acct)
		rec := TransactionRecord{
			ExternalID: "s1",
			Source:     "simplefin",
			Date:       testutil.Date("2024-02-01"),
			Amount:     dec("-42.00"),
			Currency:   domain.CurrencyUSD,
			Name:       "Taqueria",
			Extra:      pendingExtra("simplefin", true),
		}
		_, err := imp.ImportTransaction(ctx, rec)
		require.NoError(t, err)

		rec.Date = testutil.Date("2024-02-03")
		rec.Amount = dec("-45.00")
		rec.Extra = pendingExtra("simplefin", false)
		got, err := imp.ImportTransaction(ctx, rec)
		require.NoError(t, err)

		assert.Equal(t, 1, testutil.CountEntries(t, env.db, acct.ID))
		assert.True(t, dec("-45.00").Equal(got.Amount))
	})

	t.Run("exact amount pending match within window", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeDepository)
		imp := env.svc.For(acct)

		pending, err := imp.ImportTransaction(ctx, TransactionRecord{
			ExternalID: "a1",
			Source:     "plaid",
			Date:       testutil.Date("2024-04-03"),
			Amount:     dec("30.00"),
			Currency:   domain.CurrencyUSD,
			Name:       "Gas Station",
			Extra:      pendingExtra("plaid", true),
		})
		require.NoError(t, err)

		posted, err := imp.ImportTransaction(ctx, TransactionRecord{
			ExternalID: "a2",
			Source:     "plaid",
			Date:       testutil.Date("2024-04-10"),
			Amount:     dec("30.00"),
			Currency:   domain.CurrencyUSD,
			Name:       "Gas Station",
		})
		require.NoError(t, err)

		assert.Equal(t, pending.ID, posted.ID)
		assert.Equal(t, 1, testutil.CountEntries(t, env.db, acct.ID))
	})
}

func TestImportTransaction_PendingSuggestions(t *testing.T) {
	env := setupReconcileTest(t)
	ctx := context.Background()

	importPending := func(t *testing.T, imp *Importer, extID, amount, name string) *domain.Entry {
		t.Helper()
		e, err := imp.ImportTransaction(ctx, TransactionRecord{
			ExternalID: extID,
			Source:     "plaid",
			Date:       testutil.Date("2024-05-10"),
			Amount:     dec(amount),
			Currency:   domain.CurrencyUSD,
			Name:       name,
			Extra:      pendingExtra("plaid", true),
		})
		require.NoError(t, err)
		return e
	}

	suggestion := func(t *testing.T, pending *domain.Entry) map[string]any {
		t.Helper()
		txn, _ := env.load(t, pending.ID).Transaction()
		m, _ := txn.Extra[domain.PostedMatchKey].(map[string]any)
		return m
	}

	t.Run("settled tip converges onto the pending row", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeCreditCard)
		imp := env.svc.For(acct)
		pending := importPending(t, imp, "tip-pending", "-42.00", "Harbor Grill")

		posted, err := imp.ImportTransaction(ctx, TransactionRecord{
			ExternalID: "tip-posted",
			Source:     "plaid",
			Date:       testutil.Date("2024-05-12"),
			Amount:     dec("-45.00"),
			Currency:   domain.CurrencyUSD,
			Name:       "Harbor Grill",
		})
		require.NoError(t, err)

		assert.Equal(t, pending.ID, posted.ID)
		assert.Equal(t, 1, testutil.CountEntries(t, env.db, acct.ID))

		stored := env.load(t, pending.ID)
		assert.Equal(t, "tip-posted", *stored.ExternalID)
		assert.True(t, dec("-45.00").Equal(stored.Amount))
		assert.Equal(t, "2024-05-12", stored.Date.Format("2006-01-02"))
		txn, _ := stored.Transaction()
		assert.False(t, txn.Extra.IsPending("plaid"))
		assert.Nil(t, suggestion(t, pending))

		again, err := imp.ImportTransaction(ctx, TransactionRecord{
			ExternalID: "tip-pending",
			Source:     "plaid",
			Date:       testutil.Date("2024-05-10"),
			Amount:     dec("-42.00"),
			Currency:   domain.CurrencyUSD,
			Name:       "Harbor Grill",
			Extra:      pendingExtra("plaid", true),
		})
		require.NoError(t, err)
		assert.Equal(t, pending.ID, again.ID)
		assert.Equal(t, 1, testutil.CountEntries(t, env.db, acct.ID))
	})

	t.Run("same merchant converges despite descriptor change", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeCreditCard)
		merchantID := testutil.SeedMerchant(t, env.db, "Harbor Grill")
		imp := env.svc.For(acct)

		pending, err := imp.ImportTransaction(ctx, TransactionRecord{
			ExternalID: "desc-pending",
			Source:     "plaid",
			Date:       testutil.Date("2024-05-10"),
			Amount:     dec("-42.00"),
			Currency:   domain.CurrencyUSD,
			Name:       "SQ *HBR 0042",
			MerchantID: &merchantID,
			Extra:      pendingExtra("plaid", true),
		})
		require.NoError(t, err)

		posted, err := imp.ImportTransaction(ctx, TransactionRecord{
			ExternalID: "desc-posted",
			Source:     "plaid",
			Date:       testutil.Date("2024-05-11"),
			Amount:     dec("-48.00"),
			Currency:   domain.CurrencyUSD,
			Name:       "Harbor Grill Downtown LLC",
			MerchantID: &merchantID,
		})
		require.NoError(t, err)
		assert.Equal(t, pending.ID, posted.ID)
		assert.Equal(t, 1, testutil.CountEntries(t, env.db, acct.ID))
	})

	t.Run("medium confidence suggestion when names differ", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeCreditCard)
		imp := env.svc.For(acct)
		pending := importPending(t, imp, "med-pending", "-42.00", "SQ *HBR 0042")

		posted, err := imp.ImportTransaction(ctx, TransactionRecord{
			ExternalID: "med-posted",
			Source:     "plaid",
			Date:       testutil.Date("2024-05-12"),
			Amount:     dec("-45.00"),
			Currency:   domain.CurrencyUSD,
			Name:       "Harbor Grill Downtown",
		})
		require.NoError(t, err)
		assert.NotEqual(t, pending.ID, posted.ID)
		assert.Equal(t, 2, testutil.CountEntries(t, env.db, acct.ID))

		m := suggestion(t, pending)
		require.NotNil(t, m)
		assert.Equal(t, posted.ID.String(), m["posted_entry_id"])
		assert.Equal(t, string(ConfidenceMedium), m["confidence"])
	})

	t.Run("ambiguous candidates produce no suggestion", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeCreditCard)
		imp := env.svc.For(acct)
		first := importPending(t, imp, "amb-1", "-42.00", "Harbor Grill")
		second := importPending(t, imp, "amb-2", "-43.00", "Harbor Grill")

		_, err := imp.ImportTransaction(ctx, TransactionRecord{
			ExternalID: "amb-posted",
			Source:     "plaid",
			Date:       testutil.Date("2024-05-11"),
			Amount:     dec("-45.00"),
			Currency:   domain.CurrencyUSD,
			Name:       "Harbor Grill",
		})
		require.NoError(t, err)

		assert.Equal(t, 3, testutil.CountEntries(t, env.db, acct.ID))
		assert.Nil(t, suggestion(t, first))
		assert.Nil(t, suggestion(t, second))
	})

	t.Run("low confidence requires merchant and name", func(t *testing.T) {
		acct := env.account(t, domain.AccountTypeCreditCard)
		merchantID := testutil.SeedMerchant(t, env.db, "Starbucks")
		imp := env.svc.For(acct)

		pending, err := imp.ImportTransaction(ctx, TransactionRecord{
			ExternalID: "low-pending",
			Source:     "plaid",
			Date:       testutil.Date("2024-05-10"),
			Amount:     dec("-20.00"),
			Currency:   domain.CurrencyUSD,
			Name:       "STARBUCKS",
			MerchantID: &merchantID,
			Extra:      pendingExtra("plaid", true),
		})
		require.NoError(t, err)

		posted, err := imp.ImportTransaction(ctx, TransactionRecord{
			ExternalID: "low-posted",
			Source:     "plaid",
			Date:       testutil.Date("2024-05-11"),
			Amount:     dec("-35.00"),
			Currency:   domain.CurrencyUSD,
			Name:       "Starbucks #1234",
			MerchantID: &merchantID,
		})
		require.NoError(t, err)

		m := suggestion(t, pending)
		require.NotNil(t, m)
		assert.Equal(t, posted.ID.String(), m["posted_entry_id"])
		assert.Equal(t, string(ConfidenceLow), m["confidence"])
	})
}

func TestImportTransaction_InvestmentLabels(t *testing.T) {
	env := setupReconcileTest(t)
	ctx := context.Background()

	categoryID := testutil.SeedCategory(t, env.db, env.family.ID, "Investment Contributions")
	testutil.SetContributionCategory(t, env.db, env.family.ID, categoryID)

	acct := env.account(t, domain.AccountTypeInvestment)
	imp := env.svc.For(acct)

	t.Run("dividend keeps standard kind", func(t *testing.T) {
		e, err := imp.ImportTransaction(ctx, TransactionRecord{
			ExternalID: "div-1",
			Source:     "snaptrade",
			Date:       testutil.Date("2024-06-01"),
			Amount:     dec("-3.20"),
			Currency:   domain.CurrencyUSD,
			Name:       "Dividend received",
		})
		require.NoError(t, err)

		txn, _ := env.load(t, e.ID).Transaction()
		require.NotNil(t, txn.InvestmentActivityLabel)
		assert.Equal(t, domain.ActivityDividend, *txn.InvestmentActivityLabel)
		assert.Equal(t, domain.TransactionKindStandard, txn.Kind)
	})

	t.Run("contribution gets kind and family category", func(t *testing.T) {
		e, err := imp.ImportTransaction(ctx, TransactionRecord{
			ExternalID: "contrib-1",
			Source:     "snaptrade",
			Date:       testutil.Date("2024-06-02"),
			Amount:     dec("-500.00"),
			Currency:   domain.CurrencyUSD,
			Name:       "401k contribution",
		})
		require.NoError(t, err)

		txn, _ := env.load(t, e.ID).Transaction()
		assert.Equal(t, domain.TransactionKindInvestmentContribution, txn.Kind)
		require.NotNil(t, txn.CategoryID)
		assert.Equal(t, categoryID, *txn.CategoryID)
	})

	t.Run("explicit transfer label", func(t *testing.T) {
		label := domain.ActivitySweepIn
		e, err := imp.ImportTransaction(ctx, TransactionRecord{
			ExternalID:    "sweep-1",
			Source:        "snaptrade",
			Date:          testutil.Date("2024-06-03"),
			Amount:        dec("-100.00"),
			Currency:      domain.CurrencyUSD,
			Name:          "Cash sweep",
			ActivityLabel: &label,
		})
		require.NoError(t, err)

		txn, _ := env.load(t, e.ID).Transaction()
		assert.Equal(t, domain.TransactionKindFundsMovement, txn.Kind)
	})

	t.Run("no inference on depository accounts", func(t *testing.T) {
		checking := env.account(t, domain.AccountTypeDepository)
		e, err := env.svc.For(checking).ImportTransaction(ctx, TransactionRecord{
			ExternalID: "div-checking",
			Source:     "plaid",
			Date:       testutil.Date("2024-06-01"),
			Amount:     dec("-3.20"),
			Currency:   domain.CurrencyUSD,
			Name:       "Dividend received",
		})
		require.NoError(t, err)

		txn, _ := env.load(t, e.ID).Transaction()
		assert.Nil(t, txn.InvestmentActivityLabel)
	})
}

func TestImportTransaction_ProtectedRowUnchanged(t *testing.T) {
	env := setupReconcileTest(t)
	ctx := context.Background()

	tests := []struct {
		name string
		opts testutil.EntryOpts
	}{
		{"excluded", testutil.EntryOpts{Excluded: true}},
		{"user modified", testutil.EntryOpts{UserModified: true}},
		{"import locked", testutil.EntryOpts{ImportLocked: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct := env.account(t, domain.AccountTypeInvestment)
			userCategory := testutil.SeedCategory(t, env.db, env.family.ID, "Dining "+uuid.NewString()[:8])
			userMerchant := testutil.SeedMerchant(t, env.db, "Sam's Diner")

			opts := tt.opts
			opts.Date = testutil.Date("2024-08-01")
			opts.Amount = "61.20"
			opts.Name = "Dinner with Sam"
			opts.ExternalID = "locked-1"
			opts.Source = "plaid"
			opts.MerchantID = &userMerchant
			opts.Extra = domain.Extra{"plaid": map[string]any{"pending": false}}
			id := testutil.SeedTransaction(t, env.db, acct.ID, opts)

			_, err := env.db.Exec(
				`UPDATE entries SET notes = 'split the bill',
					enrichments = '{"name":{"value":"Dinner with Sam","source":"user","updated_at":"2024-08-02T00:00:00Z"}}'
				WHERE id = $1`, id)
			require.NoError(t, err)
			_, err = env.db.Exec(
				`UPDATE transactions SET category_id = $1, kind = 'one_time', investment_activity_label = 'Other'
				WHERE entry_id = $2`, userCategory, id)
			require.NoError(t, err)

			before := env.load(t, id)

			providerCategory := testutil.SeedCategory(t, env.db, env.family.ID, "Restaurants "+uuid.NewString()[:8])
			providerMerchant := testutil.SeedMerchant(t, env.db, "SQ DINER")
			notes := "provider memo"
			label := domain.ActivityTransfer
			_, err = env.svc.For(acct).ImportTransaction(ctx, TransactionRecord{
				ExternalID:    "locked-1",
				Source:        "plaid",
				Date:          testutil.Date("2024-08-03"),
				Amount:        dec("75.00"),
				Currency:      domain.CurrencyEUR,
				Name:          "SQ *SAMS DINER",
				Notes:         &notes,
				CategoryID:    &providerCategory,
				MerchantID:    &providerMerchant,
				ActivityLabel: &label,
				Extra:         domain.Extra{"plaid": map[string]any{"category": "FOOD"}},
			})
			require.NoError(t, err)

			after := env.load(t, id)
			afterTxn, _ := after.Transaction()
			beforeTxn, _ := before.Transaction()

			bag, ok := afterTxn.Extra["plaid"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "FOOD", bag["category"])

			// Provider metadata is the only thing a sync may change.
			afterTxn.Extra = beforeTxn.Extra
			assert.Equal(t, before, after)
		})
	}
}

func TestImportTransaction_ConcurrentSameKey(t *testing.T) {
	env := setupReconcileTest(t)
	ctx := context.Background()
	acct := env.account(t, domain.AccountTypeDepository)

	rec := TransactionRecord{
		ExternalID: "race-1",
		Source:     "plaid",
		Date:       testutil.Date("2024-09-01"),
		Amount:     dec("9.99"),
		Currency:   domain.CurrencyUSD,
		Name:       "Streaming Service",
	}

	const workers = 8
	ids := make([]uuid.UUID, workers)
	var g errgroup.Group
	for w := range workers {
		g.Go(func() error {
			e, err := env.svc.For(acct).ImportTransaction(ctx, rec)
			if err != nil {
				return err
			}
			ids[w] = e.ID
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, testutil.CountEntries(t, env.db, acct.ID))
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestImportTransaction_ConcurrentClaimOfProtectedDuplicate(t *testing.T) {
	env := setupReconcileTest(t)
	ctx := context.Background()
	acct := env.account(t, domain.AccountTypeDepository)

	id := testutil.SeedTransaction(t, env.db, acct.ID, testutil.EntryOpts{
		Date:         testutil.Date("2024-09-02"),
		Amount:       "14.00",
		Name:         "Lunch",
		UserModified: true,
	})

	rec := TransactionRecord{
		ExternalID: "claim-race",
		Source:     "plaid",
		Date:       testutil.Date("2024-09-02"),
		Amount:     dec("14.00"),
		Currency:   domain.CurrencyUSD,
		Name:       "LUNCH PLACE",
	}

	const workers = 6
	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			_, err := env.svc.For(acct).ImportTransaction(ctx, rec)
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, testutil.CountEntries(t, env.db, acct.ID))
	stored := env.load(t, id)
	require.NotNil(t, stored.ExternalID)
	assert.Equal(t, "claim-race", *stored.ExternalID)
	assert.Equal(t, "Lunch", stored.Name)
}
