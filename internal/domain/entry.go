package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	EntryKindTransaction EntryKind = "transaction"
	EntryKindTrade       EntryKind = "trade"
	EntryKindValuation   EntryKind = "valuation"
)

// Entryable is the payload of an entry. Implemented by *Transaction, *Trade
// and *Valuation only.
type Entryable interface {
	EntryKind() EntryKind
}

// Entry is one economic event on one account.
type Entry struct {
	ID           uuid.UUID
	AccountID    uuid.UUID
	Date         time.Time
	Amount       decimal.Decimal
	Currency     Currency
	Name         string
	Notes        *string
	ExternalID   *string
	Source       *string
	Excluded     bool
	UserModified bool
	ImportLocked bool
	Enrichments  Enrichments
	Payload      Entryable
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (e *Entry) Kind() EntryKind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EntryKind()
}

func (e *Entry) Transaction() (*Transaction, bool) {
	t, ok := e.Payload.(*Transaction)
	return t, ok
}

func (e *Entry) Trade() (*Trade, bool) {
	t, ok := e.Payload.(*Trade)
	return t, ok
}

func (e *Entry) Valuation() (*Valuation, bool) {
	v, ok := e.Payload.(*Valuation)
	return v, ok
}

// HasProvider reports whether the entry carries a provider correlation key.
func (e *Entry) HasProvider() bool {
	return e.ExternalID != nil && e.Source != nil
}

// Link assigns the provider correlation key without touching content.
func (e *Entry) Link(externalID, source string) {
	e.ExternalID = &externalID
	e.Source = &source
}

type TransactionKind string

const (
	TransactionKindStandard               TransactionKind = "standard"
	TransactionKindFundsMovement          TransactionKind = "funds_movement"
	TransactionKindCCPayment              TransactionKind = "cc_payment"
	TransactionKindLoanPayment            TransactionKind = "loan_payment"
	TransactionKindOneTime                TransactionKind = "one_time"
	TransactionKindInvestmentContribution TransactionKind = "investment_contribution"
)

type ActivityLabel string

const (
	ActivityBuy          ActivityLabel = "Buy"
	ActivitySell         ActivityLabel = "Sell"
	ActivityDividend     ActivityLabel = "Dividend"
	ActivityInterest     ActivityLabel = "Interest"
	ActivityFee          ActivityLabel = "Fee"
	ActivityContribution ActivityLabel = "Contribution"
	ActivityTransfer     ActivityLabel = "Transfer"
	ActivitySweepIn      ActivityLabel = "Sweep In"
	ActivitySweepOut     ActivityLabel = "Sweep Out"
	ActivityOther        ActivityLabel = "Other"
)

// IsFundsMovement reports whether the label describes money moving between
// the user's own accounts.
func (l ActivityLabel) IsFundsMovement() bool {
	return l == ActivityTransfer || l == ActivitySweepIn || l == ActivitySweepOut
}

type Transaction struct {
	CategoryID              *uuid.UUID
	MerchantID              *uuid.UUID
	Kind                    TransactionKind
	InvestmentActivityLabel *ActivityLabel
	Extra                   Extra
}

func (*Transaction) EntryKind() EntryKind { return EntryKindTransaction }

type Trade struct {
	SecurityID              uuid.UUID
	Quantity                decimal.Decimal
	Price                   decimal.Decimal
	Currency                Currency
	InvestmentActivityLabel *ActivityLabel
}

func (*Trade) EntryKind() EntryKind { return EntryKindTrade }

type ValuationKind string

const (
	ValuationKindReconciliation ValuationKind = "reconciliation"
	ValuationKindOpeningAnchor  ValuationKind = "opening_anchor"
	ValuationKindCurrentAnchor  ValuationKind = "current_anchor"
)

type Valuation struct {
	Kind ValuationKind
}

func (*Valuation) EntryKind() EntryKind { return EntryKindValuation }
