package reconcile

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/ledger-sync/internal/domain"
)

// TransactionRecord is one cash transaction as a provider reports it.
// Amount follows the ledger convention: positive is an outflow.
type TransactionRecord struct {
	ExternalID    string                `json:"external_id"`
	Source        string                `json:"source"`
	Date          time.Time             `json:"date"`
	Amount        decimal.Decimal       `json:"amount"`
	Currency      domain.Currency       `json:"currency"`
	Name          string                `json:"name"`
	Notes         *string               `json:"notes,omitempty"`
	CategoryID    *uuid.UUID            `json:"category_id,omitempty"`
	MerchantID    *uuid.UUID            `json:"merchant_id,omitempty"`
	ActivityLabel *domain.ActivityLabel `json:"investment_activity_label,omitempty"`
	Extra         domain.Extra          `json:"extra,omitempty"`
	// PendingLinkID is the provider's pointer from a posted record back to
	// the pending record it replaces.
	PendingLinkID string `json:"pending_transaction_id,omitempty"`
}

func (r TransactionRecord) validate() error {
	if r.ExternalID == "" || r.Source == "" {
		return domain.ErrMissingCorrelation
	}
	if !r.Currency.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidCurrency, r.Currency)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("%w: date is required", domain.ErrInvalidRecord)
	}
	return nil
}

func (r TransactionRecord) pending() bool {
	return r.Extra.IsPending(r.Source)
}

// HoldingRecord is a position snapshot. SecurityID is the security the
// provider asserts, already resolved to a ledger security.
type HoldingRecord struct {
	ExternalID     string           `json:"external_id,omitempty"`
	SecurityID     uuid.UUID        `json:"security_id"`
	Date           time.Time        `json:"date"`
	Currency       domain.Currency  `json:"currency"`
	Quantity       decimal.Decimal  `json:"quantity"`
	Amount         decimal.Decimal  `json:"amount"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	CostBasis      *decimal.Decimal `json:"cost_basis,omitempty"`
	ProviderLinkID *uuid.UUID       `json:"account_provider_id,omitempty"`
	DeleteFuture   bool             `json:"delete_future_holdings,omitempty"`
}

func (r HoldingRecord) validate() error {
	if r.SecurityID == uuid.Nil {
		return domain.ErrMissingSecurity
	}
	if !r.Currency.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidCurrency, r.Currency)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("%w: date is required", domain.ErrInvalidRecord)
	}
	return nil
}

func (r HoldingRecord) price() decimal.Decimal {
	if r.Price != nil {
		return *r.Price
	}
	if r.Quantity.IsZero() {
		return decimal.Zero
	}
	return r.Amount.DivRound(r.Quantity, 8)
}

// TradeRecord is a buy or sell of a security. Quantity is negative for
// sells.
type TradeRecord struct {
	ExternalID    string                `json:"external_id"`
	Source        string                `json:"source"`
	SecurityID    uuid.UUID             `json:"security_id"`
	Date          time.Time             `json:"date"`
	Quantity      decimal.Decimal       `json:"quantity"`
	Price         decimal.Decimal       `json:"price"`
	Amount        decimal.Decimal       `json:"amount"`
	Currency      domain.Currency       `json:"currency"`
	Name          string                `json:"name,omitempty"`
	ActivityLabel *domain.ActivityLabel `json:"investment_activity_label,omitempty"`
}

func (r TradeRecord) validate() error {
	if r.ExternalID == "" || r.Source == "" {
		return domain.ErrMissingCorrelation
	}
	if r.SecurityID == uuid.Nil {
		return domain.ErrMissingSecurity
	}
	if !r.Currency.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidCurrency, r.Currency)
	}
	if r.Quantity.IsZero() {
		return fmt.Errorf("%w: quantity must be non-zero", domain.ErrInvalidAmount)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("%w: date is required", domain.ErrInvalidRecord)
	}
	return nil
}

// ValuationRecord is a balance snapshot for an account.
type ValuationRecord struct {
	ExternalID string               `json:"external_id"`
	Source     string               `json:"source"`
	Date       time.Time            `json:"date"`
	Amount     decimal.Decimal      `json:"amount"`
	Currency   domain.Currency      `json:"currency"`
	Name       string               `json:"name,omitempty"`
	Kind       domain.ValuationKind `json:"kind,omitempty"`
}

func (r ValuationRecord) validate() error {
	if r.ExternalID == "" || r.Source == "" {
		return domain.ErrMissingCorrelation
	}
	if !r.Currency.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidCurrency, r.Currency)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("%w: date is required", domain.ErrInvalidRecord)
	}
	return nil
}
