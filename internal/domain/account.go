package domain

import (
	"time"

	"github.com/google/uuid"
)

type AccountType string

const (
	AccountTypeDepository     AccountType = "depository"
	AccountTypeCreditCard     AccountType = "credit_card"
	AccountTypeInvestment     AccountType = "investment"
	AccountTypeCrypto         AccountType = "crypto"
	AccountTypeLoan           AccountType = "loan"
	AccountTypeProperty       AccountType = "property"
	AccountTypeVehicle        AccountType = "vehicle"
	AccountTypeOtherAsset     AccountType = "other_asset"
	AccountTypeOtherLiability AccountType = "other_liability"
)

// IsInvestment reports whether activity labels are inferred for the account.
func (t AccountType) IsInvestment() bool {
	return t == AccountTypeInvestment || t == AccountTypeCrypto
}

type AccountStatus string

const (
	AccountStatusActive          AccountStatus = "active"
	AccountStatusDraft           AccountStatus = "draft"
	AccountStatusDisabled        AccountStatus = "disabled"
	AccountStatusPendingDeletion AccountStatus = "pending_deletion"
)

type Family struct {
	ID                                uuid.UUID
	Name                              string
	Currency                          Currency
	InvestmentContributionsCategoryID *uuid.UUID
	CreatedAt                         time.Time
}

type Account struct {
	ID          uuid.UUID
	FamilyID    uuid.UUID
	Name        string
	AccountType AccountType
	Currency    Currency
	Status      AccountStatus
	CreatedAt   time.Time
}

type ProviderType string

const (
	ProviderPlaid     ProviderType = "plaid"
	ProviderSimpleFIN ProviderType = "simplefin"
	ProviderSnapTrade ProviderType = "snaptrade"
	ProviderIBKR      ProviderType = "ibkr"
	ProviderCoinbase  ProviderType = "coinbase"
)

// ProviderLink joins an account to one provider connection. An account has
// at most one link per provider type.
type ProviderLink struct {
	ID                  uuid.UUID
	AccountID           uuid.UUID
	ProviderType        ProviderType
	ProviderRef         string
	LockHoldingDeletion bool
	CreatedAt           time.Time
}

// HoldingDeletionLocked reports whether any of the links forbids pruning
// holdings on their account.
func HoldingDeletionLocked(links []ProviderLink) bool {
	for _, l := range links {
		if l.LockHoldingDeletion {
			return true
		}
	}
	return false
}
