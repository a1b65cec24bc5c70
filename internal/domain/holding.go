package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Security struct {
	ID          uuid.UUID
	Ticker      string
	ExchangeMIC string
	Name        *string
	CreatedAt   time.Time
}

// Holding is a dated position snapshot. SecurityID is what the ledger shows
// and may be remapped by the user; ProviderSecurityID keeps what the provider
// asserted so the remap can be undone.
type Holding struct {
	ID                 uuid.UUID
	AccountID          uuid.UUID
	SecurityID         uuid.UUID
	ProviderSecurityID *uuid.UUID
	SecurityLocked     bool
	Date               time.Time
	Currency           Currency
	Quantity           decimal.Decimal
	Price              decimal.Decimal
	Amount             decimal.Decimal
	CostBasis          *decimal.Decimal
	CostBasisSource    CostBasisSource
	CostBasisLocked    bool
	ExternalID         *string
	ProviderLinkID     *uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// RemapSecurity points the holding at a user-chosen security and stops
// provider syncs from reassigning it.
func (h *Holding) RemapSecurity(securityID uuid.UUID) {
	if h.ProviderSecurityID == nil {
		orig := h.SecurityID
		h.ProviderSecurityID = &orig
	}
	h.SecurityID = securityID
	h.SecurityLocked = true
}

// ResetToProviderSecurity undoes a user remap. It reports false when the
// provider never asserted a security.
func (h *Holding) ResetToProviderSecurity() bool {
	if h.ProviderSecurityID == nil {
		return false
	}
	h.SecurityID = *h.ProviderSecurityID
	h.SecurityLocked = false
	return true
}

// OwnedByOther reports whether the holding is claimed by a provider link
// other than linkID.
func (h *Holding) OwnedByOther(linkID *uuid.UUID) bool {
	if h.ProviderLinkID == nil || linkID == nil {
		return false
	}
	return *h.ProviderLinkID != *linkID
}
