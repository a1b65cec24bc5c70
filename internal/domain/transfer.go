package domain

import (
	"time"

	"github.com/google/uuid"
)

type TransferStatus string

const TransferStatusPending TransferStatus = "pending"

// Transfer pairs one inflow (negative amount) and one outflow (positive
// amount) transaction on two accounts of the same family.
type Transfer struct {
	ID                   uuid.UUID
	InflowTransactionID  uuid.UUID
	OutflowTransactionID uuid.UUID
	Status               TransferStatus
	CreatedAt            time.Time
}

// KindForDestination returns the transaction kind of the outflow side of a
// transfer into an account of type t.
func KindForDestination(t AccountType) TransactionKind {
	switch t {
	case AccountTypeLoan:
		return TransactionKindLoanPayment
	case AccountTypeCreditCard:
		return TransactionKindCCPayment
	case AccountTypeInvestment, AccountTypeCrypto:
		return TransactionKindInvestmentContribution
	default:
		return TransactionKindFundsMovement
	}
}
