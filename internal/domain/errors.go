package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAccountNotFound    = errors.New("account not found")
	ErrFamilyNotFound     = errors.New("family not found")
	ErrSecurityNotFound   = errors.New("security not found")
	ErrMissingCorrelation = errors.New("external_id and source are required")
	ErrTypeCollision      = errors.New("external id already used by a different entry kind")
	ErrInvalidCurrency    = errors.New("invalid currency")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidRecord      = errors.New("invalid record")
	ErrRateNotFound       = errors.New("exchange rate not found")
	ErrMissingSecurity    = errors.New("security is required")
	ErrDuplicateBatch     = errors.New("duplicate sync batch")
	ErrHoldingExists      = errors.New("holding already exists for security and date")
)
