package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/josh-kwaku/ledger-sync/internal/logging"
	"github.com/josh-kwaku/ledger-sync/internal/service/transfer"
)

type transferMatcher interface {
	AutoMatch(ctx context.Context, familyID uuid.UUID) (*transfer.MatchResult, error)
}

type transferRejecter interface {
	Reject(ctx context.Context, inflowID, outflowID uuid.UUID) error
}

type TransferHandler struct {
	matcher  transferMatcher
	rejecter transferRejecter
}

func NewTransferHandler(matcher transferMatcher, rejecter transferRejecter) *TransferHandler {
	return &TransferHandler{matcher: matcher, rejecter: rejecter}
}

type matchedTransfer struct {
	ID                   string `json:"id"`
	InflowTransactionID  string `json:"inflow_transaction_id"`
	OutflowTransactionID string `json:"outflow_transaction_id"`
}

// AutoMatch runs transfer matching for the family in the URL.
func (h *TransferHandler) AutoMatch(w http.ResponseWriter, r *http.Request) {
	familyID, err := uuid.Parse(chi.URLParam(r, "familyID"))
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "familyID", Message: "must be a valid UUID"}})
		return
	}

	res, err := h.matcher.AutoMatch(r.Context(), familyID)
	if err != nil {
		logging.FromContext(r.Context()).Error("auto-match failed", "family_id", familyID, "error", err)
		RespondDomainError(w, err)
		return
	}

	matched := make([]matchedTransfer, 0, len(res.Matched))
	for _, t := range res.Matched {
		matched = append(matched, matchedTransfer{
			ID:                   t.ID.String(),
			InflowTransactionID:  t.InflowTransactionID.String(),
			OutflowTransactionID: t.OutflowTransactionID.String(),
		})
	}
	RespondSuccess(w, http.StatusOK, map[string]any{"matched": matched, "no_rate": res.NoRate})
}

type rejectRequest struct {
	InflowTransactionID  string `json:"inflow_transaction_id"`
	OutflowTransactionID string `json:"outflow_transaction_id"`
}

// Reject records a declined pair so auto-match never proposes it again.
func (h *TransferHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	var fields []FieldError
	inflow, err := uuid.Parse(req.InflowTransactionID)
	if err != nil {
		fields = append(fields, FieldError{Field: "inflow_transaction_id", Message: "must be a valid UUID"})
	}
	outflow, err := uuid.Parse(req.OutflowTransactionID)
	if err != nil {
		fields = append(fields, FieldError{Field: "outflow_transaction_id", Message: "must be a valid UUID"})
	}
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	if err := h.rejecter.Reject(r.Context(), inflow, outflow); err != nil {
		logging.FromContext(r.Context()).Error("failed to reject transfer", "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusCreated, map[string]string{"status": "rejected"})
}
