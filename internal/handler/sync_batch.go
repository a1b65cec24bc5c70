package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/ledger-sync/internal/domain"
	"github.com/josh-kwaku/ledger-sync/internal/logging"
)

type syncBatchRepository interface {
	Create(ctx context.Context, batch *domain.SyncBatch) error
}

// SyncBatchHandler accepts signed sync batches from the provider sync
// orchestrator and queues them for the sync processor.
type SyncBatchHandler struct {
	batches syncBatchRepository
	secret  string
}

func NewSyncBatchHandler(batches syncBatchRepository, secret string) *SyncBatchHandler {
	return &SyncBatchHandler{batches: batches, secret: secret}
}

type syncBatchRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	AccountID      string          `json:"account_id"`
	ProviderLinkID string          `json:"account_provider_id,omitempty"`
	Source         string          `json:"source"`
	Payload        json.RawMessage `json:"payload"`
}

func (p syncBatchRequest) validate() []FieldError {
	var errs []FieldError

	if p.IdempotencyKey == "" {
		errs = append(errs, FieldError{Field: "idempotency_key", Message: "required"})
	}

	if p.AccountID == "" {
		errs = append(errs, FieldError{Field: "account_id", Message: "required"})
	} else if _, err := uuid.Parse(p.AccountID); err != nil {
		errs = append(errs, FieldError{Field: "account_id", Message: "must be a valid UUID"})
	}

	if p.ProviderLinkID != "" {
		if _, err := uuid.Parse(p.ProviderLinkID); err != nil {
			errs = append(errs, FieldError{Field: "account_provider_id", Message: "must be a valid UUID"})
		}
	}

	if p.Source == "" {
		errs = append(errs, FieldError{Field: "source", Message: "required"})
	}

	if !isJSONObject(p.Payload) {
		errs = append(errs, FieldError{Field: "payload", Message: "must be a JSON object"})
	}

	return errs
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

func (p syncBatchRequest) batch() *domain.SyncBatch {
	b := &domain.SyncBatch{
		ID:             uuid.New(),
		IdempotencyKey: p.IdempotencyKey,
		AccountID:      uuid.MustParse(p.AccountID),
		Source:         p.Source,
		Payload:        p.Payload,
		Status:         domain.SyncBatchStatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	if p.ProviderLinkID != "" {
		id := uuid.MustParse(p.ProviderLinkID)
		b.ProviderLinkID = &id
	}
	return b
}

func (h *SyncBatchHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		log.Error("failed to read sync batch body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	sig := r.Header.Get("X-Signature")
	if !verifyHMAC(body, sig, h.secret) {
		log.Warn("sync batch signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	var req syncBatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		log.Warn("failed to parse sync batch", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	batch := req.batch()
	if err := h.batches.Create(r.Context(), batch); err != nil {
		if errors.Is(err, domain.ErrDuplicateBatch) {
			log.Info("duplicate sync batch received", "idempotency_key", req.IdempotencyKey, "account_id", req.AccountID)
			RespondSuccess(w, http.StatusOK, map[string]string{"status": "already_received"})
			return
		}
		log.Error("failed to store sync batch", "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	log.Info("sync batch queued",
		"sync_batch_id", batch.ID,
		"idempotency_key", batch.IdempotencyKey,
		"account_id", batch.AccountID,
		"source", batch.Source,
	)

	RespondSuccess(w, http.StatusAccepted, map[string]string{"status": "queued", "sync_batch_id": batch.ID.String()})
}

func verifyHMAC(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
