package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sdiallo/bulkdisburse/internal/models"
	"github.com/sdiallo/bulkdisburse/internal/service"
)

// TransferHandler exposes standalone transfer endpoints and the
// per-transfer settlement callback.
type TransferHandler struct {
	bulk       *service.BulkService
	settlement *service.SettlementService
}

func NewTransferHandler(bulk *service.BulkService, settlement *service.SettlementService) *TransferHandler {
	return &TransferHandler{bulk: bulk, settlement: settlement}
}

type createTransferRequest struct {
	PayerAccountID string `json:"payerAccountId"`
	service.TransferInput
}

// CreateTransfer accepts a standalone disbursement. Internally it runs as
// a batch of one, so funding and settlement behave exactly like a batch.
func (h *TransferHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid JSON body")
		return
	}

	transfer, err := h.bulk.CreateTransfer(r.Context(), req.PayerAccountID, req.TransferInput)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInsufficientFunds),
			errors.Is(err, models.ErrDuplicateTransferID),
			errors.Is(err, models.ErrAccountNotFound):
			RespondServiceError(w, r, err)
		default:
			if _, _, _, dbErr := mapDBError(err); dbErr {
				RespondServiceError(w, r, err)
				return
			}
			RespondError(w, r, http.StatusBadRequest, "request/validation", err.Error())
		}
		return
	}
	RespondJSON(w, http.StatusAccepted, transfer)
}

// GetTransfer returns one transfer by its external identifier.
func (h *TransferHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "transferID")
	transfer, err := h.bulk.GetTransfer(r.Context(), transferID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, transfer)
}

// SettlementCallback finalizes one transfer from an adapter callback. An
// empty body is a bare completion acknowledgment; replays return the
// recorded outcome.
func (h *TransferHandler) SettlementCallback(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "transferID")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "failed to read request body")
		return
	}

	notice, err := service.NormalizeCallback(transferID, body)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/validation", err.Error())
		return
	}

	result, err := h.settlement.Apply(r.Context(), notice)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}
