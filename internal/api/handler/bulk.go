package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sdiallo/bulkdisburse/internal/models"
	"github.com/sdiallo/bulkdisburse/internal/service"
	"go.uber.org/zap"
)

// BulkHandler exposes batch submission, settlement callbacks and the
// status surfaces.
type BulkHandler struct {
	bulk       *service.BulkService
	settlement *service.SettlementService
	status     *service.StatusService
	log        *zap.Logger

	// StreamInterval and WaitPollInterval control the status poll
	// cadence; tests shorten them.
	StreamInterval   time.Duration
	WaitPollInterval time.Duration
}

func NewBulkHandler(bulk *service.BulkService, settlement *service.SettlementService, status *service.StatusService, log *zap.Logger) *BulkHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &BulkHandler{
		bulk:             bulk,
		settlement:       settlement,
		status:           status,
		log:              log,
		StreamInterval:   2 * time.Second,
		WaitPollInterval: 2 * time.Second,
	}
}

// CreateBulk accepts a disbursement batch. The reservation happens
// synchronously; execution is asynchronous, so the response is 202.
func (h *BulkHandler) CreateBulk(w http.ResponseWriter, r *http.Request) {
	var req service.CreateBulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid JSON body")
		return
	}

	resp, err := h.bulk.CreateBulkTransfer(r.Context(), req)
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
	RespondJSON(w, http.StatusAccepted, resp)
}

// GetBulk returns the batch snapshot. Child transfers ride along when the
// request asks for them with ?include=transfers.
func (h *BulkHandler) GetBulk(w http.ResponseWriter, r *http.Request) {
	bulkID := chi.URLParam(r, "bulkID")
	includeTransfers := r.URL.Query().Get("include") == "transfers"

	snap, err := h.status.Snapshot(r.Context(), bulkID, includeTransfers)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, snap)
}

// BatchCallback processes a batch-level settlement callback by fanning
// its per-transfer results into the reconciler. Unusable entries are
// logged and skipped; the callback as a whole still acks so the adapter
// does not redeliver the entries that did apply.
func (h *BulkHandler) BatchCallback(w http.ResponseWriter, r *http.Request) {
	bulkID := chi.URLParam(r, "bulkID")

	var payload struct {
		BulkTransferState         string           `json:"bulkTransferState"`
		IndividualTransferResults []map[string]any `json:"individualTransferResults"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid JSON body")
		return
	}
	if len(payload.IndividualTransferResults) == 0 {
		RespondError(w, r, http.StatusBadRequest, "request/validation", "individualTransferResults is required")
		return
	}

	results, err := h.settlement.ApplyBatchResults(r.Context(), payload.IndividualTransferResults)
	if err != nil {
		h.log.Warn("batch callback partially applied",
			zap.String("bulk_transfer_id", bulkID),
			zap.Int("applied", len(results)),
			zap.Error(err))
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"bulkTransferId": bulkID,
		"results":        results,
	})
}

// StreamStatus streams batch progress as server-sent events. An event is
// emitted when the state or settled count changes, and a final done event
// closes the stream once the batch is terminal.
func (h *BulkHandler) StreamStatus(w http.ResponseWriter, r *http.Request) {
	bulkID := chi.URLParam(r, "bulkID")

	// 404s must go out before the event stream starts.
	if _, err := h.status.Snapshot(r.Context(), bulkID, false); err != nil {
		RespondServiceError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		RespondError(w, r, http.StatusInternalServerError, "stream/unsupported", "streaming unsupported by connection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range h.status.Stream(r.Context(), bulkID, h.StreamInterval) {
		if event.Kind == service.StreamEventError {
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", strconv.Quote(event.Err.Error()))
			flusher.Flush()
			return
		}
		data, err := json.Marshal(event.Snapshot)
		if err != nil {
			h.log.Error("marshal stream event", zap.Error(err))
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
		flusher.Flush()
	}
}

// WaitForCompletion blocks until the batch settles or the timeout
// elapses. A timeout responds 408 and carries the in-flight snapshot so
// the caller sees how far the batch got.
func (h *BulkHandler) WaitForCompletion(w http.ResponseWriter, r *http.Request) {
	bulkID := chi.URLParam(r, "bulkID")

	var timeout time.Duration
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			RespondError(w, r, http.StatusBadRequest, "request/validation", "timeout must be a positive integer of seconds")
			return
		}
		timeout = time.Duration(seconds) * time.Second
	}

	snap, timedOut, err := h.status.WaitForCompletion(r.Context(), bulkID, timeout, h.WaitPollInterval)
	if err != nil && snap == nil {
		RespondServiceError(w, r, err)
		return
	}
	if timedOut {
		RespondJSON(w, http.StatusRequestTimeout, map[string]any{
			"timed_out": true,
			"snapshot":  snap,
		})
		return
	}
	RespondJSON(w, http.StatusOK, snap)
}
