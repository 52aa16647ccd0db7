package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sdiallo/bulkdisburse/internal/api/problem"
	"github.com/sdiallo/bulkdisburse/internal/models"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// RespondServiceError maps service sentinel errors onto HTTP statuses and
// falls back to a 500 for everything unmapped.
func RespondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrInsufficientFunds):
		RespondError(w, r, http.StatusUnprocessableEntity, "funds/insufficient", err.Error())
	case errors.Is(err, models.ErrDuplicateTransferID):
		RespondError(w, r, http.StatusConflict, "transfers/duplicate-id", err.Error())
	case errors.Is(err, models.ErrUnknownTransfer):
		RespondError(w, r, http.StatusNotFound, "transfers/unknown", err.Error())
	case errors.Is(err, models.ErrBulkNotFound):
		RespondError(w, r, http.StatusNotFound, "bulk-transfers/not-found", err.Error())
	case errors.Is(err, models.ErrAccountNotFound):
		RespondError(w, r, http.StatusNotFound, "accounts/not-found", err.Error())
	default:
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
	}
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
