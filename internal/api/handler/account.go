package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sdiallo/bulkdisburse/internal/models"
	"github.com/sdiallo/bulkdisburse/internal/service"
)

// AccountHandler exposes ledger account endpoints.
type AccountHandler struct {
	accounts *service.AccountService
}

func NewAccountHandler(accounts *service.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// CreateAccount opens a ledger account.
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req service.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid JSON body")
		return
	}

	account, err := h.accounts.CreateAccount(r.Context(), req)
	if err != nil {
		if _, _, _, dbErr := mapDBError(err); dbErr {
			RespondServiceError(w, r, err)
			return
		}
		RespondError(w, r, http.StatusBadRequest, "request/validation", err.Error())
		return
	}
	RespondJSON(w, http.StatusCreated, account)
}

// GetAccount returns an account with its balance and reservation.
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	account, err := h.accounts.GetAccount(r.Context(), accountID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, account)
}

// GetParty resolves a scheme party identity to a ledger account.
func (h *AccountHandler) GetParty(w http.ResponseWriter, r *http.Request) {
	idType := chi.URLParam(r, "idType")
	identifier := chi.URLParam(r, "identifier")

	account, err := h.accounts.GetAccountByParty(r.Context(), idType, identifier)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			RespondError(w, r, http.StatusNotFound, "parties/not-found", err.Error())
			return
		}
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"party": map[string]any{
			"partyIdInfo": map[string]string{
				"partyIdType":     account.PartyIDType,
				"partyIdentifier": account.PartyIdentifier,
			},
		},
		"accountId": account.AccountID,
	})
}
