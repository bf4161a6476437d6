package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"ledger-engine/internal/errors"
	"ledger-engine/internal/ledger"
	"ledger-engine/internal/registry"
)

type AccountHandler struct {
	registry *registry.Registry
	engine   *ledger.Engine
}

func NewAccountHandler(registry *registry.Registry, engine *ledger.Engine) *AccountHandler {
	return &AccountHandler{
		registry: registry,
		engine:   engine,
	}
}

type CreateAccountRequest struct {
	UserID   string `json:"user_id"`
	Type     string `json:"account_type"`
	Currency string `json:"currency"`
	Name     string `json:"name,omitempty"`
	IsSystem bool   `json:"is_system,omitempty"`
}

type AccountResponse struct {
	AccountID string `json:"account_id"`
	UserID    string `json:"user_id"`
	Type      string `json:"account_type"`
	Currency  string `json:"currency"`
	Name      string `json:"name,omitempty"`
	Balance   string `json:"balance"`
	IsSystem  bool   `json:"is_system"`
}

func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body"))
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, errors.NewAppErrorf(errors.InvalidInput, "invalid user_id %q", req.UserID))
		return
	}

	account, err := h.registry.CreateAccount(registry.CreateAccountRequest{
		UserID:   userID,
		Type:     req.Type,
		Currency: req.Currency,
		Name:     req.Name,
		IsSystem: req.IsSystem,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, AccountResponse{
		AccountID: account.ID.String(),
		UserID:    account.UserID.String(),
		Type:      account.Type,
		Currency:  account.Currency,
		Name:      account.Name,
		Balance:   account.Balance.String(),
		IsSystem:  account.IsSystem,
	})
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(mux.Vars(r)["account_id"])
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid account id"))
		return
	}

	account, err := h.registry.GetAccount(accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AccountResponse{
		AccountID: account.ID.String(),
		UserID:    account.UserID.String(),
		Type:      account.Type,
		Currency:  account.Currency,
		Name:      account.Name,
		Balance:   account.Balance.String(),
		IsSystem:  account.IsSystem,
	})
}

// GetBalance returns the balance derived from the entry log next to the
// cached value, with the consistency verdict.
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(mux.Vars(r)["account_id"])
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid account id"))
		return
	}

	currency := r.URL.Query().Get("currency")
	if currency == "" {
		account, err := h.registry.GetAccount(accountID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		currency = account.Currency
	}

	result, err := h.engine.GetAccountBalance(accountID, currency)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
