package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"ledger-engine/internal/domain"
	"ledger-engine/internal/errors"
	"ledger-engine/internal/ledger"
)

type LedgerHandler struct {
	engine *ledger.Engine
}

func NewLedgerHandler(engine *ledger.Engine) *LedgerHandler {
	return &LedgerHandler{
		engine: engine,
	}
}

type EntryRequest struct {
	AccountID   string `json:"account_id"`
	Currency    string `json:"currency"`
	Debit       string `json:"debit,omitempty"`
	Credit      string `json:"credit,omitempty"`
	EntryType   string `json:"entry_type"`
	Description string `json:"description,omitempty"`
}

type PostTransactionRequest struct {
	TransactionID string         `json:"transaction_id"`
	Entries       []EntryRequest `json:"entries"`
}

type EntryResponse struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	AccountID     string `json:"account_id"`
	Debit         string `json:"debit"`
	Credit        string `json:"credit"`
	Currency      string `json:"currency"`
	EntryType     string `json:"entry_type"`
	Description   string `json:"description,omitempty"`
	Checksum      string `json:"checksum"`
	CreatedAt     string `json:"created_at"`
}

func (h *LedgerHandler) PostTransaction(w http.ResponseWriter, r *http.Request) {
	var req PostTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error()))
		return
	}

	specs := make([]ledger.EntrySpec, 0, len(req.Entries))
	for _, e := range req.Entries {
		spec, appErr := parseEntryRequest(e)
		if appErr != nil {
			writeError(w, appErr)
			return
		}
		specs = append(specs, spec)
	}

	entries, err := h.engine.PostDoubleEntry(req.TransactionID, specs)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := make([]EntryResponse, 0, len(entries))
	for _, entry := range entries {
		response = append(response, EntryResponse{
			ID:            entry.ID.String(),
			TransactionID: entry.TransactionID,
			AccountID:     entry.AccountID.String(),
			Debit:         entry.Debit.String(),
			Credit:        entry.Credit.String(),
			Currency:      entry.Currency,
			EntryType:     string(entry.EntryType),
			Description:   entry.Description,
			Checksum:      entry.Checksum,
			CreatedAt:     entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}

	writeJSON(w, http.StatusCreated, response)
}

func parseEntryRequest(e EntryRequest) (ledger.EntrySpec, *errors.AppError) {
	accountID, err := uuid.Parse(e.AccountID)
	if err != nil {
		return ledger.EntrySpec{}, errors.NewAppErrorf(errors.InvalidInput, "invalid account_id %q", e.AccountID)
	}

	debit := decimal.Zero
	if e.Debit != "" {
		if debit, err = decimal.NewFromString(e.Debit); err != nil {
			return ledger.EntrySpec{}, errors.NewAppError(errors.InvalidAmount, "invalid debit format").WithDetails(err.Error())
		}
	}
	credit := decimal.Zero
	if e.Credit != "" {
		if credit, err = decimal.NewFromString(e.Credit); err != nil {
			return ledger.EntrySpec{}, errors.NewAppError(errors.InvalidAmount, "invalid credit format").WithDetails(err.Error())
		}
	}

	return ledger.EntrySpec{
		AccountID:   accountID,
		Currency:    e.Currency,
		Debit:       debit,
		Credit:      credit,
		EntryType:   domain.EntryType(e.EntryType),
		Description: e.Description,
	}, nil
}

type VerifyResponse struct {
	TransactionID string `json:"transaction_id"`
	IsValid       bool   `json:"is_valid"`
}

func (h *LedgerHandler) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID := mux.Vars(r)["transaction_id"]

	valid, err := h.engine.VerifyTransactionIntegrity(transactionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, VerifyResponse{
		TransactionID: transactionID,
		IsValid:       valid,
	})
}

type ReconcileRequest struct {
	AccountID string `json:"account_id,omitempty"`
	Currency  string `json:"currency,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

func (h *LedgerHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	filter := domain.EntryFilter{}

	if r.Body != nil && r.ContentLength != 0 {
		var req ReconcileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error()))
			return
		}

		if req.AccountID != "" {
			accountID, err := uuid.Parse(req.AccountID)
			if err != nil {
				writeError(w, errors.NewAppErrorf(errors.InvalidInput, "invalid account_id %q", req.AccountID))
				return
			}
			filter.AccountID = accountID
		}
		filter.Currency = req.Currency

		if req.From != "" {
			from, err := time.Parse(time.RFC3339, req.From)
			if err != nil {
				writeError(w, errors.NewAppError(errors.InvalidInput, "invalid from timestamp, expected RFC3339"))
				return
			}
			filter.From = from
		}
		if req.To != "" {
			to, err := time.Parse(time.RFC3339, req.To)
			if err != nil {
				writeError(w, errors.NewAppError(errors.InvalidInput, "invalid to timestamp, expected RFC3339"))
				return
			}
			filter.To = to
		}
	}

	result, err := h.engine.Reconcile(filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *LedgerHandler) RunIntegrityValidation(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.RunIntegrityValidation()
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
