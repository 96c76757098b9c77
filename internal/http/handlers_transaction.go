package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"financemate/internal/core"
	"financemate/internal/ledger"
)

type transactionView struct {
	ID                string `json:"id"`
	AccountID         string `json:"accountId"`
	Type              string `json:"type"`
	Amount            string `json:"amount"`
	Description       string `json:"description"`
	Date              string `json:"date"`
	Category          string `json:"category"`
	IsRecurring       bool   `json:"isRecurring"`
	RecurringInterval string `json:"recurringInterval,omitempty"`
	NextRecurringDate string `json:"nextRecurringDate,omitempty"`
}

func toTransactionView(t core.Transaction) transactionView {
	v := transactionView{
		ID:          t.ID,
		AccountID:   t.AccountID,
		Type:        string(t.Type),
		Amount:      t.Amount.Decimal(),
		Description: t.Description,
		Date:        t.Date.Format("2006-01-02"),
		Category:    t.Category,
		IsRecurring: t.IsRecurring,
	}
	if t.IsRecurring {
		v.RecurringInterval = string(t.RecurringInterval)
		if !t.NextRecurringDate.IsZero() {
			v.NextRecurringDate = t.NextRecurringDate.Format("2006-01-02")
		}
	}
	return v
}

type createTransactionRequest struct {
	AccountID         string `json:"accountId"`
	Type              string `json:"type"`
	Amount            string `json:"amount"`
	Description       string `json:"description"`
	Date              string `json:"date"`
	Category          string `json:"category"`
	IsRecurring       bool   `json:"isRecurring"`
	RecurringInterval string `json:"recurringInterval"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, core.Validation(errors.New("invalid request body")))
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, r, core.Validation(errors.New("date must be YYYY-MM-DD")))
		return
	}

	transaction, err := s.ledger.CreateTransaction(r.Context(), ownerFrom(r), ledger.CreateTransactionInput{
		AccountID:         req.AccountID,
		Type:              core.TransactionType(req.Type),
		Amount:            req.Amount,
		Description:       sanitizeInput(req.Description),
		Date:              date,
		Category:          sanitizeInput(req.Category),
		IsRecurring:       req.IsRecurring,
		RecurringInterval: core.RecurringInterval(req.RecurringInterval),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionView(transaction))
}

type bulkDeleteRequest struct {
	TransactionIDs []string `json:"transactionIds"`
}

func (s *Server) handleBulkDeleteTransactions(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, core.Validation(errors.New("invalid request body")))
		return
	}

	if err := s.ledger.BulkDeleteTransactions(r.Context(), ownerFrom(r), req.TransactionIDs); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}
