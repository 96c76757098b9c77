package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"financemate/internal/core"
	"financemate/internal/ledger"
)

type accountView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Balance   string `json:"balance"`
	IsDefault bool   `json:"isDefault"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func toAccountView(a core.Account) accountView {
	return accountView{
		ID:        a.ID,
		Name:      a.Name,
		Type:      string(a.Type),
		Balance:   a.Balance.Decimal(),
		IsDefault: a.IsDefault,
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
		UpdatedAt: a.UpdatedAt.Format(time.RFC3339),
	}
}

type createAccountRequest struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Balance   string `json:"balance"`
	IsDefault bool   `json:"isDefault"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, core.Validation(errors.New("invalid request body")))
		return
	}

	account, err := s.ledger.CreateAccount(r.Context(), ownerFrom(r), ledger.CreateAccountInput{
		Name:      sanitizeInput(req.Name),
		Type:      core.AccountType(req.Type),
		Balance:   req.Balance,
		IsDefault: req.IsDefault,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountView(account))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	overview, err := s.ledger.Dashboard(r.Context(), ownerFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	views := make([]accountView, 0, len(overview.Accounts))
	for _, a := range overview.Accounts {
		views = append(views, toAccountView(a))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFrom(r)
	accountID := r.PathValue("id")

	if s.views != nil {
		if detail, ok := s.views.detail.Get(accountKey(accountID, ownerID)); ok {
			writeJSON(w, http.StatusOK, toAccountDetailView(detail))
			return
		}
	}

	detail, err := s.ledger.GetAccountWithTransactions(r.Context(), ownerID, accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.views != nil {
		s.views.detail.Set(accountKey(accountID, ownerID), detail)
	}

	writeJSON(w, http.StatusOK, toAccountDetailView(detail))
}

type updateAccountRequest struct {
	Name      *string `json:"name"`
	Type      *string `json:"type"`
	Balance   *string `json:"balance"`
	IsDefault *bool   `json:"isDefault"`
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req updateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, core.Validation(errors.New("invalid request body")))
		return
	}

	patch := core.AccountPatch{
		Balance:   req.Balance,
		IsDefault: req.IsDefault,
	}
	if req.Name != nil {
		name := sanitizeInput(*req.Name)
		patch.Name = &name
	}
	if req.Type != nil {
		typ := core.AccountType(*req.Type)
		patch.Type = &typ
	}

	account, err := s.ledger.UpdateAccount(r.Context(), ownerFrom(r), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountView(account))
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteAccount(r.Context(), ownerFrom(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleSetDefaultAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.ledger.UpdateDefaultAccount(r.Context(), ownerFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountView(account))
}
