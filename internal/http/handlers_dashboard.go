package http

import (
	"net/http"

	"financemate/internal/core"
)

type dashboardView struct {
	Accounts   []accountView `json:"accounts"`
	NetBalance string        `json:"netBalance"`
}

type accountDetailView struct {
	Account          accountView       `json:"account"`
	Transactions     []transactionView `json:"transactions"`
	TransactionCount int               `json:"transactionCount"`
}

func toDashboardView(o core.DashboardOverview) dashboardView {
	views := make([]accountView, 0, len(o.Accounts))
	for _, a := range o.Accounts {
		views = append(views, toAccountView(a))
	}
	return dashboardView{Accounts: views, NetBalance: o.NetBalance.Decimal()}
}

func toAccountDetailView(d core.AccountDetail) accountDetailView {
	transactions := make([]transactionView, 0, len(d.Transactions))
	for _, t := range d.Transactions {
		transactions = append(transactions, toTransactionView(t))
	}
	return accountDetailView{
		Account:          toAccountView(d.Account),
		Transactions:     transactions,
		TransactionCount: d.TransactionCount,
	}
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFrom(r)

	if s.views != nil {
		if overview, ok := s.views.overview.Get(dashboardKey(ownerID)); ok {
			writeJSON(w, http.StatusOK, toDashboardView(overview))
			return
		}
	}

	overview, err := s.ledger.Dashboard(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.views != nil {
		s.views.overview.Set(dashboardKey(ownerID), overview)
	}

	writeJSON(w, http.StatusOK, toDashboardView(overview))
}
