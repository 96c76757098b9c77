package core

// DashboardOverview aggregates an owner's accounts for the dashboard view.
type DashboardOverview struct {
	Accounts   []Account
	NetBalance Money
}

// AccountDetail is an account together with its transactions, newest first.
type AccountDetail struct {
	Account          Account
	Transactions     []Transaction
	TransactionCount int
}
