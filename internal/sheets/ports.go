package sheets

import (
	"context"

	"financemate/internal/core"
)

// Ports for outbound backup adapters.
type (
	// TransactionWriter appends a transaction row to the backup sheet.
	TransactionWriter interface {
		Append(ctx context.Context, t core.Transaction) (rowRef string, err error)
	}
)
