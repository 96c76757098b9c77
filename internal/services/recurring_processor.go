// Package services hosts the background workers: materializing due recurring
// transactions and backing up committed transactions to the spreadsheet.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"financemate/internal/core"
	"financemate/internal/ledger"
)

// RecurringStore is the slice of persistence the recurring processor needs.
type RecurringStore interface {
	ListDueRecurring(ctx context.Context, now time.Time, limit int) ([]core.Transaction, error)
	UpdateNextRecurringDate(ctx context.Context, id string, next time.Time) error
}

// TransactionCreator materializes a concrete transaction. *ledger.Service
// satisfies it.
type TransactionCreator interface {
	CreateTransaction(ctx context.Context, ownerID string, in ledger.CreateTransactionInput) (core.Transaction, error)
}

// RecurringProcessor turns due recurring templates into concrete
// transactions. Each cycle creates at most one occurrence per template and
// advances the template's next date; a template that fell behind catches up
// over subsequent cycles.
type RecurringProcessor struct {
	store     RecurringStore
	creator   TransactionCreator
	batchSize int
}

func NewRecurringProcessor(store RecurringStore, creator TransactionCreator, batchSize int) *RecurringProcessor {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &RecurringProcessor{store: store, creator: creator, batchSize: batchSize}
}

// ProcessDue materializes every template whose next occurrence is at or
// before now. Returns the number of transactions created. A failing template
// is logged and skipped so the rest of the batch still runs.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	due, err := p.store.ListDueRecurring(ctx, now, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due recurring: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring transactions",
		"due", len(due),
		"processing_date", now.Format("2006-01-02"))

	created := 0
	for _, tmpl := range due {
		occurrence := ledger.CreateTransactionInput{
			AccountID:   tmpl.AccountID,
			Type:        tmpl.Type,
			Amount:      tmpl.Amount.Decimal(),
			Description: tmpl.Description,
			Date:        tmpl.NextRecurringDate,
			Category:    tmpl.Category,
		}

		if _, err := p.creator.CreateTransaction(ctx, tmpl.UserID, occurrence); err != nil {
			slog.ErrorContext(ctx, "Failed to create transaction from recurring template",
				"template_id", tmpl.ID,
				"description", tmpl.Description,
				"error", err)
			continue
		}

		next := tmpl.RecurringInterval.Next(tmpl.NextRecurringDate)
		if err := p.store.UpdateNextRecurringDate(ctx, tmpl.ID, next); err != nil {
			// The occurrence exists; leaving the old next date would duplicate
			// it on the next cycle, so this is worth surfacing loudly.
			slog.ErrorContext(ctx, "Failed to advance next recurring date",
				"template_id", tmpl.ID,
				"error", err)
			continue
		}

		created++
		slog.InfoContext(ctx, "Created transaction from recurring template",
			"template_id", tmpl.ID,
			"amount_cents", tmpl.Amount.Cents,
			"interval", tmpl.RecurringInterval,
			"next", next.Format("2006-01-02"))
	}

	slog.InfoContext(ctx, "Recurring processing complete", "created", created, "checked", len(due))
	return created, nil
}

// Run processes due templates on a fixed interval until ctx is cancelled.
func (p *RecurringProcessor) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	if _, err := p.ProcessDue(ctx, time.Now().UTC()); err != nil {
		slog.ErrorContext(ctx, "Recurring processing failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ProcessDue(ctx, time.Now().UTC()); err != nil {
				slog.ErrorContext(ctx, "Recurring processing failed", "error", err)
			}
		}
	}
}
