package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"financemate/internal/amqp"
	"financemate/internal/core"
	"financemate/internal/sheets"
	"financemate/internal/storage"
)

// SyncStore is the slice of persistence the backup worker needs.
type SyncStore interface {
	GetTransaction(ctx context.Context, id string) (core.Transaction, error)
	GetPendingSyncTransactions(ctx context.Context, limit int) ([]core.Transaction, error)
	MarkTransactionSynced(ctx context.Context, id string) error
	MarkTransactionSyncError(ctx context.Context, id string) error
}

// SyncProcessorConfig tunes the backup worker.
type SyncProcessorConfig struct {
	// PollInterval is how often the fallback sweep looks for pending rows.
	PollInterval time.Duration

	// BatchSize caps how many pending rows a sweep picks up.
	BatchSize int

	// MaxRetries bounds per-message append attempts before the row is
	// marked with a sync error.
	MaxRetries int

	// RetryBaseDelay is the first backoff step; each retry doubles it.
	RetryBaseDelay time.Duration
}

func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval:   30 * time.Second,
		BatchSize:      10,
		MaxRetries:     3,
		RetryBaseDelay: 2 * time.Second,
	}
}

// SyncProcessor copies committed transactions to the spreadsheet backup. The
// primary path is message-driven via HandleSyncMessage; the polling sweep
// catches rows whose publish was lost.
type SyncProcessor struct {
	store  SyncStore
	writer sheets.TransactionWriter
	config SyncProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSyncProcessor(store SyncStore, writer sheets.TransactionWriter, config SyncProcessorConfig) *SyncProcessor {
	return &SyncProcessor{store: store, writer: writer, config: config}
}

// HandleSyncMessage backs up the transaction named by a queue message.
// Returning an error makes the consumer nack-requeue the delivery.
func (p *SyncProcessor) HandleSyncMessage(ctx context.Context, msg amqp.TransactionSyncMessage) error {
	t, err := p.store.GetTransaction(ctx, msg.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			// Deleted before the backup ran; nothing to copy.
			slog.InfoContext(ctx, "Sync message for missing transaction, dropping", "id", msg.ID)
			return nil
		}
		return fmt.Errorf("get transaction %s: %w", msg.ID, err)
	}

	return p.syncOne(ctx, t)
}

// ProcessPending sweeps rows still marked pending and backs them up. Returns
// the number synced.
func (p *SyncProcessor) ProcessPending(ctx context.Context) (int, error) {
	pending, err := p.store.GetPendingSyncTransactions(ctx, p.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("get pending transactions: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	slog.DebugContext(ctx, "Processing pending sync batch", "count", len(pending))

	synced := 0
	for _, t := range pending {
		select {
		case <-ctx.Done():
			return synced, ctx.Err()
		default:
		}
		if err := p.syncOne(ctx, t); err != nil {
			slog.ErrorContext(ctx, "Pending sync failed", "id", t.ID, "error", err)
			continue
		}
		synced++
	}
	return synced, nil
}

// syncOne appends the transaction with bounded exponential backoff, then
// records the outcome on the row.
func (p *SyncProcessor) syncOne(ctx context.Context, t core.Transaction) error {
	var lastErr error
	delay := p.config.RetryBaseDelay

	for attempt := 1; attempt <= p.config.MaxRetries; attempt++ {
		ref, err := p.writer.Append(ctx, t)
		if err == nil {
			if err := p.store.MarkTransactionSynced(ctx, t.ID); err != nil {
				// The row was appended; the status catches up on a later sweep.
				slog.WarnContext(ctx, "Failed to mark transaction synced", "id", t.ID, "error", err)
			}
			slog.InfoContext(ctx, "Backed up transaction", "id", t.ID, "ref", ref, "attempt", attempt)
			return nil
		}

		lastErr = err
		slog.WarnContext(ctx, "Backup append failed",
			"id", t.ID,
			"attempt", attempt,
			"max_retries", p.config.MaxRetries,
			"error", err)

		if attempt < p.config.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	if err := p.store.MarkTransactionSyncError(ctx, t.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark transaction sync error", "id", t.ID, "error", err)
	}
	return fmt.Errorf("append after %d attempts: %w", p.config.MaxRetries, lastErr)
}

// Start begins the fallback polling sweep. Returns an error if already
// running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Sync processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)
	return nil
}

// Stop signals the sweep to finish and waits for it or ctx.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Sync processor stopped")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *SyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	if _, err := p.ProcessPending(ctx); err != nil {
		slog.ErrorContext(ctx, "Pending sweep failed", "error", err)
	}

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ProcessPending(ctx); err != nil {
				slog.ErrorContext(ctx, "Pending sweep failed", "error", err)
			}
		}
	}
}
