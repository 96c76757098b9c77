// Package ledger implements the reconciliation service: authenticated CRUD
// over accounts and transactions with balance bookkeeping. Every
// multi-statement invariant-preserving sequence runs inside one atomic unit
// of the store, including the bulk-delete reconciliation and the
// single-default toggling.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"financemate/internal/admission"
	"financemate/internal/core"
	"financemate/internal/storage"
)

// Store is the persistence collaborator. *storage.SQLiteRepository satisfies
// it; tests substitute a fake.
type Store interface {
	CreateAccount(ctx context.Context, a core.Account, clearDefaults bool) error
	GetAccount(ctx context.Context, ownerID, accountID string) (core.Account, error)
	GetAccountAny(ctx context.Context, accountID string) (core.Account, error)
	ListAccounts(ctx context.Context, ownerID string) ([]core.Account, error)
	CountAccounts(ctx context.Context, ownerID string) (int, error)
	SetDefaultAccount(ctx context.Context, ownerID, accountID string) error
	UpdateAccount(ctx context.Context, a core.Account, clearDefaults bool) error
	DeleteAccountCascade(ctx context.Context, ownerID, accountID string) error

	CreateTransaction(ctx context.Context, t core.Transaction) error
	GetTransactionsByIDs(ctx context.Context, ownerID string, ids []string) ([]core.Transaction, error)
	ListTransactionsByAccount(ctx context.Context, ownerID, accountID string) ([]core.Transaction, error)
	DeleteTransactionsAdjustBalances(ctx context.Context, ownerID string, ids []string, deltas map[string]int64) error
}

// Admission gates mutations behind per-user admission control.
type Admission interface {
	Protect(ctx context.Context, ownerID string, requested int) admission.Decision
}

// Revalidator receives stale-view notifications after successful mutations.
// Notification is fire-and-forget; a missing or failing revalidator never
// fails the operation.
type Revalidator interface {
	Revalidate(path string)
}

// SyncPublisher hands freshly created transactions to the background backup
// pipeline. Optional, like the revalidator.
type SyncPublisher interface {
	PublishTransactionSync(ctx context.Context, id string, version int64) error
}

type Service struct {
	store     Store
	admission Admission
	reval     Revalidator
	publisher SyncPublisher
}

// New builds the service with explicit dependencies. admission, reval and
// publisher may be nil.
func New(store Store, adm Admission, reval Revalidator, publisher SyncPublisher) *Service {
	return &Service{store: store, admission: adm, reval: reval, publisher: publisher}
}

type (
	CreateAccountInput struct {
		Name      string
		Type      core.AccountType
		Balance   string
		IsDefault bool
	}

	CreateTransactionInput struct {
		AccountID         string
		Type              core.TransactionType
		Amount            string
		Description       string
		Date              time.Time
		Category          string
		IsRecurring       bool
		RecurringInterval core.RecurringInterval
	}
)

// BulkDeleteTransactions removes the owner's transactions among ids and
// adjusts the affected accounts' balances, as one atomic unit. Identifiers
// not owned by the caller or not found are silently excluded: partial id
// sets commonly arise from concurrent UI state. A second call with the same
// ids finds nothing and succeeds as a no-op.
func (s *Service) BulkDeleteTransactions(ctx context.Context, ownerID string, ids []string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	if len(ids) == 0 {
		return core.Validation(errors.New("no transaction ids given"))
	}

	// The owner-scoped fetch is the authoritative working set.
	transactions, err := s.store.GetTransactionsByIDs(ctx, ownerID, ids)
	if err != nil {
		return fmt.Errorf("fetch transactions: %w", err)
	}
	if len(transactions) == 0 {
		slog.InfoContext(ctx, "Bulk delete matched no owned transactions", "owner_id", ownerID, "requested", len(ids))
		return nil
	}

	// Removing an expense restores its amount; removing income takes it back.
	deltas := make(map[string]int64)
	deleteIDs := make([]string, 0, len(transactions))
	for _, t := range transactions {
		deltas[t.AccountID] += t.RemovalEffect()
		deleteIDs = append(deleteIDs, t.ID)
	}

	if err := s.store.DeleteTransactionsAdjustBalances(ctx, ownerID, deleteIDs, deltas); err != nil {
		return fmt.Errorf("delete transactions: %w", err)
	}

	slog.InfoContext(ctx, "Bulk deleted transactions",
		"owner_id", ownerID,
		"deleted", len(deleteIDs),
		"accounts_adjusted", len(deltas))

	s.revalidate("/dashboard")
	for accountID := range deltas {
		s.revalidate("/account/" + accountID)
	}
	return nil
}

// UpdateDefaultAccount makes accountID the owner's single default account.
// The clear-then-set sequence runs in one atomic unit of the store.
func (s *Service) UpdateDefaultAccount(ctx context.Context, ownerID, accountID string) (core.Account, error) {
	if err := requireOwner(ownerID); err != nil {
		return core.Account{}, err
	}

	demoted := s.defaultAccountID(ctx, ownerID)

	if err := s.store.SetDefaultAccount(ctx, ownerID, accountID); err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return core.Account{}, s.classifyAccountErr(ctx, accountID)
		}
		return core.Account{}, fmt.Errorf("set default account: %w", err)
	}

	account, err := s.store.GetAccount(ctx, ownerID, accountID)
	if err != nil {
		return core.Account{}, fmt.Errorf("reload account: %w", err)
	}

	s.revalidate("/dashboard")
	s.revalidate("/account/" + accountID)
	if demoted != "" && demoted != accountID {
		s.revalidate("/account/" + demoted)
	}
	return account, nil
}

// UpdateAccount validates ownership and the patch, consults admission
// control, then applies the patch. When the patch flips IsDefault on, the
// other accounts' flags are cleared inside the same atomic unit.
func (s *Service) UpdateAccount(ctx context.Context, ownerID, accountID string, patch core.AccountPatch) (core.Account, error) {
	if err := requireOwner(ownerID); err != nil {
		return core.Account{}, err
	}

	if s.admission != nil {
		decision := s.admission.Protect(ctx, ownerID, 1)
		if !decision.Allowed {
			if decision.RateLimited {
				slog.WarnContext(ctx, "Account update rate limited",
					"owner_id", ownerID,
					"remaining", decision.Remaining,
					"reset_in", decision.ResetIn)
				return core.Account{}, core.ErrRateLimited
			}
			return core.Account{}, fmt.Errorf("%w: request blocked", core.ErrForbidden)
		}
	}

	account, err := s.store.GetAccountAny(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return core.Account{}, core.ErrNotFound
		}
		return core.Account{}, fmt.Errorf("load account: %w", err)
	}
	if account.UserID != ownerID {
		return core.Account{}, core.ErrForbidden
	}

	wasDefault := account.IsDefault
	if patch.Name != nil {
		account.Name = *patch.Name
	}
	if patch.Type != nil {
		account.Type = *patch.Type
	}
	if patch.Balance != nil {
		cents, err := core.ParseBalanceToCents(*patch.Balance)
		if err != nil {
			return core.Account{}, core.Validation(err)
		}
		account.Balance = core.Money{Cents: cents}
	}
	if patch.IsDefault != nil {
		account.IsDefault = *patch.IsDefault
	}
	if err := account.Validate(); err != nil {
		return core.Account{}, core.Validation(err)
	}

	clearDefaults := account.IsDefault && !wasDefault
	var demoted string
	if clearDefaults {
		demoted = s.defaultAccountID(ctx, ownerID)
	}
	if err := s.store.UpdateAccount(ctx, account, clearDefaults); err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return core.Account{}, core.ErrNotFound
		}
		return core.Account{}, fmt.Errorf("update account: %w", err)
	}

	s.revalidate("/dashboard")
	s.revalidate("/account/" + accountID)
	if demoted != "" && demoted != accountID {
		s.revalidate("/account/" + demoted)
	}
	return account, nil
}

// DeleteAccount removes the account and all its transactions in one atomic
// unit, scoped to the owner.
func (s *Service) DeleteAccount(ctx context.Context, ownerID, accountID string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}

	if err := s.store.DeleteAccountCascade(ctx, ownerID, accountID); err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return s.classifyAccountErr(ctx, accountID)
		}
		return fmt.Errorf("delete account: %w", err)
	}

	slog.InfoContext(ctx, "Deleted account with transactions", "owner_id", ownerID, "account_id", accountID)
	s.revalidate("/dashboard")
	s.revalidate("/account/" + accountID)
	return nil
}

// CreateAccount validates and inserts a new account. The owner's first
// account becomes the default automatically; an explicit default clears the
// previous one atomically with the insert.
func (s *Service) CreateAccount(ctx context.Context, ownerID string, in CreateAccountInput) (core.Account, error) {
	if err := requireOwner(ownerID); err != nil {
		return core.Account{}, err
	}

	cents, err := core.ParseBalanceToCents(in.Balance)
	if err != nil {
		return core.Account{}, core.Validation(err)
	}

	existing, err := s.store.CountAccounts(ctx, ownerID)
	if err != nil {
		return core.Account{}, fmt.Errorf("count accounts: %w", err)
	}

	now := time.Now().UTC()
	account := core.Account{
		ID:        uuid.NewString(),
		UserID:    ownerID,
		Name:      strings.TrimSpace(in.Name),
		Type:      in.Type,
		Balance:   core.Money{Cents: cents},
		IsDefault: in.IsDefault || existing == 0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := account.Validate(); err != nil {
		return core.Account{}, core.Validation(err)
	}

	var demoted string
	if account.IsDefault && existing > 0 {
		demoted = s.defaultAccountID(ctx, ownerID)
	}
	if err := s.store.CreateAccount(ctx, account, account.IsDefault); err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}

	s.revalidate("/dashboard")
	if demoted != "" {
		s.revalidate("/account/" + demoted)
	}
	return account, nil
}

// CreateTransaction validates and inserts a transaction, applying its signed
// effect to the account balance in the same atomic unit, then hands it to
// the backup pipeline.
func (s *Service) CreateTransaction(ctx context.Context, ownerID string, in CreateTransactionInput) (core.Transaction, error) {
	if err := requireOwner(ownerID); err != nil {
		return core.Transaction{}, err
	}

	cents, err := core.ParseAmountToCents(in.Amount)
	if err != nil {
		return core.Transaction{}, core.Validation(err)
	}

	account, err := s.store.GetAccount(ctx, ownerID, in.AccountID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return core.Transaction{}, s.classifyAccountErr(ctx, in.AccountID)
		}
		return core.Transaction{}, fmt.Errorf("load account: %w", err)
	}

	t := core.Transaction{
		ID:                uuid.NewString(),
		UserID:            ownerID,
		AccountID:         account.ID,
		Type:              in.Type,
		Amount:            core.Money{Cents: cents},
		Description:       strings.TrimSpace(in.Description),
		Date:              in.Date,
		Category:          in.Category,
		IsRecurring:       in.IsRecurring,
		RecurringInterval: in.RecurringInterval,
		CreatedAt:         time.Now().UTC(),
	}
	if t.IsRecurring {
		t.NextRecurringDate = t.RecurringInterval.Next(t.Date)
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, core.Validation(err)
	}

	if err := s.store.CreateTransaction(ctx, t); err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishTransactionSync(ctx, t.ID, 1); err != nil {
			// The transaction is committed; backup sync catches up later.
			slog.ErrorContext(ctx, "Failed to publish sync message", "id", t.ID, "error", err)
		}
	}

	s.revalidate("/dashboard")
	s.revalidate("/account/" + account.ID)
	return t, nil
}

// GetAccountWithTransactions returns the account and its transactions,
// newest first.
func (s *Service) GetAccountWithTransactions(ctx context.Context, ownerID, accountID string) (core.AccountDetail, error) {
	if err := requireOwner(ownerID); err != nil {
		return core.AccountDetail{}, err
	}

	account, err := s.store.GetAccount(ctx, ownerID, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return core.AccountDetail{}, core.ErrNotFound
		}
		return core.AccountDetail{}, fmt.Errorf("load account: %w", err)
	}

	transactions, err := s.store.ListTransactionsByAccount(ctx, ownerID, accountID)
	if err != nil {
		return core.AccountDetail{}, fmt.Errorf("list transactions: %w", err)
	}

	return core.AccountDetail{
		Account:          account,
		Transactions:     transactions,
		TransactionCount: len(transactions),
	}, nil
}

// Dashboard aggregates the owner's accounts and net balance.
func (s *Service) Dashboard(ctx context.Context, ownerID string) (core.DashboardOverview, error) {
	if err := requireOwner(ownerID); err != nil {
		return core.DashboardOverview{}, err
	}

	accounts, err := s.store.ListAccounts(ctx, ownerID)
	if err != nil {
		return core.DashboardOverview{}, fmt.Errorf("list accounts: %w", err)
	}

	var net int64
	for _, a := range accounts {
		net += a.Balance.Cents
	}
	return core.DashboardOverview{Accounts: accounts, NetBalance: core.Money{Cents: net}}, nil
}

// classifyAccountErr distinguishes a missing account from someone else's.
func (s *Service) classifyAccountErr(ctx context.Context, accountID string) error {
	if _, err := s.store.GetAccountAny(ctx, accountID); err == nil {
		return core.ErrForbidden
	}
	return core.ErrNotFound
}

// defaultAccountID returns the owner's current default account id, or ""
// when none is set or the lookup fails. Demoting a default must also
// invalidate the demoted account's cached detail view.
func (s *Service) defaultAccountID(ctx context.Context, ownerID string) string {
	accounts, err := s.store.ListAccounts(ctx, ownerID)
	if err != nil {
		return ""
	}
	for _, a := range accounts {
		if a.IsDefault {
			return a.ID
		}
	}
	return ""
}

func (s *Service) revalidate(path string) {
	if s.reval != nil {
		s.reval.Revalidate(path)
	}
}

func requireOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return core.ErrUnauthorized
	}
	return nil
}
