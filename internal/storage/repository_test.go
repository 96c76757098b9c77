package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"financemate/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seedUser(t *testing.T, repo *SQLiteRepository, id string) {
	t.Helper()
	err := repo.CreateUser(context.Background(), core.User{
		ID:           id,
		ExternalID:   "ext-" + id,
		Email:        id + "@example.com",
		PasswordHash: []byte("hash"),
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
}

func testAccount(id, userID string, cents int64, isDefault bool) core.Account {
	now := time.Now().UTC()
	return core.Account{
		ID:        id,
		UserID:    userID,
		Name:      "Account " + id,
		Type:      core.AccountCurrent,
		Balance:   core.Money{Cents: cents},
		IsDefault: isDefault,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testTransaction(id, userID, accountID string, typ core.TransactionType, cents int64) core.Transaction {
	return core.Transaction{
		ID:          id,
		UserID:      userID,
		AccountID:   accountID,
		Type:        typ,
		Amount:      core.Money{Cents: cents},
		Description: "tx " + id,
		Date:        time.Now().UTC(),
		Category:    "misc",
		CreatedAt:   time.Now().UTC(),
	}
}

func TestUserRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")

	byEmail, err := repo.GetUserByEmail(ctx, "u1@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if byEmail.ID != "u1" {
		t.Errorf("ID = %q, want u1", byEmail.ID)
	}

	byExt, err := repo.GetUserByExternalID(ctx, "ext-u1")
	if err != nil {
		t.Fatalf("GetUserByExternalID() error = %v", err)
	}
	if byExt.Email != "u1@example.com" {
		t.Errorf("Email = %q", byExt.Email)
	}

	if _, err := repo.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrNoRows) {
		t.Errorf("missing user error = %v, want ErrNoRows", err)
	}
}

func TestCreateTransactionAdjustsBalance(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")

	if err := repo.CreateAccount(ctx, testAccount("a1", "u1", 10000, true), false); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}

	if err := repo.CreateTransaction(ctx, testTransaction("t1", "u1", "a1", core.Expense, 2500)); err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}
	if err := repo.CreateTransaction(ctx, testTransaction("t2", "u1", "a1", core.Income, 1000)); err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	account, err := repo.GetAccount(ctx, "u1", "a1")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if account.Balance.Cents != 10000-2500+1000 {
		t.Errorf("balance = %d, want %d", account.Balance.Cents, 10000-2500+1000)
	}
}

func TestCreateTransactionForMissingAccountRollsBack(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")

	err := repo.CreateTransaction(ctx, testTransaction("t1", "u1", "ghost", core.Expense, 100))
	if !errors.Is(err, ErrNoRows) {
		t.Fatalf("error = %v, want ErrNoRows", err)
	}
	// The insert must not survive the failed balance adjustment.
	if _, err := repo.GetTransaction(ctx, "t1"); !errors.Is(err, ErrNoRows) {
		t.Errorf("orphan transaction error = %v, want ErrNoRows", err)
	}
}

func TestDeleteTransactionsAdjustBalances(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")
	seedUser(t, repo, "u2")

	if err := repo.CreateAccount(ctx, testAccount("a1", "u1", 0, true), false); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	if err := repo.CreateAccount(ctx, testAccount("a2", "u2", 0, true), false); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}

	// a1 ends at +30-20=10, a2 at +400
	for _, tx := range []core.Transaction{
		testTransaction("t1", "u1", "a1", core.Income, 30),
		testTransaction("t2", "u1", "a1", core.Expense, 20),
		testTransaction("t3", "u2", "a2", core.Income, 400),
	} {
		if err := repo.CreateTransaction(ctx, tx); err != nil {
			t.Fatalf("CreateTransaction(%s) error = %v", tx.ID, err)
		}
	}

	// The owner-scoped fetch excludes the other user's transaction.
	owned, err := repo.GetTransactionsByIDs(ctx, "u1", []string{"t1", "t2", "t3", "ghost"})
	if err != nil {
		t.Fatalf("GetTransactionsByIDs() error = %v", err)
	}
	if len(owned) != 2 {
		t.Fatalf("owned = %d, want 2", len(owned))
	}

	deltas := make(map[string]int64)
	ids := make([]string, 0, len(owned))
	for _, tx := range owned {
		deltas[tx.AccountID] += tx.RemovalEffect()
		ids = append(ids, tx.ID)
	}
	if err := repo.DeleteTransactionsAdjustBalances(ctx, "u1", ids, deltas); err != nil {
		t.Fatalf("DeleteTransactionsAdjustBalances() error = %v", err)
	}

	a1, _ := repo.GetAccount(ctx, "u1", "a1")
	if a1.Balance.Cents != 0 {
		t.Errorf("a1 balance = %d, want 0", a1.Balance.Cents)
	}
	a2, _ := repo.GetAccount(ctx, "u2", "a2")
	if a2.Balance.Cents != 400 {
		t.Errorf("a2 balance = %d, want 400 untouched", a2.Balance.Cents)
	}
	if _, err := repo.GetTransaction(ctx, "t1"); !errors.Is(err, ErrNoRows) {
		t.Errorf("t1 still present: %v", err)
	}
	if _, err := repo.GetTransaction(ctx, "t3"); err != nil {
		t.Errorf("t3 should survive: %v", err)
	}
}

func TestSetDefaultAccount(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")

	if err := repo.CreateAccount(ctx, testAccount("a1", "u1", 0, true), false); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	if err := repo.CreateAccount(ctx, testAccount("a2", "u1", 0, false), false); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}

	if err := repo.SetDefaultAccount(ctx, "u1", "a2"); err != nil {
		t.Fatalf("SetDefaultAccount() error = %v", err)
	}

	accounts, err := repo.ListAccounts(ctx, "u1")
	if err != nil {
		t.Fatalf("ListAccounts() error = %v", err)
	}
	defaults := 0
	for _, a := range accounts {
		if a.IsDefault {
			defaults++
			if a.ID != "a2" {
				t.Errorf("default = %q, want a2", a.ID)
			}
		}
	}
	if defaults != 1 {
		t.Errorf("defaults = %d, want exactly 1", defaults)
	}

	if err := repo.SetDefaultAccount(ctx, "u1", "ghost"); !errors.Is(err, ErrNoRows) {
		t.Errorf("ghost account error = %v, want ErrNoRows", err)
	}
	// A failed set must not leave the owner with zero defaults.
	accounts, _ = repo.ListAccounts(ctx, "u1")
	defaults = 0
	for _, a := range accounts {
		if a.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		t.Errorf("defaults after failed set = %d, want 1", defaults)
	}
}

func TestDeleteAccountCascade(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")

	if err := repo.CreateAccount(ctx, testAccount("a1", "u1", 0, true), false); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	if err := repo.CreateTransaction(ctx, testTransaction("t1", "u1", "a1", core.Expense, 10)); err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	if err := repo.DeleteAccountCascade(ctx, "u1", "a1"); err != nil {
		t.Fatalf("DeleteAccountCascade() error = %v", err)
	}
	if _, err := repo.GetAccount(ctx, "u1", "a1"); !errors.Is(err, ErrNoRows) {
		t.Errorf("account error = %v, want ErrNoRows", err)
	}
	if _, err := repo.GetTransaction(ctx, "t1"); !errors.Is(err, ErrNoRows) {
		t.Errorf("transaction error = %v, want ErrNoRows", err)
	}
}

func TestRecurringQueries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")

	if err := repo.CreateAccount(ctx, testAccount("a1", "u1", 0, true), false); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}

	now := time.Now().UTC()
	tmpl := testTransaction("t1", "u1", "a1", core.Expense, 100)
	tmpl.IsRecurring = true
	tmpl.RecurringInterval = core.Monthly
	tmpl.NextRecurringDate = now.AddDate(0, 0, -1)
	if err := repo.CreateTransaction(ctx, tmpl); err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	future := testTransaction("t2", "u1", "a1", core.Expense, 100)
	future.IsRecurring = true
	future.RecurringInterval = core.Weekly
	future.NextRecurringDate = now.AddDate(0, 0, 7)
	if err := repo.CreateTransaction(ctx, future); err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	due, err := repo.ListDueRecurring(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDueRecurring() error = %v", err)
	}
	if len(due) != 1 || due[0].ID != "t1" {
		t.Fatalf("due = %v, want only t1", due)
	}

	next := now.AddDate(0, 1, 0)
	if err := repo.UpdateNextRecurringDate(ctx, "t1", next); err != nil {
		t.Fatalf("UpdateNextRecurringDate() error = %v", err)
	}
	due, err = repo.ListDueRecurring(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDueRecurring() after advance error = %v", err)
	}
	if len(due) != 0 {
		t.Errorf("due after advance = %d, want 0", len(due))
	}
}

func TestSyncStatusBookkeeping(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")

	if err := repo.CreateAccount(ctx, testAccount("a1", "u1", 0, true), false); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	if err := repo.CreateTransaction(ctx, testTransaction("t1", "u1", "a1", core.Income, 100)); err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	pending, err := repo.GetPendingSyncTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingSyncTransactions() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	if err := repo.MarkTransactionSynced(ctx, "t1"); err != nil {
		t.Fatalf("MarkTransactionSynced() error = %v", err)
	}
	pending, err = repo.GetPendingSyncTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingSyncTransactions() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after sync = %d, want 0", len(pending))
	}
}
