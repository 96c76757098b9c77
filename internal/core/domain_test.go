package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validTransaction() Transaction {
	return Transaction{
		ID:          "t1",
		UserID:      "u1",
		AccountID:   "a1",
		Type:        Expense,
		Amount:      Money{Cents: 1500},
		Description: "groceries",
		Date:        time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Category:    "food",
	}
}

func TestTransactionValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		if err := validTransaction().Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("zero amount", func(t *testing.T) {
		tx := validTransaction()
		tx.Amount = Money{}
		if err := tx.Validate(); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount, got %v", err)
		}
	})

	t.Run("empty description", func(t *testing.T) {
		tx := validTransaction()
		tx.Description = "  "
		if err := tx.Validate(); !errors.Is(err, ErrEmptyDescription) {
			t.Fatalf("expected ErrEmptyDescription, got %v", err)
		}
	})

	t.Run("description too long", func(t *testing.T) {
		tx := validTransaction()
		tx.Description = strings.Repeat("x", 101)
		if err := tx.Validate(); err == nil {
			t.Fatal("expected error for 101-char description")
		}
	})

	t.Run("missing account", func(t *testing.T) {
		tx := validTransaction()
		tx.AccountID = ""
		if err := tx.Validate(); !errors.Is(err, ErrEmptyAccountRef) {
			t.Fatalf("expected ErrEmptyAccountRef, got %v", err)
		}
	})

	t.Run("recurring requires interval", func(t *testing.T) {
		tx := validTransaction()
		tx.IsRecurring = true
		if err := tx.Validate(); !errors.Is(err, ErrMissingInterval) {
			t.Fatalf("expected ErrMissingInterval, got %v", err)
		}
		tx.RecurringInterval = "FORTNIGHTLY"
		if err := tx.Validate(); !errors.Is(err, ErrInvalidInterval) {
			t.Fatalf("expected ErrInvalidInterval, got %v", err)
		}
		tx.RecurringInterval = Monthly
		if err := tx.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestAccountValidate(t *testing.T) {
	acc := Account{Name: "Main checking", Type: AccountCurrent, Balance: Money{Cents: 10000}}
	if err := acc.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acc.Name = "ab"
	if err := acc.Validate(); !errors.Is(err, ErrInvalidAccountName) {
		t.Fatalf("expected ErrInvalidAccountName, got %v", err)
	}

	acc.Name = "Main checking"
	acc.Type = "CHECKING"
	if err := acc.Validate(); err == nil {
		t.Fatal("expected error for unknown account type")
	}

	acc.Type = AccountSavings
	acc.Balance = Money{Cents: -1}
	if err := acc.Validate(); !errors.Is(err, ErrInvalidBalance) {
		t.Fatalf("expected ErrInvalidBalance, got %v", err)
	}
}

func TestSignedEffect(t *testing.T) {
	income := validTransaction()
	income.Type = Income
	income.Amount = Money{Cents: 2000}
	if got := income.SignedEffect(); got != 2000 {
		t.Fatalf("income effect: expected 2000, got %d", got)
	}
	if got := income.RemovalEffect(); got != -2000 {
		t.Fatalf("income removal: expected -2000, got %d", got)
	}

	expense := validTransaction()
	expense.Amount = Money{Cents: 3000}
	if got := expense.SignedEffect(); got != -3000 {
		t.Fatalf("expense effect: expected -3000, got %d", got)
	}
	if got := expense.RemovalEffect(); got != 3000 {
		t.Fatalf("expense removal: expected 3000, got %d", got)
	}
}
