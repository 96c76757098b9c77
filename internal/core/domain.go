package core

import (
	"errors"
	"strings"
	"time"
)

const (
	AccountCurrent AccountType = "CURRENT"
	AccountSavings AccountType = "SAVINGS"
)

const (
	Income  TransactionType = "INCOME"
	Expense TransactionType = "EXPENSE"
)

const (
	Daily   RecurringInterval = "DAILY"
	Weekly  RecurringInterval = "WEEKLY"
	Monthly RecurringInterval = "MONTHLY"
	Yearly  RecurringInterval = "YEARLY"
)

type (
	AccountType       string
	TransactionType   string
	RecurringInterval string

	Money struct {
		Cents int64
	}

	// User owns accounts and transactions. ExternalID is the subject supplied
	// by the identity collaborator; ID is the internal record id everything
	// else is scoped by.
	User struct {
		ID           string
		ExternalID   string
		Email        string
		PasswordHash []byte
		CreatedAt    time.Time
	}

	Account struct {
		ID        string
		UserID    string
		Name      string
		Type      AccountType
		Balance   Money
		IsDefault bool
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	Transaction struct {
		ID                string
		UserID            string
		AccountID         string
		Type              TransactionType
		Amount            Money
		Description       string
		Date              time.Time
		Category          string
		IsRecurring       bool
		RecurringInterval RecurringInterval
		NextRecurringDate time.Time
		CreatedAt         time.Time
	}

	// AccountPatch carries the mutable account fields for an update. Balance
	// arrives as the raw decimal string so numeric validation happens in the
	// service, not the transport layer.
	AccountPatch struct {
		Name      *string
		Type      *AccountType
		Balance   *string
		IsDefault *bool
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidBalance     = errors.New("invalid balance")
	ErrEmptyDescription   = errors.New("description is required")
	ErrEmptyCategory      = errors.New("category is required")
	ErrEmptyAccountRef    = errors.New("account is required")
	ErrInvalidAccountName = errors.New("account name must be 3-50 characters")
	ErrInvalidInterval    = errors.New("invalid recurring interval")
	ErrMissingInterval    = errors.New("recurring interval is required for recurring transactions")
)

func (t AccountType) Valid() bool {
	return t == AccountCurrent || t == AccountSavings
}

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

func (i RecurringInterval) Valid() bool {
	switch i {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// SignedEffect is the balance delta this transaction contributes to its
// account: positive for income, negative for expense.
func (t Transaction) SignedEffect() int64 {
	if t.Type == Income {
		return t.Amount.Cents
	}
	return -t.Amount.Cents
}

// RemovalEffect is the delta applied to the account balance when the
// transaction is deleted: the inverse of SignedEffect.
func (t Transaction) RemovalEffect() int64 {
	return -t.SignedEffect()
}

func (a Account) Validate() error {
	name := strings.TrimSpace(a.Name)
	if len(name) < 3 || len(name) > 50 {
		return ErrInvalidAccountName
	}
	if !a.Type.Valid() {
		return errors.New("account type must be CURRENT or SAVINGS")
	}
	if a.Balance.Cents < 0 {
		return ErrInvalidBalance
	}
	return nil
}

func (t Transaction) Validate() error {
	if !t.Type.Valid() {
		return errors.New("transaction type must be INCOME or EXPENSE")
	}
	if t.Amount.Cents <= 0 {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(t.Description) == "" {
		return ErrEmptyDescription
	}
	if len(t.Description) > 100 {
		return errors.New("description too long (max 100 characters)")
	}
	if t.Date.IsZero() {
		return errors.New("date is required")
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrEmptyAccountRef
	}
	if strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	if t.IsRecurring {
		if t.RecurringInterval == "" {
			return ErrMissingInterval
		}
		if !t.RecurringInterval.Valid() {
			return ErrInvalidInterval
		}
	}
	return nil
}
