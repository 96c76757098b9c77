package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"financemate/internal/core"
	"financemate/internal/ledger"
)

type fakeRecurringStore struct {
	due      []core.Transaction
	advanced map[string]time.Time
	listErr  error
}

func (f *fakeRecurringStore) ListDueRecurring(_ context.Context, _ time.Time, _ int) ([]core.Transaction, error) {
	return f.due, f.listErr
}

func (f *fakeRecurringStore) UpdateNextRecurringDate(_ context.Context, id string, next time.Time) error {
	if f.advanced == nil {
		f.advanced = make(map[string]time.Time)
	}
	f.advanced[id] = next
	return nil
}

type fakeCreator struct {
	created []ledger.CreateTransactionInput
	failFor string
}

func (f *fakeCreator) CreateTransaction(_ context.Context, ownerID string, in ledger.CreateTransactionInput) (core.Transaction, error) {
	if in.Description == f.failFor {
		return core.Transaction{}, errors.New("create failed")
	}
	f.created = append(f.created, in)
	return core.Transaction{ID: "new", UserID: ownerID}, nil
}

func recurringTemplate(id, desc string, due time.Time) core.Transaction {
	return core.Transaction{
		ID:                id,
		UserID:            "user-1",
		AccountID:         "acc-1",
		Type:              core.Expense,
		Amount:            core.Money{Cents: 999},
		Description:       desc,
		Date:              due.AddDate(0, -1, 0),
		Category:          "housing",
		IsRecurring:       true,
		RecurringInterval: core.Monthly,
		NextRecurringDate: due,
	}
}

func TestProcessDueMaterializesAndAdvances(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	store := &fakeRecurringStore{due: []core.Transaction{recurringTemplate("t-1", "Rent", due)}}
	creator := &fakeCreator{}
	p := NewRecurringProcessor(store, creator, 10)

	created, err := p.ProcessDue(context.Background(), now)
	if err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}

	if len(creator.created) != 1 {
		t.Fatalf("creator called %d times, want 1", len(creator.created))
	}
	got := creator.created[0]
	if got.Amount != "9.99" {
		t.Errorf("Amount = %q, want %q", got.Amount, "9.99")
	}
	if !got.Date.Equal(due) {
		t.Errorf("Date = %v, want %v", got.Date, due)
	}
	if got.IsRecurring {
		t.Error("materialized occurrence must not itself be recurring")
	}

	wantNext := due.AddDate(0, 1, 0)
	if next, ok := store.advanced["t-1"]; !ok || !next.Equal(wantNext) {
		t.Errorf("advanced next = %v, want %v", next, wantNext)
	}
}

func TestProcessDueSkipsFailingTemplate(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	store := &fakeRecurringStore{due: []core.Transaction{
		recurringTemplate("t-1", "Broken", now),
		recurringTemplate("t-2", "Rent", now),
	}}
	creator := &fakeCreator{failFor: "Broken"}
	p := NewRecurringProcessor(store, creator, 10)

	created, err := p.ProcessDue(context.Background(), now)
	if err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}
	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
	if _, ok := store.advanced["t-1"]; ok {
		t.Error("failing template must keep its next date")
	}
	if _, ok := store.advanced["t-2"]; !ok {
		t.Error("healthy template was not advanced")
	}
}

func TestProcessDueListError(t *testing.T) {
	store := &fakeRecurringStore{listErr: errors.New("db down")}
	p := NewRecurringProcessor(store, &fakeCreator{}, 10)

	if _, err := p.ProcessDue(context.Background(), time.Now()); err == nil {
		t.Fatal("ProcessDue() expected error")
	}
}
