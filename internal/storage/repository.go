package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"financemate/internal/core"

	_ "modernc.org/sqlite"
)

// Sync status values for the background sheet backup worker.
const (
	SyncPending = "pending"
	SyncDone    = "synced"
	SyncError   = "error"
)

// ErrNoRows is returned for point lookups that match nothing. Callers map it
// onto the domain taxonomy (not found vs forbidden).
var ErrNoRows = errors.New("no matching rows")

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// SQLite serializes writers; a single write connection avoids
	// SQLITE_BUSY under concurrent mutations.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// ---- users ----

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, external_id, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.ExternalID, u.Email, u.PasswordHash, fmtTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetUserByExternalID(ctx context.Context, externalID string) (core.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, external_id, email, password_hash, created_at FROM users WHERE external_id = ?`, externalID))
}

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, external_id, email, password_hash, created_at FROM users WHERE email = ?`, email))
}

func (r *SQLiteRepository) scanUser(row *sql.Row) (core.User, error) {
	var u core.User
	var createdAt string
	err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, ErrNoRows
	}
	if err != nil {
		return core.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = parseTime(createdAt)
	return u, nil
}

// ---- accounts ----

const accountColumns = `id, user_id, name, type, balance_cents, is_default, created_at, updated_at`

// CreateAccount inserts the account. When clearDefaults is set, every other
// default account of the owner is unset in the same atomic unit so the
// single-default invariant holds at commit.
func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account, clearDefaults bool) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if clearDefaults {
			if _, err := tx.ExecContext(ctx,
				`UPDATE accounts SET is_default = 0, updated_at = ? WHERE user_id = ? AND is_default = 1`,
				fmtTime(time.Now().UTC()), a.UserID); err != nil {
				return fmt.Errorf("clear default flags: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO accounts (id, user_id, name, type, balance_cents, is_default, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.UserID, a.Name, string(a.Type), a.Balance.Cents, boolInt(a.IsDefault),
			fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		return nil
	})
}

// GetAccount returns the account scoped to its owner.
func (r *SQLiteRepository) GetAccount(ctx context.Context, ownerID, accountID string) (core.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ? AND user_id = ?`, accountID, ownerID))
}

// GetAccountAny looks up the account regardless of owner so the service can
// distinguish not-found from forbidden.
func (r *SQLiteRepository) GetAccountAny(ctx context.Context, accountID string) (core.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, accountID))
}

func (r *SQLiteRepository) ListAccounts(ctx context.Context, ownerID string) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []core.Account
	for rows.Next() {
		a, err := scanAccountRows(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *SQLiteRepository) CountAccounts(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accounts WHERE user_id = ?`, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

// SetDefaultAccount unsets every default flag for the owner and sets it on
// accountID, as one atomic unit. Returns ErrNoRows if the account does not
// belong to the owner.
func (r *SQLiteRepository) SetDefaultAccount(ctx context.Context, ownerID, accountID string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		now := fmtTime(time.Now().UTC())
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET is_default = 0, updated_at = ? WHERE user_id = ? AND is_default = 1`,
			now, ownerID); err != nil {
			return fmt.Errorf("clear default flags: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE accounts SET is_default = 1, updated_at = ? WHERE id = ? AND user_id = ?`,
			now, accountID, ownerID)
		if err != nil {
			return fmt.Errorf("set default flag: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return ErrNoRows
		}
		return nil
	})
}

// UpdateAccount applies the patched fields. When clearDefaults is set, the
// other accounts' default flags are cleared inside the same atomic unit.
func (r *SQLiteRepository) UpdateAccount(ctx context.Context, a core.Account, clearDefaults bool) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		now := fmtTime(time.Now().UTC())
		if clearDefaults {
			if _, err := tx.ExecContext(ctx,
				`UPDATE accounts SET is_default = 0, updated_at = ? WHERE user_id = ? AND is_default = 1 AND id != ?`,
				now, a.UserID, a.ID); err != nil {
				return fmt.Errorf("clear default flags: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE accounts SET name = ?, type = ?, balance_cents = ?, is_default = ?, updated_at = ?
			 WHERE id = ? AND user_id = ?`,
			a.Name, string(a.Type), a.Balance.Cents, boolInt(a.IsDefault), now, a.ID, a.UserID)
		if err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return ErrNoRows
		}
		return nil
	})
}

// DeleteAccountCascade removes the owner's transactions under the account and
// then the account itself, in one atomic unit.
func (r *SQLiteRepository) DeleteAccountCascade(ctx context.Context, ownerID, accountID string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM transactions WHERE account_id = ? AND user_id = ?`, accountID, ownerID); err != nil {
			return fmt.Errorf("delete account transactions: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM accounts WHERE id = ? AND user_id = ?`, accountID, ownerID)
		if err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return ErrNoRows
		}
		return nil
	})
}

// ---- transactions ----

const transactionColumns = `id, user_id, account_id, type, amount_cents, description, date, category,
	is_recurring, recurring_interval, next_recurring_date, created_at`

// CreateTransaction inserts the transaction and applies its signed effect to
// the owning account's balance in the same atomic unit.
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, t core.Transaction) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (id, user_id, account_id, type, amount_cents, description, date, category,
			 is_recurring, recurring_interval, next_recurring_date, sync_status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.UserID, t.AccountID, string(t.Type), t.Amount.Cents, t.Description,
			fmtTime(t.Date), t.Category, boolInt(t.IsRecurring), nullString(string(t.RecurringInterval)),
			nullTime(t.NextRecurringDate), SyncPending, fmtTime(t.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE accounts SET balance_cents = balance_cents + ?, updated_at = ? WHERE id = ? AND user_id = ?`,
			t.SignedEffect(), fmtTime(time.Now().UTC()), t.AccountID, t.UserID)
		if err != nil {
			return fmt.Errorf("adjust balance: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return ErrNoRows
		}
		return nil
	})
}

// GetTransactionsByIDs fetches the owner's transactions among ids. Identifiers
// that match nothing (or belong to someone else) are simply absent from the
// result; this fetch is the authoritative working set for bulk deletion.
func (r *SQLiteRepository) GetTransactionsByIDs(ctx context.Context, ownerID string, ids []string) ([]core.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = ? AND id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, 0, len(ids)+1)
	args = append(args, ownerID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get transactions by ids: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return core.Transaction{}, err
		}
		return core.Transaction{}, ErrNoRows
	}
	return scanTransaction(rows)
}

// ListTransactionsByAccount returns the owner's transactions for an account,
// newest first.
func (r *SQLiteRepository) ListTransactionsByAccount(ctx context.Context, ownerID, accountID string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE account_id = ? AND user_id = ? ORDER BY date DESC, created_at DESC`,
		accountID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTransactionsAdjustBalances deletes the owner's transactions among ids
// and applies the accumulated per-account deltas, all in one atomic unit.
// Either every delete and every increment commits, or none do.
func (r *SQLiteRepository) DeleteTransactionsAdjustBalances(ctx context.Context, ownerID string, ids []string, deltas map[string]int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		query := `DELETE FROM transactions WHERE user_id = ? AND id IN (` + placeholders(len(ids)) + `)`
		args := make([]any, 0, len(ids)+1)
		args = append(args, ownerID)
		for _, id := range ids {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete transactions: %w", err)
		}

		now := fmtTime(time.Now().UTC())
		for accountID, delta := range deltas {
			if _, err := tx.ExecContext(ctx,
				`UPDATE accounts SET balance_cents = balance_cents + ?, updated_at = ? WHERE id = ? AND user_id = ?`,
				delta, now, accountID, ownerID); err != nil {
				return fmt.Errorf("adjust balance for account %s: %w", accountID, err)
			}
		}
		return nil
	})
}

// ListDueRecurring returns recurring transactions whose next occurrence is at
// or before now.
func (r *SQLiteRepository) ListDueRecurring(ctx context.Context, now time.Time, limit int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE is_recurring = 1 AND next_recurring_date IS NOT NULL AND next_recurring_date <= ?
		 ORDER BY next_recurring_date LIMIT ?`,
		fmtTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list due recurring: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpdateNextRecurringDate(ctx context.Context, id string, next time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET next_recurring_date = ? WHERE id = ?`, fmtTime(next), id)
	if err != nil {
		return fmt.Errorf("update next recurring date: %w", err)
	}
	return nil
}

// ---- sync bookkeeping (sheet backup worker) ----

func (r *SQLiteRepository) GetPendingSyncTransactions(ctx context.Context, limit int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE sync_status = ? ORDER BY created_at LIMIT ?`,
		SyncPending, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending sync transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) MarkTransactionSynced(ctx context.Context, id string) error {
	if err := r.setSyncStatus(ctx, id, SyncDone); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Transaction marked as synced", "id", id)
	return nil
}

func (r *SQLiteRepository) MarkTransactionSyncError(ctx context.Context, id string) error {
	if err := r.setSyncStatus(ctx, id, SyncError); err != nil {
		return err
	}
	slog.WarnContext(ctx, "Transaction marked with sync error", "id", id)
	return nil
}

func (r *SQLiteRepository) setSyncStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET sync_status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("set sync status: %w", err)
	}
	return nil
}

// ---- helpers ----

// withTx runs fn inside a transaction, rolling back on error or panic.
func (r *SQLiteRepository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row *sql.Row) (core.Account, error) {
	a, err := scanAccountFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, ErrNoRows
	}
	return a, err
}

func scanAccountRows(rows *sql.Rows) (core.Account, error) {
	return scanAccountFrom(rows)
}

func scanAccountFrom(s rowScanner) (core.Account, error) {
	var a core.Account
	var typ string
	var isDefault int
	var createdAt, updatedAt string
	err := s.Scan(&a.ID, &a.UserID, &a.Name, &typ, &a.Balance.Cents, &isDefault, &createdAt, &updatedAt)
	if err != nil {
		return core.Account{}, err
	}
	a.Type = core.AccountType(typ)
	a.IsDefault = isDefault != 0
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

func scanTransaction(s rowScanner) (core.Transaction, error) {
	var t core.Transaction
	var typ, date, createdAt string
	var isRecurring int
	var interval, nextDate sql.NullString
	err := s.Scan(&t.ID, &t.UserID, &t.AccountID, &typ, &t.Amount.Cents, &t.Description,
		&date, &t.Category, &isRecurring, &interval, &nextDate, &createdAt)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	t.Type = core.TransactionType(typ)
	t.Date = parseTime(date)
	t.IsRecurring = isRecurring != 0
	if interval.Valid {
		t.RecurringInterval = core.RecurringInterval(interval.String)
	}
	if nextDate.Valid {
		t.NextRecurringDate = parseTime(nextDate.String)
	}
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// Fall back to the strftime default used by column defaults
		t, _ = time.Parse("2006-01-02T15:04:05.000Z", s)
	}
	return t
}
