package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/instaastro/liveconsult/internal/domain"
	"github.com/instaastro/liveconsult/internal/shared"
)

// SQLiteLedger implements Ledger on a SQLite database. It shares the
// connection pool with the session store; WAL mode keeps concurrent debits
// from independent sessions cheap.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger creates the wallet schema if needed and returns a ledger.
func NewSQLiteLedger(db *sql.DB) (*SQLiteLedger, error) {
	query := `
	CREATE TABLE IF NOT EXISTS wallets (
		user_id TEXT PRIMARY KEY,
		balance_paise INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS wallet_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount_paise INTEGER NOT NULL,
		transaction_type TEXT NOT NULL,
		reference_id TEXT,
		description TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_wallet_txn_user ON wallet_transactions(user_id, created_at);
	`
	if _, err := db.Exec(query); err != nil {
		return nil, fmt.Errorf("create wallet schema: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

// Balance returns the current balance in paise.
func (l *SQLiteLedger) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := l.db.QueryRowContext(ctx,
		`SELECT balance_paise FROM wallets WHERE user_id = ?`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return balance, nil
}

// Debit atomically subtracts amountPaise when the balance covers it.
// The conditional UPDATE is the atomicity boundary: the row either moves by
// the full amount or not at all, regardless of concurrent top-ups or debits.
// Retries with exponential backoff on SQLITE_BUSY, which can happen when a
// top-up for the same seeker lands in the same instant as a billing tick.
func (l *SQLiteLedger) Debit(ctx context.Context, userID string, amountPaise int64, referenceID, description string) (bool, int64, error) {
	if amountPaise < 0 {
		return false, 0, fmt.Errorf("debit amount must be non-negative, got %d", amountPaise)
	}

	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	for i := 0; ; i++ {
		ok, balance, err := l.debitOnce(ctx, userID, amountPaise, referenceID, description)
		if err != nil && shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("wallet debit hit SQLITE_BUSY, retrying",
				"user_id", userID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}
		return ok, balance, err
	}
}

func (l *SQLiteLedger) debitOnce(ctx context.Context, userID string, amountPaise int64, referenceID, description string) (bool, int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("begin debit tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.Warn("wallet debit rollback failed", "error", rbErr, "user_id", userID)
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance_paise = balance_paise - ?, updated_at = ?
		 WHERE user_id = ? AND balance_paise >= ?`,
		amountPaise, time.Now().Unix(), userID, amountPaise)
	if err != nil {
		return false, 0, fmt.Errorf("debit wallet: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("debit rows affected: %w", err)
	}

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT balance_paise FROM wallets WHERE user_id = ?`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		// No wallet row means a zero balance, which cannot cover any debit.
		return false, 0, tx.Commit()
	}
	if err != nil {
		return false, 0, fmt.Errorf("query balance after debit: %w", err)
	}

	if rows == 0 {
		// Insufficient funds. Not an error, a terminal business condition.
		return false, balance, tx.Commit()
	}

	if err := l.insertTransaction(ctx, tx, &domain.WalletTransaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		AmountPaise: -amountPaise,
		Type:        domain.TransactionChatDeduction,
		ReferenceID: referenceID,
		Description: description,
		CreatedAt:   time.Now(),
	}); err != nil {
		return false, 0, err
	}

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("commit debit: %w", err)
	}
	return true, balance, nil
}

// Credit adds amountPaise to the wallet, creating the row if needed.
func (l *SQLiteLedger) Credit(ctx context.Context, userID string, amountPaise int64, txType domain.TransactionType, referenceID, description string) (int64, error) {
	if amountPaise <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amountPaise)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin credit tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.Warn("wallet credit rollback failed", "error", rbErr, "user_id", userID)
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO wallets (user_id, balance_paise, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			balance_paise = balance_paise + excluded.balance_paise,
			updated_at = excluded.updated_at`,
		userID, amountPaise, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("credit wallet: %w", err)
	}

	if err := l.insertTransaction(ctx, tx, &domain.WalletTransaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		AmountPaise: amountPaise,
		Type:        txType,
		ReferenceID: referenceID,
		Description: description,
		CreatedAt:   time.Now(),
	}); err != nil {
		return 0, err
	}

	var balance int64
	if err := tx.QueryRowContext(ctx,
		`SELECT balance_paise FROM wallets WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("query balance after credit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit credit: %w", err)
	}
	return balance, nil
}

func (l *SQLiteLedger) insertTransaction(ctx context.Context, tx *sql.Tx, t *domain.WalletTransaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO wallet_transactions (id, user_id, amount_paise, transaction_type, reference_id, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.AmountPaise, string(t.Type), t.ReferenceID, t.Description, t.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert wallet transaction: %w", err)
	}
	return nil
}

// Transactions returns the user's wallet movements, newest first.
func (l *SQLiteLedger) Transactions(ctx context.Context, userID string) ([]*domain.WalletTransaction, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, user_id, amount_paise, transaction_type, reference_id, description, created_at
		 FROM wallet_transactions WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query wallet transactions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close wallet transaction rows", "error", closeErr)
		}
	}()

	var txns []*domain.WalletTransaction
	for rows.Next() {
		var t domain.WalletTransaction
		var txType string
		var refID, desc sql.NullString
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.UserID, &t.AmountPaise, &txType, &refID, &desc, &createdAt); err != nil {
			return nil, fmt.Errorf("scan wallet transaction: %w", err)
		}
		t.Type = domain.TransactionType(txType)
		t.ReferenceID = refID.String
		t.Description = desc.String
		t.CreatedAt = time.Unix(createdAt, 0)
		txns = append(txns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet transactions: %w", err)
	}
	return txns, nil
}
