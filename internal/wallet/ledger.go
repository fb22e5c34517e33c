// Package wallet provides the seeker wallet ledger consumed by the billing
// clock. The ledger is the authoritative balance; session state only caches
// the last observed value.
package wallet

import (
	"context"

	"github.com/instaastro/liveconsult/internal/domain"
)

// Ledger exposes atomic balance operations. Debit must be atomic with
// respect to concurrent debits and credits for the same user: it either
// applies the full amount and reports ok, or applies nothing and reports
// insufficient funds.
type Ledger interface {
	// Balance returns the current balance in paise. A user without a wallet
	// row has a zero balance.
	Balance(ctx context.Context, userID string) (int64, error)

	// Debit atomically subtracts amountPaise if the balance covers it.
	// Returns ok=false (and the untouched balance) on insufficient funds.
	Debit(ctx context.Context, userID string, amountPaise int64, referenceID, description string) (ok bool, balance int64, err error)

	// Credit atomically adds amountPaise to the user's wallet, creating
	// the wallet row if needed, and returns the new balance.
	Credit(ctx context.Context, userID string, amountPaise int64, txType domain.TransactionType, referenceID, description string) (int64, error)

	// Transactions returns the user's wallet movements, newest first.
	Transactions(ctx context.Context, userID string) ([]*domain.WalletTransaction, error)
}
