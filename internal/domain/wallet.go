package domain

import "time"

// TransactionType classifies a wallet movement.
type TransactionType string

const (
	TransactionDeposit       TransactionType = "DEPOSIT"
	TransactionWithdrawal    TransactionType = "WITHDRAWAL"
	TransactionChatDeduction TransactionType = "CHAT_DEDUCTION"
	TransactionChatRefund    TransactionType = "CHAT_REFUND"
)

// WalletTransaction is one recorded wallet movement. AmountPaise is positive
// for credits and negative for debits.
type WalletTransaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	AmountPaise int64           `json:"amount_paise"`
	Type        TransactionType `json:"type"`
	ReferenceID string          `json:"reference_id,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Rupees converts an integer paise amount to a display value in rupees.
func Rupees(paise int64) float64 {
	return float64(paise) / 100
}
