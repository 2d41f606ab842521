package domain

import "time"

// TransactionType classifies a ledger entry. The sign of the amount is implied
// by the type.
type TransactionType string

const (
	TransactionCredit       TransactionType = "credit"
	TransactionDebit        TransactionType = "debit"
	TransactionSpend        TransactionType = "spend"
	TransactionReward       TransactionType = "reward"
	TransactionRedeem       TransactionType = "redeem"
	TransactionLevelUpBonus TransactionType = "level-up-bonus"
)

// IsCredit reports whether the type adds to a balance.
func (t TransactionType) IsCredit() bool {
	switch t {
	case TransactionCredit, TransactionReward, TransactionLevelUpBonus:
		return true
	}
	return false
}

// IsDebit reports whether the type removes from a balance.
func (t TransactionType) IsDebit() bool {
	switch t {
	case TransactionDebit, TransactionSpend, TransactionRedeem:
		return true
	}
	return false
}

// TransactionStatus tracks redemption flows
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
)

// Wallet is a user's coin balance. Balance always equals the signed sum of the
// user's transactions.
type Wallet struct {
	UserID      string    `json:"user_id"`
	Balance     int64     `json:"balance"`
	LastUpdated time.Time `json:"last_updated"`
	Version     int64     `json:"-"`
}

// Transaction is an immutable ledger entry
type Transaction struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Type        TransactionType   `json:"type"`
	Amount      int64             `json:"amount"`
	Description string            `json:"description"`
	Status      TransactionStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
}

// SignedAmount returns the amount with the sign implied by the type.
func (t Transaction) SignedAmount() int64 {
	if t.Type.IsDebit() {
		return -t.Amount
	}
	return t.Amount
}

// SumTransactions folds a transaction log into a balance.
func SumTransactions(txs []Transaction) int64 {
	var total int64
	for _, tx := range txs {
		total += tx.SignedAmount()
	}
	return total
}

// WalletView is the wallet push payload
type WalletView struct {
	UserID             string        `json:"user_id"`
	Balance            int64         `json:"balance"`
	RecentTransactions []Transaction `json:"recent_transactions"`
}
