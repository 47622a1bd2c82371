// Package ledger creates balanced double-entry transactions from
// extracted message data. It is deliberately narrow: the rest of the
// system consumes it through an interface so a real accounting backend
// can replace it.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jinsol/smsledger/internal/db"
	"github.com/shopspring/decimal"
)

// Entry describes one transaction to create: the amount moves from the
// credit account to the debit account.
type Entry struct {
	Amount        decimal.Decimal
	Currency      string
	Memo          string
	Timestamp     time.Time
	DebitAccount  string
	CreditAccount string
}

// Book writes transactions to the local store.
type Book struct {
	db *db.DB
}

func NewBook(database *db.DB) *Book {
	return &Book{db: database}
}

// CreateTransaction records a balanced transaction and returns its uid.
func (b *Book) CreateTransaction(e Entry) (string, error) {
	if e.DebitAccount == "" || e.CreditAccount == "" {
		return "", fmt.Errorf("both accounts are required")
	}
	if !e.Amount.IsPositive() {
		return "", fmt.Errorf("amount must be positive, got %s", e.Amount)
	}
	if e.Currency == "" {
		return "", fmt.Errorf("currency is required")
	}

	uid := uuid.NewString()
	err := b.db.AddTransaction(db.TransactionRecord{
		UID:           uid,
		Timestamp:     e.Timestamp,
		Memo:          e.Memo,
		Currency:      e.Currency,
		Amount:        e.Amount.String(),
		DebitAccount:  e.DebitAccount,
		CreditAccount: e.CreditAccount,
	})
	if err != nil {
		return "", fmt.Errorf("recording transaction: %w", err)
	}
	return uid, nil
}
