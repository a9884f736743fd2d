package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionCategory classifies a ledger movement.
type TransactionCategory string

const (
	TransactionCategoryBounty TransactionCategory = "bounty"
	TransactionCategoryRefund TransactionCategory = "refund"
	TransactionCategoryPayout TransactionCategory = "payout"
)

// Transaction is an immutable record mirroring one on-chain transfer.
// Exactly one row is written per successful escrow funding, in the same
// database transaction as the task's status flip and escrow-log append.
type Transaction struct {
	ID       string              `gorm:"primaryKey;type:uuid" json:"id"`
	TxHash   string              `gorm:"uniqueIndex;not null" json:"tx_hash"`
	Category TransactionCategory `gorm:"type:varchar(16);not null" json:"category"`
	Amount   decimal.Decimal     `gorm:"type:numeric(20,7);not null" json:"amount"`

	TaskID         string `gorm:"type:uuid;not null;index" json:"task_id"`
	InstallationID string `gorm:"not null;index" json:"installation_id"`

	// DoneAt carries the ledger's own timestamp for the transfer, not the
	// wall-clock time this row was written.
	DoneAt    time.Time `gorm:"not null" json:"done_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
