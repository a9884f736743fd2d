package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TaskStatus is the lifecycle state of a bountied task.
type TaskStatus string

const (
	// TaskStatusPendingPayment is the transient state between row creation
	// and confirmed escrow funding. Rows in this state must never be served
	// to end users.
	TaskStatusPendingPayment    TaskStatus = "pending_payment"
	TaskStatusOpen              TaskStatus = "open"
	TaskStatusInProgress        TaskStatus = "in_progress"
	TaskStatusMarkedAsCompleted TaskStatus = "marked_as_completed"
	TaskStatusCompleted         TaskStatus = "completed"
	TaskStatusArchived          TaskStatus = "archived"
)

// TimelineType qualifies the Timeline magnitude.
type TimelineType string

const (
	TimelineTypeDay  TimelineType = "day"
	TimelineTypeWeek TimelineType = "week"
)

// EscrowMethod tags an entry in a task's escrow transaction log.
const (
	EscrowMethodCreation = "creation"
	EscrowMethodRefund   = "refund"
	EscrowMethodPayout   = "payout"
)

// EscrowEntry records one ledger movement tied to a task.
type EscrowEntry struct {
	TxHash string `json:"tx_hash"`
	Method string `json:"method"`
}

// Task is the unit of work being bountied against a GitHub issue.
type Task struct {
	ID string `gorm:"primaryKey;type:uuid" json:"id"`

	// Issue reference on the tracker side.
	IssueID        int64    `gorm:"not null;index" json:"issue_id"`
	IssueNumber    int      `gorm:"not null" json:"issue_number"`
	IssueURL       string   `gorm:"not null" json:"issue_url"`
	IssueTitle     string   `gorm:"not null" json:"issue_title"`
	IssueLabels    []string `gorm:"serializer:json" json:"issue_labels"`
	RepoFullName   string   `gorm:"not null" json:"repo_full_name"`
	BountyLabelID  string   `json:"bounty_label_id"`
	BountyComment  *int64   `gorm:"column:bounty_comment_id" json:"bounty_comment_id,omitempty"`

	InstallationID string  `gorm:"not null;index" json:"installation_id"`
	CreatorID      string  `gorm:"type:uuid;not null;index" json:"creator_id"`
	ContributorID  *string `gorm:"type:uuid;index" json:"contributor_id,omitempty"`

	Bounty  decimal.Decimal `gorm:"type:numeric(20,7);not null" json:"bounty"`
	Settled bool            `gorm:"not null;default:false" json:"settled"`

	// Append-only log of every ledger movement for this task.
	EscrowTransactions []EscrowEntry `gorm:"serializer:json" json:"escrow_transactions"`

	Timeline     decimal.Decimal `gorm:"type:numeric(6,2)" json:"timeline"`
	TimelineType TimelineType    `gorm:"type:varchar(8)" json:"timeline_type"`

	Status TaskStatus `gorm:"type:varchar(32);not null;index" json:"status"`

	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (t *Task) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
