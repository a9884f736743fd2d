package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AddressBookLimit bounds a user's saved payout addresses. The newest entry
// is appended and the oldest evicted once the limit is reached.
const AddressBookLimit = 20

// AddressBookEntry is one saved payout destination.
type AddressBookEntry struct {
	Address string    `json:"address"`
	Name    string    `json:"name"`
	AddedAt time.Time `json:"added_at"`
}

// AppendBounded appends entry to the book, evicting from the front once the
// limit is exceeded.
func AppendBounded(book []AddressBookEntry, entry AddressBookEntry) []AddressBookEntry {
	book = append(book, entry)
	if len(book) > AddressBookLimit {
		book = book[len(book)-AddressBookLimit:]
	}
	return book
}

// User is a marketplace participant.
type User struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	GitHubUserID   int64  `gorm:"uniqueIndex;not null" json:"github_user_id"`
	Username       string `gorm:"index;not null" json:"username"`
	Email          string `json:"email,omitempty"`

	WalletAddress *string `gorm:"type:varchar(128)" json:"wallet_address,omitempty"`

	AddressBook []AddressBookEntry `gorm:"serializer:json" json:"address_book"`

	// Contribution summary, maintained by the completion flows.
	TasksCompleted int             `gorm:"not null;default:0" json:"tasks_completed"`
	ActiveTasks    int             `gorm:"not null;default:0" json:"active_tasks"`
	TotalEarnings  decimal.Decimal `gorm:"type:numeric(20,7);not null;default:0" json:"total_earnings"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
