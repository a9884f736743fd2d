package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActivityType tags a feed entry.
type ActivityType string

const (
	ActivityTaskCreated   ActivityType = "task_created"
	ActivityTaskDeleted   ActivityType = "task_deleted"
	ActivityTaskCompleted ActivityType = "task_completed"
	ActivityIssueClosed   ActivityType = "issue_closed"
)

// Activity is a best-effort notification row. Writing one must never fail a
// lifecycle pipeline; failures are logged and dropped.
type Activity struct {
	ID      string       `gorm:"primaryKey;type:uuid" json:"id"`
	UserID  string       `gorm:"type:uuid;not null;index" json:"user_id"`
	TaskID  *string      `gorm:"type:uuid;index" json:"task_id,omitempty"`
	Type    ActivityType `gorm:"type:varchar(32);not null" json:"type"`
	Message string       `gorm:"type:text" json:"message"`
	Viewed  bool         `gorm:"default:false;index" json:"viewed"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (a *Activity) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
