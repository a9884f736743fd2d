package services

import (
	"context"

	"task-marketplace-api/models"
)

// TaskFilter narrows task reads. ExcludePending keeps rows stuck between
// creation and confirmed escrow funding out of end-user listings.
type TaskFilter struct {
	Status         []models.TaskStatus
	ExcludePending bool
	InstallationID string
	CreatorID      string
	ContributorID  string
	Limit          int
}

// TaskStore is the repository capability the orchestrator runs against.
// Implementations return (nil, nil) for absent rows on the Find methods; the
// orchestrator owns the translation to NotFoundError.
type TaskStore interface {
	FindInstallation(ctx context.Context, id string) (*models.Installation, error)
	FindTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, error)
	CreateTask(ctx context.Context, t *models.Task) error
	UpdateTask(ctx context.Context, id string, patch map[string]any) (*models.Task, error)
	DeleteTask(ctx context.Context, id string) error
	CreateTransaction(ctx context.Context, txn *models.Transaction) error

	// Atomic runs fn against a store bound to a single database
	// transaction: every write inside commits together or not at all.
	Atomic(ctx context.Context, fn func(TaskStore) error) error
}

// UserStore is the repository capability for user profile operations.
type UserStore interface {
	FindUser(ctx context.Context, id string) (*models.User, error)
	SaveUser(ctx context.Context, u *models.User) error
	AppendAddressBookEntry(ctx context.Context, userID string, entry models.AddressBookEntry) (*models.User, error)
}
