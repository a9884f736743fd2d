package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"task-marketplace-api/models"
	"task-marketplace-api/services"
)

// Store is the GORM-backed repository behind the services.TaskStore and
// services.UserStore interfaces.
type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) FindInstallation(ctx context.Context, id string) (*models.Installation, error) {
	var inst models.Installation
	if err := s.DB.WithContext(ctx).First(&inst, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find installation %s: %w", id, err)
	}
	return &inst, nil
}

func (s *Store) FindTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := s.DB.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find task %s: %w", id, err)
	}
	return &task, nil
}

func (s *Store) ListTasks(ctx context.Context, f services.TaskFilter) ([]models.Task, error) {
	q := s.DB.WithContext(ctx).Model(&models.Task{})

	if f.ExcludePending {
		q = q.Where("status <> ?", models.TaskStatusPendingPayment)
	}
	if len(f.Status) > 0 {
		q = q.Where("status IN ?", f.Status)
	}
	if f.InstallationID != "" {
		q = q.Where("installation_id = ?", f.InstallationID)
	}
	if f.CreatorID != "" {
		q = q.Where("creator_id = ?", f.CreatorID)
	}
	if f.ContributorID != "" {
		q = q.Where("contributor_id = ?", f.ContributorID)
	}

	q = q.Order("created_at DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var tasks []models.Task
	if err := q.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (s *Store) CreateTask(ctx context.Context, t *models.Task) error {
	if err := s.DB.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// UpdateTask applies a column patch and returns the refreshed row.
func (s *Store) UpdateTask(ctx context.Context, id string, patch map[string]any) (*models.Task, error) {
	res := s.DB.WithContext(ctx).Model(&models.Task{}).Where("id = ?", id).Updates(patch)
	if res.Error != nil {
		return nil, fmt.Errorf("update task %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("update task %s: no rows affected", id)
	}
	return s.FindTask(ctx, id)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if err := s.DB.WithContext(ctx).Delete(&models.Task{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func (s *Store) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	if err := s.DB.WithContext(ctx).Create(txn).Error; err != nil {
		return fmt.Errorf("create transaction %s: %w", txn.TxHash, err)
	}
	return nil
}

// Atomic binds a child store to one database transaction. The funding
// bookkeeping (transaction insert + task patch) goes through here so the two
// writes commit together or neither does.
func (s *Store) Atomic(ctx context.Context, fn func(services.TaskStore) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{DB: tx})
	})
}

// --- UserStore ---

func (s *Store) FindUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find user %s: %w", id, err)
	}
	return &user, nil
}

func (s *Store) SaveUser(ctx context.Context, u *models.User) error {
	if err := s.DB.WithContext(ctx).Save(u).Error; err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}
	return nil
}

// AppendAddressBookEntry appends newest-first under a row lock, evicting the
// oldest entry once the book holds models.AddressBookLimit addresses.
func (s *Store) AppendAddressBookEntry(ctx context.Context, userID string, entry models.AddressBookEntry) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", userID).Error; err != nil {
			return err
		}

		book := models.AppendBounded(user.AddressBook, entry)
		user.AddressBook = book

		return tx.Model(&user).Update("address_book", book).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("append address book entry for %s: %w", userID, err)
	}
	return &user, nil
}
