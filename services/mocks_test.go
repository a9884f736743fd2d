package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"task-marketplace-api/models"
)

var (
	errMockLedger = errors.New("mock ledger error")
	errMockStore  = errors.New("mock store error")
	errMockVault  = errors.New("mock vault error")
	errMockTrack  = errors.New("mock tracker error")
)

// MockTaskStore is an in-memory TaskStore. Atomic snapshots state before
// running fn and restores it on error, mirroring transactional rollback.
type MockTaskStore struct {
	mu            sync.Mutex
	Installations map[string]*models.Installation
	Tasks         map[string]*models.Task
	Transactions  map[string]*models.Transaction

	CreateTaskCalls        int
	DeleteTaskCalls        int
	UpdateTaskCalls        int
	CreateTransactionCalls int
	WriteCount             int

	FailCreateTask        error
	FailDeleteTask        error
	FailUpdateTask        error
	FailCreateTransaction error

	// FailUpdateTaskOnKey fails only updates whose patch carries this
	// column, leaving other patches working.
	FailUpdateTaskOnKey string

	// Events records write ordering across mocks when set.
	Events *[]string
}

func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{
		Installations: map[string]*models.Installation{},
		Tasks:         map[string]*models.Task{},
		Transactions:  map[string]*models.Transaction{},
	}
}

func (m *MockTaskStore) event(name string) {
	if m.Events != nil {
		*m.Events = append(*m.Events, name)
	}
}

func (m *MockTaskStore) FindInstallation(_ context.Context, id string) (*models.Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.Installations[id]
	if !ok {
		return nil, nil
	}
	cp := *inst
	return &cp, nil
}

func (m *MockTaskStore) FindTask(_ context.Context, id string) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.Tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *task
	return &cp, nil
}

func (m *MockTaskStore) ListTasks(_ context.Context, f TaskFilter) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Task
	for _, t := range m.Tasks {
		if f.ExcludePending && t.Status == models.TaskStatusPendingPayment {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (m *MockTaskStore) CreateTask(_ context.Context, t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateTaskCalls++
	if m.FailCreateTask != nil {
		return m.FailCreateTask
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now()
	cp := *t
	m.Tasks[t.ID] = &cp
	m.WriteCount++
	m.event("create_task")
	return nil
}

func (m *MockTaskStore) UpdateTask(_ context.Context, id string, patch map[string]any) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateTaskCalls++
	if m.FailUpdateTask != nil {
		return nil, m.FailUpdateTask
	}
	if m.FailUpdateTaskOnKey != "" {
		if _, ok := patch[m.FailUpdateTaskOnKey]; ok {
			return nil, errMockStore
		}
	}
	task, ok := m.Tasks[id]
	if !ok {
		return nil, fmt.Errorf("update task %s: no rows affected", id)
	}
	for k, v := range patch {
		switch k {
		case "status":
			task.Status = v.(models.TaskStatus)
		case "escrow_transactions":
			task.EscrowTransactions = v.([]models.EscrowEntry)
		case "bounty_comment_id":
			cid := v.(int64)
			task.BountyComment = &cid
		case "contributor_id":
			cid := v.(string)
			task.ContributorID = &cid
		}
	}
	m.WriteCount++
	m.event("update_task")
	cp := *task
	return &cp, nil
}

func (m *MockTaskStore) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteTaskCalls++
	if m.FailDeleteTask != nil {
		return m.FailDeleteTask
	}
	delete(m.Tasks, id)
	m.WriteCount++
	m.event("delete_task")
	return nil
}

func (m *MockTaskStore) CreateTransaction(_ context.Context, txn *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateTransactionCalls++
	if m.FailCreateTransaction != nil {
		return m.FailCreateTransaction
	}
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if _, dup := m.Transactions[txn.TxHash]; dup {
		return fmt.Errorf("create transaction %s: duplicate tx hash", txn.TxHash)
	}
	cp := *txn
	m.Transactions[txn.TxHash] = &cp
	m.WriteCount++
	m.event("create_transaction")
	return nil
}

func (m *MockTaskStore) Atomic(ctx context.Context, fn func(TaskStore) error) error {
	m.mu.Lock()
	tasksSnap := map[string]*models.Task{}
	for k, v := range m.Tasks {
		cp := *v
		tasksSnap[k] = &cp
	}
	txnSnap := map[string]*models.Transaction{}
	for k, v := range m.Transactions {
		cp := *v
		txnSnap[k] = &cp
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.Tasks = tasksSnap
		m.Transactions = txnSnap
		m.mu.Unlock()
		return err
	}
	return nil
}

// MockLedger implements Ledger with overridable funcs.
type MockLedger struct {
	mu           sync.Mutex
	Balances     []Balance
	BalancesFunc func(ctx context.Context, address string) ([]Balance, error)
	TransferFunc func(ctx context.Context, secret, destination, assetCode, assetIssuer string, amount decimal.Decimal) (*TransferReceipt, error)
	RefundFunc   func(ctx context.Context, secret, taskID string) (*TransferReceipt, error)

	TransferCalls int
	RefundCalls   int
	LastSecret    string

	Events *[]string
}

func (m *MockLedger) event(name string) {
	if m.Events != nil {
		*m.Events = append(*m.Events, name)
	}
}

func (m *MockLedger) GetBalances(ctx context.Context, address string) ([]Balance, error) {
	if m.BalancesFunc != nil {
		return m.BalancesFunc(ctx, address)
	}
	return m.Balances, nil
}

func (m *MockLedger) Transfer(ctx context.Context, secret, destination, assetCode, assetIssuer string, amount decimal.Decimal) (*TransferReceipt, error) {
	m.mu.Lock()
	m.TransferCalls++
	m.LastSecret = secret
	m.mu.Unlock()
	m.event("transfer")
	if m.TransferFunc != nil {
		return m.TransferFunc(ctx, secret, destination, assetCode, assetIssuer, amount)
	}
	return &TransferReceipt{TxHash: "tx-hash-1", ConfirmedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}, nil
}

func (m *MockLedger) Refund(ctx context.Context, secret, taskID string) (*TransferReceipt, error) {
	m.mu.Lock()
	m.RefundCalls++
	m.LastSecret = secret
	m.mu.Unlock()
	m.event("refund")
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, secret, taskID)
	}
	return &TransferReceipt{TxHash: "refund-hash-1"}, nil
}

// MockVault implements utils.Vault.
type MockVault struct {
	DecryptFunc func(ctx context.Context, envelope string) (string, error)
}

func (m *MockVault) Encrypt(_ context.Context, plaintext string) (string, error) {
	return "enc:" + plaintext, nil
}

func (m *MockVault) Decrypt(ctx context.Context, envelope string) (string, error) {
	if m.DecryptFunc != nil {
		return m.DecryptFunc(ctx, envelope)
	}
	return "SDECRYPTEDSECRET", nil
}

// MockTracker implements IssueTracker.
type MockTracker struct {
	AddFunc    func(ctx context.Context, installationID, repo string, issueNumber int, labelName, message string) (int64, error)
	RemoveFunc func(ctx context.Context, installationID, repo string, issueNumber int, commentID int64, labelName string) error

	AddCalls    int
	RemoveCalls int

	Events *[]string
}

func (m *MockTracker) event(name string) {
	if m.Events != nil {
		*m.Events = append(*m.Events, name)
	}
}

func (m *MockTracker) AddBountyLabelAndComment(ctx context.Context, installationID, repo string, issueNumber int, labelName, message string) (int64, error) {
	m.AddCalls++
	m.event("add_annotation")
	if m.AddFunc != nil {
		return m.AddFunc(ctx, installationID, repo, issueNumber, labelName, message)
	}
	return 4242, nil
}

func (m *MockTracker) RemoveBountyLabelAndDeleteComment(ctx context.Context, installationID, repo string, issueNumber int, commentID int64, labelName string) error {
	m.RemoveCalls++
	m.event("remove_annotation")
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, installationID, repo, issueNumber, commentID, labelName)
	}
	return nil
}

func (m *MockTracker) GetDefaultBranch(_ context.Context, _, _ string) (string, error) {
	return "main", nil
}
