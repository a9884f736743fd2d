package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"task-marketplace-api/config"
	"task-marketplace-api/models"
)

const (
	testInstallationID = "12345"
	testCreatorID      = "6f1a2f4e-5b7c-4d2e-9f3a-000000000001"
	testOtherUserID    = "6f1a2f4e-5b7c-4d2e-9f3a-000000000002"
)

func testConfig() *config.Config {
	return &config.Config{
		BountyAssetCode:   "USDC",
		BountyAssetIssuer: "GISSUERXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX",
		EscrowAddress:     "GESCROWXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX",
	}
}

func activeInstallation() *models.Installation {
	addr := "GWALLETXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX"
	enc := "enc:wallet-secret"
	return &models.Installation{
		ID:              testInstallationID,
		WalletAddress:   &addr,
		WalletSecretEnc: &enc,
		Status:          models.InstallationStatusActive,
	}
}

func usdc(amount string) []Balance {
	return []Balance{
		{AssetCode: "XLM", Amount: decimal.NewFromInt(100)},
		{AssetCode: "USDC", Amount: decimal.RequireFromString(amount)},
	}
}

func newTestService(store *MockTaskStore, ledger *MockLedger, tracker *MockTracker) *TaskService {
	return NewTaskService(store, ledger, tracker, &MockVault{}, nil, testConfig())
}

func createInput(bounty string) CreateTaskInput {
	return CreateTaskInput{
		InstallationID: testInstallationID,
		CreatorID:      testCreatorID,
		RepoFullName:   "acme/widgets",
		IssueID:        99001,
		IssueNumber:    17,
		IssueURL:       "https://github.com/acme/widgets/issues/17",
		IssueTitle:     "Fix the widget frobnicator",
		Bounty:         decimal.RequireFromString(bounty),
		Timeline:       decimal.NewFromInt(1),
		TimelineType:   models.TimelineTypeWeek,
	}
}

func TestTaskService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds and records funding atomically", func(t *testing.T) {
		store := NewMockTaskStore()
		store.Installations[testInstallationID] = activeInstallation()
		ledger := &MockLedger{Balances: usdc("500")}
		tracker := &MockTracker{}
		svc := newTestService(store, ledger, tracker)

		outcome, err := svc.Create(ctx, createInput("100"))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if !outcome.TransactionRecorded {
			t.Error("expected transaction_recorded=true")
		}
		if outcome.Warning != "" {
			t.Errorf("unexpected warning: %q", outcome.Warning)
		}

		task := outcome.Task
		if task.Status != models.TaskStatusOpen {
			t.Errorf("expected status open, got %s", task.Status)
		}
		if len(task.EscrowTransactions) != 1 ||
			task.EscrowTransactions[0].TxHash != "tx-hash-1" ||
			task.EscrowTransactions[0].Method != models.EscrowMethodCreation {
			t.Errorf("unexpected escrow log: %+v", task.EscrowTransactions)
		}

		txn, ok := store.Transactions["tx-hash-1"]
		if !ok {
			t.Fatal("expected a Transaction row for tx-hash-1")
		}
		if !txn.Amount.Equal(decimal.RequireFromString("100")) {
			t.Errorf("expected transaction amount 100, got %s", txn.Amount)
		}
		if txn.DoneAt.IsZero() {
			t.Error("expected done_at from the ledger receipt")
		}
		if task.BountyComment == nil || *task.BountyComment != 4242 {
			t.Errorf("expected bounty comment id 4242, got %v", task.BountyComment)
		}
	})

	t.Run("fails NotFound when installation is absent", func(t *testing.T) {
		store := NewMockTaskStore()
		svc := newTestService(store, &MockLedger{}, &MockTracker{})

		_, err := svc.Create(ctx, createInput("100"))
		if !IsNotFound(err) {
			t.Fatalf("expected NotFoundError, got %v", err)
		}
		if store.WriteCount != 0 {
			t.Errorf("expected zero repository writes, got %d", store.WriteCount)
		}
	})

	t.Run("fails Validation on archived installation with zero writes", func(t *testing.T) {
		store := NewMockTaskStore()
		inst := activeInstallation()
		inst.Status = models.InstallationStatusArchived
		store.Installations[testInstallationID] = inst
		ledger := &MockLedger{Balances: usdc("500")}
		svc := newTestService(store, ledger, &MockTracker{})

		_, err := svc.Create(ctx, createInput("100"))
		if !IsValidation(err) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if store.WriteCount != 0 {
			t.Errorf("expected zero repository writes, got %d", store.WriteCount)
		}
		if ledger.TransferCalls != 0 {
			t.Error("transfer must not be attempted for an archived installation")
		}
	})

	t.Run("fails Validation when no wallet is bound", func(t *testing.T) {
		store := NewMockTaskStore()
		inst := activeInstallation()
		inst.WalletAddress = nil
		inst.WalletSecretEnc = nil
		store.Installations[testInstallationID] = inst
		svc := newTestService(store, &MockLedger{}, &MockTracker{})

		_, err := svc.Create(ctx, createInput("100"))
		if !IsValidation(err) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("fails Validation on insufficient balance", func(t *testing.T) {
		store := NewMockTaskStore()
		store.Installations[testInstallationID] = activeInstallation()
		ledger := &MockLedger{Balances: usdc("50")}
		svc := newTestService(store, ledger, &MockTracker{})

		_, err := svc.Create(ctx, createInput("100"))
		if !IsValidation(err) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if !strings.Contains(err.Error(), "Insufficient balance") {
			t.Errorf("expected an insufficient-balance message, got %q", err.Error())
		}
		if store.CreateTaskCalls != 0 {
			t.Error("no task row may be created on a failed balance check")
		}
	})

	t.Run("fails Validation with trustline message when asset line absent", func(t *testing.T) {
		store := NewMockTaskStore()
		store.Installations[testInstallationID] = activeInstallation()
		ledger := &MockLedger{Balances: []Balance{{AssetCode: "XLM", Amount: decimal.NewFromInt(100)}}}
		svc := newTestService(store, ledger, &MockTracker{})

		_, err := svc.Create(ctx, createInput("100"))
		if !IsValidation(err) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if !strings.Contains(err.Error(), "USDC trustline not found") {
			t.Errorf("expected a trustline message, got %q", err.Error())
		}
	})

	t.Run("vault decryption failure is fatal before any commit", func(t *testing.T) {
		store := NewMockTaskStore()
		store.Installations[testInstallationID] = activeInstallation()
		ledger := &MockLedger{Balances: usdc("500")}
		svc := NewTaskService(store, ledger, &MockTracker{}, &MockVault{
			DecryptFunc: func(context.Context, string) (string, error) { return "", errMockVault },
		}, nil, testConfig())

		_, err := svc.Create(ctx, createInput("100"))
		if err == nil || !errors.Is(err, errMockVault) {
			t.Fatalf("expected wrapped vault error, got %v", err)
		}
		if store.WriteCount != 0 {
			t.Errorf("expected zero repository writes, got %d", store.WriteCount)
		}
	})

	t.Run("compensates the task row when the escrow transfer fails", func(t *testing.T) {
		store := NewMockTaskStore()
		store.Installations[testInstallationID] = activeInstallation()
		ledger := &MockLedger{
			Balances: usdc("500"),
			TransferFunc: func(context.Context, string, string, string, string, decimal.Decimal) (*TransferReceipt, error) {
				return nil, errMockLedger
			},
		}
		svc := newTestService(store, ledger, &MockTracker{})

		_, err := svc.Create(ctx, createInput("100"))
		var escrowErr *EscrowContractError
		if !errors.As(err, &escrowErr) {
			t.Fatalf("expected EscrowContractError, got %v", err)
		}
		if !errors.Is(err, errMockLedger) {
			t.Error("EscrowContractError must wrap the underlying cause")
		}
		if store.CreateTaskCalls != 1 || store.DeleteTaskCalls != 1 {
			t.Errorf("expected create then compensating delete, got create=%d delete=%d",
				store.CreateTaskCalls, store.DeleteTaskCalls)
		}
		if len(store.Tasks) != 0 {
			t.Error("no task row may survive a failed escrow transfer")
		}
	})

	t.Run("recording failure degrades to partial success", func(t *testing.T) {
		store := NewMockTaskStore()
		store.Installations[testInstallationID] = activeInstallation()
		store.FailCreateTransaction = errMockStore
		ledger := &MockLedger{Balances: usdc("500")}
		svc := newTestService(store, ledger, &MockTracker{})

		outcome, err := svc.Create(ctx, createInput("100"))
		if err != nil {
			t.Fatalf("a recording failure must not fail the creation: %v", err)
		}
		if outcome.TransactionRecorded {
			t.Error("expected transaction_recorded=false")
		}
		if !strings.Contains(outcome.Warning, "transaction recording failed") {
			t.Errorf("warning must name the recording failure, got %q", outcome.Warning)
		}
		if strings.Contains(outcome.Warning, "label and comment") {
			t.Errorf("recording warning must not mention the annotation axis: %q", outcome.Warning)
		}
		if len(store.Tasks) != 1 {
			t.Error("funded task must persist despite the recording failure")
		}
		// The atomic unit rolled back: no orphan Transaction row either.
		if len(store.Transactions) != 0 {
			t.Error("no transaction row may exist when the atomic unit failed")
		}
		// The funded row must leave pending_payment so the stale-pending
		// sweeper cannot delete it and strand the escrowed funds.
		if outcome.Task.Status == models.TaskStatusPendingPayment {
			t.Errorf("funded task must not remain pending_payment, got %s", outcome.Task.Status)
		}
		if len(outcome.Task.EscrowTransactions) != 1 || outcome.Task.EscrowTransactions[0].TxHash != "tx-hash-1" {
			t.Errorf("escrow log must record the funding transfer, got %+v", outcome.Task.EscrowTransactions)
		}
	})

	t.Run("lost comment id surfaces as a warning", func(t *testing.T) {
		store := NewMockTaskStore()
		store.Installations[testInstallationID] = activeInstallation()
		store.FailUpdateTaskOnKey = "bounty_comment_id"
		ledger := &MockLedger{Balances: usdc("500")}
		svc := newTestService(store, ledger, &MockTracker{})

		outcome, err := svc.Create(ctx, createInput("100"))
		if err != nil {
			t.Fatalf("a comment-id patch failure must not fail the creation: %v", err)
		}
		if !outcome.TransactionRecorded {
			t.Error("funding must still be recorded")
		}
		if !strings.Contains(outcome.Warning, "comment") || !strings.Contains(outcome.Warning, "id") {
			t.Errorf("warning must name the lost comment id, got %q", outcome.Warning)
		}
		if _, ok := store.Transactions["tx-hash-1"]; !ok {
			t.Error("transaction row must exist")
		}
	})

	t.Run("annotation failure degrades to partial success with funded task intact", func(t *testing.T) {
		store := NewMockTaskStore()
		store.Installations[testInstallationID] = activeInstallation()
		ledger := &MockLedger{Balances: usdc("500")}
		tracker := &MockTracker{
			AddFunc: func(context.Context, string, string, int, string, string) (int64, error) {
				return 0, errMockTrack
			},
		}
		svc := newTestService(store, ledger, tracker)

		outcome, err := svc.Create(ctx, createInput("100"))
		if err != nil {
			t.Fatalf("an annotation failure must not fail the creation: %v", err)
		}
		if !strings.Contains(outcome.Warning, "label and comment") {
			t.Errorf("warning must name the annotation failure, got %q", outcome.Warning)
		}
		if !outcome.TransactionRecorded {
			t.Error("recording must still be reported as successful")
		}
		if outcome.Task.Status != models.TaskStatusOpen {
			t.Errorf("task must be open, got %s", outcome.Task.Status)
		}
		if _, ok := store.Transactions["tx-hash-1"]; !ok {
			t.Error("transaction row must exist despite the annotation failure")
		}
	})

	t.Run("normalizes a day timeline above six days", func(t *testing.T) {
		store := NewMockTaskStore()
		store.Installations[testInstallationID] = activeInstallation()
		ledger := &MockLedger{Balances: usdc("500")}
		svc := newTestService(store, ledger, &MockTracker{})

		in := createInput("100")
		in.Timeline = decimal.NewFromInt(10)
		in.TimelineType = models.TimelineTypeDay

		outcome, err := svc.Create(ctx, in)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if outcome.Task.TimelineType != models.TimelineTypeWeek {
			t.Errorf("expected week timeline, got %s", outcome.Task.TimelineType)
		}
		if !outcome.Task.Timeline.Equal(decimal.RequireFromString("1.3")) {
			t.Errorf("expected timeline 1.3, got %s", outcome.Task.Timeline)
		}
	})
}

func openTask(id string, bounty string) *models.Task {
	return &models.Task{
		ID:             id,
		IssueID:        99001,
		IssueNumber:    17,
		RepoFullName:   "acme/widgets",
		InstallationID: testInstallationID,
		CreatorID:      testCreatorID,
		Bounty:         decimal.RequireFromString(bounty),
		Status:         models.TaskStatusOpen,
		BountyLabelID:  "bounty-100-usdc",
	}
}

func TestTaskService_Delete(t *testing.T) {
	ctx := context.Background()
	taskID := "0b54de0f-6f1d-4c55-9df0-000000000099"

	t.Run("refunds then deletes, refund strictly before delete", func(t *testing.T) {
		var events []string
		store := NewMockTaskStore()
		store.Events = &events
		store.Installations[testInstallationID] = activeInstallation()
		store.Tasks[taskID] = openTask(taskID, "100")
		ledger := &MockLedger{Events: &events}
		tracker := &MockTracker{Events: &events}
		svc := newTestService(store, ledger, tracker)

		outcome, err := svc.Delete(ctx, taskID, testCreatorID)
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if !outcome.Refunded.Equal(decimal.RequireFromString("100")) {
			t.Errorf("expected refunded=100, got %s", outcome.Refunded)
		}
		if len(store.Tasks) != 0 {
			t.Error("task row must be gone")
		}

		refundIdx, deleteIdx := -1, -1
		for i, e := range events {
			switch e {
			case "refund":
				refundIdx = i
			case "delete_task":
				deleteIdx = i
			}
		}
		if refundIdx == -1 || deleteIdx == -1 || refundIdx > deleteIdx {
			t.Errorf("refund must precede the row delete, got events %v", events)
		}
		if tracker.RemoveCalls != 1 {
			t.Error("expected issue cleanup after deletion")
		}
	})

	t.Run("zero bounty skips the ledger entirely", func(t *testing.T) {
		store := NewMockTaskStore()
		store.Installations[testInstallationID] = activeInstallation()
		store.Tasks[taskID] = openTask(taskID, "0")
		ledger := &MockLedger{}
		svc := newTestService(store, ledger, &MockTracker{})

		outcome, err := svc.Delete(ctx, taskID, testCreatorID)
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if ledger.RefundCalls != 0 {
			t.Error("no refund call may be made for a zero bounty")
		}
		if !outcome.Refunded.IsZero() {
			t.Errorf("expected refunded=0, got %s", outcome.Refunded)
		}
	})

	t.Run("refund failure aborts before the row delete", func(t *testing.T) {
		store := NewMockTaskStore()
		store.Installations[testInstallationID] = activeInstallation()
		store.Tasks[taskID] = openTask(taskID, "100")
		ledger := &MockLedger{
			RefundFunc: func(context.Context, string, string) (*TransferReceipt, error) {
				return nil, errMockLedger
			},
		}
		svc := newTestService(store, ledger, &MockTracker{})

		_, err := svc.Delete(ctx, taskID, testCreatorID)
		var escrowErr *EscrowContractError
		if !errors.As(err, &escrowErr) {
			t.Fatalf("expected EscrowContractError, got %v", err)
		}
		if _, ok := store.Tasks[taskID]; !ok {
			t.Error("task row must still exist after a failed refund")
		}
		if store.DeleteTaskCalls != 0 {
			t.Error("row delete must not be attempted after a failed refund")
		}
	})

	t.Run("rejects non-creator with AuthorizationError", func(t *testing.T) {
		store := NewMockTaskStore()
		store.Installations[testInstallationID] = activeInstallation()
		store.Tasks[taskID] = openTask(taskID, "100")
		svc := newTestService(store, &MockLedger{}, &MockTracker{})

		_, err := svc.Delete(ctx, taskID, testOtherUserID)
		var authErr *AuthorizationError
		if !errors.As(err, &authErr) {
			t.Fatalf("expected AuthorizationError, got %v", err)
		}
	})

	t.Run("rejects non-open task", func(t *testing.T) {
		store := NewMockTaskStore()
		store.Installations[testInstallationID] = activeInstallation()
		task := openTask(taskID, "100")
		task.Status = models.TaskStatusInProgress
		store.Tasks[taskID] = task
		ledger := &MockLedger{}
		svc := newTestService(store, ledger, &MockTracker{})

		_, err := svc.Delete(ctx, taskID, testCreatorID)
		if !IsValidation(err) || !strings.Contains(err.Error(), "Only open tasks can be deleted") {
			t.Fatalf("expected the open-tasks-only validation error, got %v", err)
		}
		if ledger.RefundCalls != 0 || store.DeleteTaskCalls != 0 {
			t.Error("precondition failure must produce zero side effects")
		}
	})

	t.Run("rejects task with an assigned contributor", func(t *testing.T) {
		store := NewMockTaskStore()
		store.Installations[testInstallationID] = activeInstallation()
		task := openTask(taskID, "100")
		contributor := testOtherUserID
		task.ContributorID = &contributor
		store.Tasks[taskID] = task
		svc := newTestService(store, &MockLedger{}, &MockTracker{})

		_, err := svc.Delete(ctx, taskID, testCreatorID)
		if !IsValidation(err) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("rejects archived installation with zero side effects", func(t *testing.T) {
		store := NewMockTaskStore()
		inst := activeInstallation()
		inst.Status = models.InstallationStatusArchived
		store.Installations[testInstallationID] = inst
		store.Tasks[taskID] = openTask(taskID, "100")
		ledger := &MockLedger{}
		svc := newTestService(store, ledger, &MockTracker{})

		_, err := svc.Delete(ctx, taskID, testCreatorID)
		if !IsValidation(err) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if ledger.RefundCalls != 0 || store.DeleteTaskCalls != 0 {
			t.Error("archived installation must produce zero side effects")
		}
	})

	t.Run("cleanup failure degrades to partial success", func(t *testing.T) {
		store := NewMockTaskStore()
		store.Installations[testInstallationID] = activeInstallation()
		store.Tasks[taskID] = openTask(taskID, "100")
		tracker := &MockTracker{
			RemoveFunc: func(context.Context, string, string, int, int64, string) error {
				return errMockTrack
			},
		}
		svc := newTestService(store, &MockLedger{}, tracker)

		outcome, err := svc.Delete(ctx, taskID, testCreatorID)
		if err != nil {
			t.Fatalf("cleanup failure must not fail the deletion: %v", err)
		}
		if !strings.Contains(outcome.Warning, "label and comment") {
			t.Errorf("warning must name the cleanup failure, got %q", outcome.Warning)
		}
		if len(store.Tasks) != 0 {
			t.Error("task must be deleted despite the cleanup failure")
		}
	})

	t.Run("fails NotFound for a missing task", func(t *testing.T) {
		store := NewMockTaskStore()
		svc := newTestService(store, &MockLedger{}, &MockTracker{})

		_, err := svc.Delete(ctx, "no-such-task", testCreatorID)
		if !IsNotFound(err) {
			t.Fatalf("expected NotFoundError, got %v", err)
		}
	})
}
