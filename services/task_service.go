package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"

	"task-marketplace-api/config"
	"task-marketplace-api/models"
	"task-marketplace-api/utils"
)

// TaskService owns the task lifecycle: creation (balance check, escrow
// funding, atomic bookkeeping, issue annotation) and deletion (refund,
// cleanup). Every step that moves money or mutates durable state is ordered;
// failures after a durable commit run the documented compensating action or
// degrade to a partial-success warning, never a silent inconsistency.
type TaskService struct {
	Store      TaskStore
	Ledger     Ledger
	Tracker    IssueTracker
	Vault      utils.Vault
	Activities *ActivityService
	Cfg        *config.Config
}

func NewTaskService(store TaskStore, ledger Ledger, tracker IssueTracker, vault utils.Vault, activities *ActivityService, cfg *config.Config) *TaskService {
	return &TaskService{
		Store:      store,
		Ledger:     ledger,
		Tracker:    tracker,
		Vault:      vault,
		Activities: activities,
		Cfg:        cfg,
	}
}

// CreateTaskInput carries the validated request for a new bountied task.
type CreateTaskInput struct {
	InstallationID string
	CreatorID      string
	RepoFullName   string
	IssueID        int64
	IssueNumber    int
	IssueURL       string
	IssueTitle     string
	IssueLabels    []string
	Bounty         decimal.Decimal
	Timeline       decimal.Decimal
	TimelineType   models.TimelineType
	BountyLabelID  string
}

// CreateTaskOutcome distinguishes the two independent soft-failure axes of a
// funded task: bookkeeping recorded, and issue annotated. Warning names
// exactly which best-effort step failed.
type CreateTaskOutcome struct {
	Task                *models.Task
	TransactionRecorded bool
	Warning             string
}

const (
	warnRecordingFailed  = "escrow transfer succeeded but transaction recording failed; bookkeeping will be reconciled"
	warnAnnotationFailed = "failed to post the bounty label and comment on the linked issue"
	warnCommentIDFailed  = "bounty comment posted but recording its id failed; deletion may leave the comment behind"
)

// Create runs the creation pipeline. Precondition failures commit nothing. A
// failed escrow transfer deletes the just-created task row before the error
// is raised. Failures after the transfer never roll anything back — money
// already moved — and surface as warnings on a partial success.
func (s *TaskService) Create(ctx context.Context, in CreateTaskInput) (*CreateTaskOutcome, error) {
	inst, err := s.Store.FindInstallation(ctx, in.InstallationID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, &NotFoundError{Entity: "installation", ID: in.InstallationID}
	}
	if inst.Status == models.InstallationStatusArchived {
		return nil, &ValidationError{Reason: "installation is archived"}
	}
	if !inst.HasWallet() {
		return nil, &ValidationError{Reason: "installation has no wallet bound"}
	}

	balances, err := s.Ledger.GetBalances(ctx, *inst.WalletAddress)
	if err != nil {
		return nil, err
	}
	if err := VerifyAssetBalance(balances, s.Cfg.BountyAssetCode, in.Bounty); err != nil {
		return nil, err
	}

	secret, err := s.Vault.Decrypt(ctx, *inst.WalletSecretEnc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt installation wallet secret: %w", err)
	}

	timeline, timelineType := NormalizeTimeline(in.Timeline, in.TimelineType)

	labelName := in.BountyLabelID
	if labelName == "" {
		labelName = slug.Make(fmt.Sprintf("bounty %s %s", in.Bounty.String(), s.Cfg.BountyAssetCode))
	}

	task := &models.Task{
		IssueID:        in.IssueID,
		IssueNumber:    in.IssueNumber,
		IssueURL:       in.IssueURL,
		IssueTitle:     in.IssueTitle,
		IssueLabels:    in.IssueLabels,
		RepoFullName:   in.RepoFullName,
		BountyLabelID:  labelName,
		InstallationID: inst.ID,
		CreatorID:      in.CreatorID,
		Bounty:         in.Bounty,
		Timeline:       timeline,
		TimelineType:   timelineType,
		Status:         models.TaskStatusPendingPayment,
	}

	var receipt *TransferReceipt
	err = runPipeline(ctx, []pipelineStep{
		{
			name: "create task row",
			forward: func(ctx context.Context) error {
				return s.Store.CreateTask(ctx, task)
			},
			compensate: func(ctx context.Context) error {
				return s.Store.DeleteTask(ctx, task.ID)
			},
		},
		{
			// The balance check above ran on a possibly stale read; two
			// concurrent creations can both pass it. The ledger is the
			// authoritative check — a rejected transfer lands here and the
			// row compensation runs.
			name: "escrow transfer",
			forward: func(ctx context.Context) error {
				r, terr := s.Ledger.Transfer(ctx, secret, s.Cfg.EscrowAddress, s.Cfg.BountyAssetCode, s.Cfg.BountyAssetIssuer, in.Bounty)
				if terr != nil {
					return &EscrowContractError{Op: "transfer", Cause: terr}
				}
				receipt = r
				return nil
			},
		},
	})
	if err != nil {
		return nil, err
	}

	// Past the transfer the pipeline must not be cancellable: reversing a
	// completed transfer is the refund path, not a request abort.
	ctx = context.WithoutCancel(ctx)

	entries := append(task.EscrowTransactions, models.EscrowEntry{
		TxHash: receipt.TxHash,
		Method: models.EscrowMethodCreation,
	})

	outcome := &CreateTaskOutcome{Task: task, TransactionRecorded: true}
	var warnings []string

	if err := s.recordFunding(ctx, task, entries, receipt); err != nil {
		log.Printf("❌ [task %s] funding bookkeeping failed (tx %s): %v", task.ID, receipt.TxHash, err)
		outcome.TransactionRecorded = false
		warnings = append(warnings, warnRecordingFailed)
		// The row must still leave pending_payment: the stale-pending
		// sweeper deletes rows in that state and this one is funded.
		// Reconciliation finds the missing Transaction row via the escrow
		// log.
		if patched, perr := s.Store.UpdateTask(ctx, task.ID, map[string]any{
			"status":              models.TaskStatusOpen,
			"escrow_transactions": entries,
		}); perr != nil {
			log.Printf("❌ [task %s] failed to move funded task out of pending_payment (tx %s): %v", task.ID, receipt.TxHash, perr)
		} else {
			task = patched
		}
	}

	if commentID, err := s.Tracker.AddBountyLabelAndComment(
		ctx, inst.ID, task.RepoFullName, task.IssueNumber, labelName,
		s.bountyMessage(task),
	); err != nil {
		log.Printf("⚠️  [task %s] issue annotation failed: %v", task.ID, err)
		warnings = append(warnings, warnAnnotationFailed)
	} else {
		if patched, perr := s.Store.UpdateTask(ctx, task.ID, map[string]any{"bounty_comment_id": commentID}); perr != nil {
			log.Printf("⚠️  [task %s] failed to record bounty comment id %d: %v", task.ID, commentID, perr)
			warnings = append(warnings, warnCommentIDFailed)
		} else {
			task = patched
		}
	}

	if refreshed, err := s.Store.FindTask(ctx, task.ID); err == nil && refreshed != nil {
		task = refreshed
	}
	outcome.Task = task
	outcome.Warning = strings.Join(warnings, "; ")

	s.Activities.Record(ctx, in.CreatorID, &task.ID, models.ActivityTaskCreated,
		fmt.Sprintf("Task created for %s#%d with a %s %s bounty", task.RepoFullName, task.IssueNumber, task.Bounty.String(), s.Cfg.BountyAssetCode))

	return outcome, nil
}

// recordFunding flips the task to open, appends the escrow log entry and
// inserts the mirror Transaction row in one database transaction. Both
// commit together or neither does — this is the boundary between "money
// moved" and "the system knows money moved".
func (s *TaskService) recordFunding(ctx context.Context, task *models.Task, entries []models.EscrowEntry, receipt *TransferReceipt) error {
	return s.Store.Atomic(ctx, func(tx TaskStore) error {
		patched, err := tx.UpdateTask(ctx, task.ID, map[string]any{
			"status":              models.TaskStatusOpen,
			"escrow_transactions": entries,
		})
		if err != nil {
			return err
		}
		*task = *patched

		return tx.CreateTransaction(ctx, &models.Transaction{
			TxHash:         receipt.TxHash,
			Category:       models.TransactionCategoryBounty,
			Amount:         task.Bounty,
			TaskID:         task.ID,
			InstallationID: task.InstallationID,
			DoneAt:         receipt.ConfirmedAt,
		})
	})
}

func (s *TaskService) bountyMessage(task *models.Task) string {
	return fmt.Sprintf(
		"💰 A bounty of **%s %s** has been placed on this issue.\n\nTask `%s` is open on the marketplace. Apply there to claim it.",
		task.Bounty.String(), s.Cfg.BountyAssetCode, task.ID,
	)
}

// DeleteTaskOutcome reports the refunded amount plus any best-effort cleanup
// warning.
type DeleteTaskOutcome struct {
	Refunded decimal.Decimal
	Warning  string
}

// Delete refunds the escrowed bounty and removes the task. The refund runs
// before the row delete: a refund failure aborts with the row intact, so
// escrowed funds always have a task record to reconcile against. Tracker
// cleanup afterwards is best-effort.
func (s *TaskService) Delete(ctx context.Context, taskID, actingUserID string) (*DeleteTaskOutcome, error) {
	task, err := s.Store.FindTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, &NotFoundError{Entity: "task", ID: taskID}
	}

	inst, err := s.Store.FindInstallation(ctx, task.InstallationID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, &NotFoundError{Entity: "installation", ID: task.InstallationID}
	}
	if inst.Status == models.InstallationStatusArchived {
		return nil, &ValidationError{Reason: "installation is archived"}
	}
	if task.CreatorID != actingUserID {
		return nil, &AuthorizationError{Reason: "only the task creator can delete it"}
	}
	if task.Status != models.TaskStatusOpen {
		return nil, &ValidationError{Reason: "Only open tasks can be deleted"}
	}
	if task.ContributorID != nil {
		return nil, &ValidationError{Reason: "task already has a contributor assigned"}
	}

	refunded := decimal.Zero
	if task.Bounty.IsPositive() {
		if !inst.HasWallet() {
			return nil, &ValidationError{Reason: "installation has no wallet bound"}
		}
		secret, derr := s.Vault.Decrypt(ctx, *inst.WalletSecretEnc)
		if derr != nil {
			return nil, fmt.Errorf("failed to decrypt installation wallet secret: %w", derr)
		}
		if _, rerr := s.Ledger.Refund(ctx, secret, task.ID); rerr != nil {
			return nil, &EscrowContractError{Op: "refund", Cause: rerr}
		}
		refunded = task.Bounty
	}

	// Funds are back in the installation wallet; removing the row is now the
	// durable boundary. Not cancellable from here on.
	ctx = context.WithoutCancel(ctx)

	if err := s.Store.DeleteTask(ctx, task.ID); err != nil {
		return nil, err
	}

	outcome := &DeleteTaskOutcome{Refunded: refunded}

	var commentID int64
	if task.BountyComment != nil {
		commentID = *task.BountyComment
	}
	if err := s.Tracker.RemoveBountyLabelAndDeleteComment(
		ctx, inst.ID, task.RepoFullName, task.IssueNumber, commentID, task.BountyLabelID,
	); err != nil {
		log.Printf("⚠️  [task %s] issue cleanup failed: %v", task.ID, err)
		outcome.Warning = "failed to remove the bounty label and comment from the linked issue"
	}

	s.Activities.Record(ctx, actingUserID, nil, models.ActivityTaskDeleted,
		fmt.Sprintf("Task for %s#%d deleted, %s %s refunded", task.RepoFullName, task.IssueNumber, refunded.String(), s.Cfg.BountyAssetCode))

	return outcome, nil
}

// --- Fiber handlers ---

type createTaskRequest struct {
	InstallationID string   `json:"installation_id"`
	RepoFullName   string   `json:"repo_full_name"`
	IssueID        int64    `json:"issue_id"`
	IssueNumber    int      `json:"issue_number"`
	IssueURL       string   `json:"issue_url"`
	IssueTitle     string   `json:"issue_title"`
	IssueLabels    []string `json:"issue_labels"`
	Bounty         string   `json:"bounty"`
	Timeline       string   `json:"timeline"`
	TimelineType   string   `json:"timeline_type"`
	BountyLabelID  string   `json:"bounty_label_id"`
}

// CreateTask is POST /tasks.
func (s *TaskService) CreateTask(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "user context missing"})
	}

	var req createTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if req.InstallationID == "" || req.RepoFullName == "" || req.IssueID == 0 || req.IssueNumber == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "installation_id, repo_full_name, issue_id and issue_number are required"})
	}

	bounty, err := decimal.NewFromString(req.Bounty)
	if err != nil || !bounty.IsPositive() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bounty must be a positive decimal"})
	}

	timeline := decimal.Zero
	if req.Timeline != "" {
		timeline, err = decimal.NewFromString(req.Timeline)
		if err != nil || timeline.IsNegative() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "timeline must be a non-negative number"})
		}
	}

	timelineType := models.TimelineType(strings.ToLower(req.TimelineType))
	switch timelineType {
	case "", models.TimelineTypeDay, models.TimelineTypeWeek:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "timeline_type must be day or week"})
	}
	if timelineType == "" {
		timelineType = models.TimelineTypeWeek
	}

	outcome, err := s.Create(c.UserContext(), CreateTaskInput{
		InstallationID: req.InstallationID,
		CreatorID:      userID,
		RepoFullName:   req.RepoFullName,
		IssueID:        req.IssueID,
		IssueNumber:    req.IssueNumber,
		IssueURL:       req.IssueURL,
		IssueTitle:     req.IssueTitle,
		IssueLabels:    req.IssueLabels,
		Bounty:         bounty,
		Timeline:       timeline,
		TimelineType:   timelineType,
		BountyLabelID:  req.BountyLabelID,
	})
	if err != nil {
		return utils.RespondError(c, err, s.Cfg.Production)
	}

	return utils.RespondCreated(c, fiber.Map{
		"task":                 outcome.Task,
		"transaction_recorded": outcome.TransactionRecorded,
	}, "Task created", outcome.Warning)
}

// DeleteTask is DELETE /tasks/:id.
func (s *TaskService) DeleteTask(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "user context missing"})
	}

	outcome, err := s.Delete(c.UserContext(), c.Params("id"), userID)
	if err != nil {
		return utils.RespondError(c, err, s.Cfg.Production)
	}

	return utils.Respond(c, fiber.Map{
		"refunded": outcome.Refunded,
	}, "Task deleted", outcome.Warning)
}

// GetTask is GET /tasks/:id. Rows still pending payment are never served.
func (s *TaskService) GetTask(c *fiber.Ctx) error {
	task, err := s.Store.FindTask(c.UserContext(), c.Params("id"))
	if err != nil {
		return utils.RespondError(c, err, s.Cfg.Production)
	}
	if task == nil || task.Status == models.TaskStatusPendingPayment {
		return utils.RespondError(c, &NotFoundError{Entity: "task", ID: c.Params("id")}, s.Cfg.Production)
	}
	return utils.Respond(c, task, "", "")
}

// ListTasks is GET /tasks. Pending-payment rows are filtered out.
func (s *TaskService) ListTasks(c *fiber.Ctx) error {
	filter := TaskFilter{
		ExcludePending: true,
		InstallationID: c.Query("installation_id"),
		CreatorID:      c.Query("creator_id"),
	}
	if status := c.Query("status"); status != "" && status != string(models.TaskStatusPendingPayment) {
		filter.Status = []models.TaskStatus{models.TaskStatus(status)}
	}
	if limit := c.QueryInt("limit"); limit > 0 {
		filter.Limit = limit
	}

	tasks, err := s.Store.ListTasks(c.UserContext(), filter)
	if err != nil {
		return utils.RespondError(c, err, s.Cfg.Production)
	}
	return utils.Respond(c, tasks, "", "")
}
