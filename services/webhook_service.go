package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"task-marketplace-api/models"
	"task-marketplace-api/utils"
)

// WebhookVerifier checks the tracker's payload signature.
type WebhookVerifier interface {
	VerifyWebhookSignature(payload []byte, sigHeader string) bool
}

// CompletionApplier updates a contributor's contribution summary once their
// task completes.
type CompletionApplier interface {
	ApplyCompletion(ctx context.Context, userID string, earned decimal.Decimal) error
}

// WebhookService ingests GitHub webhook deliveries. Only issue-closed events
// matter to the marketplace: a task the contributor already marked as
// completed is confirmed completed when its issue closes, and creators of the
// remaining linked tasks are pinged so review can start.
type WebhookService struct {
	DB         *gorm.DB
	Verifier   WebhookVerifier
	Activities *ActivityService
	Users      CompletionApplier
}

func NewWebhookService(db *gorm.DB, verifier WebhookVerifier, activities *ActivityService, users CompletionApplier) *WebhookService {
	return &WebhookService{DB: db, Verifier: verifier, Activities: activities, Users: users}
}

type issueEvent struct {
	Action string `json:"action"`
	Issue  struct {
		ID     int64  `json:"id"`
		Number int    `json:"number"`
		Title  string `json:"title"`
	} `json:"issue"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// HandleGitHubWebhook is POST /webhooks/github.
func (s *WebhookService) HandleGitHubWebhook(c *fiber.Ctx) error {
	payload := c.Body()
	if !s.Verifier.VerifyWebhookSignature(payload, c.Get("X-Hub-Signature-256")) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid webhook signature"})
	}

	if c.Get("X-GitHub-Event") != "issues" {
		return utils.Respond(c, nil, "ignored", "")
	}

	var event issueEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}
	if event.Action != "closed" {
		return utils.Respond(c, nil, "ignored", "")
	}

	ctx := c.UserContext()

	var tasks []models.Task
	if err := s.DB.WithContext(ctx).
		Where("issue_id = ? AND status <> ?", event.Issue.ID, models.TaskStatusPendingPayment).
		Find(&tasks).Error; err != nil {
		log.Printf("DB Error fetching tasks for issue %d: %v", event.Issue.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	completed := 0
	for i := range tasks {
		task := &tasks[i]
		if s.confirmCompletion(ctx, task) {
			completed++
			continue
		}
		s.Activities.Record(ctx, task.CreatorID, &task.ID, models.ActivityIssueClosed,
			fmt.Sprintf("Issue %s#%d was closed — review the linked task", event.Repository.FullName, event.Issue.Number))
	}

	return utils.Respond(c, fiber.Map{"notified": len(tasks), "completed": completed}, "ok", "")
}

// confirmCompletion settles a task the contributor already marked as
// completed: the issue close is the creator-side confirmation. Returns false
// when the task is not in that state.
func (s *WebhookService) confirmCompletion(ctx context.Context, task *models.Task) bool {
	if task.Status != models.TaskStatusMarkedAsCompleted || task.ContributorID == nil {
		return false
	}

	now := time.Now()
	if err := s.DB.WithContext(ctx).Model(task).Updates(map[string]any{
		"status":       models.TaskStatusCompleted,
		"completed_at": now,
	}).Error; err != nil {
		log.Printf("❌ [task %s] failed to confirm completion: %v", task.ID, err)
		return false
	}

	if s.Users != nil {
		if err := s.Users.ApplyCompletion(ctx, *task.ContributorID, task.Bounty); err != nil {
			log.Printf("⚠️  Failed to update contribution summary for user %s: %v", *task.ContributorID, err)
		}
	}

	s.Activities.Record(ctx, *task.ContributorID, &task.ID, models.ActivityTaskCompleted,
		fmt.Sprintf("Task for %s#%d completed, %s earned", task.RepoFullName, task.IssueNumber, task.Bounty.String()))
	s.Activities.Record(ctx, task.CreatorID, &task.ID, models.ActivityTaskCompleted,
		fmt.Sprintf("Task for %s#%d was confirmed completed", task.RepoFullName, task.IssueNumber))

	return true
}
