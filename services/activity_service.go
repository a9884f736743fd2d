package services

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"task-marketplace-api/models"
	"task-marketplace-api/utils"
)

// ActivityService writes and serves the notification feed. Writes are
// best-effort by contract: a failed activity insert is logged and dropped,
// never propagated into a lifecycle pipeline.
type ActivityService struct {
	DB         *gorm.DB
	Production bool
}

func NewActivityService(db *gorm.DB, production bool) *ActivityService {
	return &ActivityService{DB: db, Production: production}
}

// Record inserts a feed row. Safe to call on a nil service (tests wire the
// orchestrator without a feed).
func (s *ActivityService) Record(ctx context.Context, userID string, taskID *string, typ models.ActivityType, message string) {
	if s == nil || s.DB == nil {
		return
	}
	activity := &models.Activity{
		UserID:  userID,
		TaskID:  taskID,
		Type:    typ,
		Message: message,
	}
	if err := s.DB.WithContext(ctx).Create(activity).Error; err != nil {
		log.Printf("⚠️  Failed to record %s activity for user %s: %v", typ, userID, err)
	}
}

// ListActivities is GET /activities for the authenticated user.
func (s *ActivityService) ListActivities(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	q := s.DB.WithContext(c.UserContext()).Where("user_id = ?", userID)
	if c.Query("viewed") == "false" {
		q = q.Where("viewed = ?", false)
	}

	limit := c.QueryInt("limit", 50)
	var activities []models.Activity
	if err := q.Order("created_at DESC").Limit(limit).Find(&activities).Error; err != nil {
		log.Printf("DB Error fetching activities: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch activities"})
	}

	return utils.Respond(c, activities, "", "")
}

// GetActivityCounts is GET /activities/counts — total and unviewed, suitable
// for badge polling.
func (s *ActivityService) GetActivityCounts(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	var total, unviewed int64
	base := s.DB.WithContext(c.UserContext()).Model(&models.Activity{}).Where("user_id = ?", userID)
	if err := base.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error counting activities"})
	}
	if err := base.Where("viewed = ?", false).Count(&unviewed).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error counting unviewed activities"})
	}

	return utils.Respond(c, fiber.Map{
		"total_count":    total,
		"unviewed_count": unviewed,
	}, "", "")
}

// MarkActivityViewed is PATCH /activities/:id/viewed (idempotent).
func (s *ActivityService) MarkActivityViewed(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	id := c.Params("id")

	var activity models.Activity
	if err := s.DB.WithContext(c.UserContext()).Where("id = ? AND user_id = ?", id, userID).First(&activity).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.RespondError(c, &NotFoundError{Entity: "activity", ID: id}, s.Production)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	if !activity.Viewed {
		activity.Viewed = true
		if err := s.DB.WithContext(c.UserContext()).Save(&activity).Error; err != nil {
			log.Printf("Failed to update viewed status: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to mark as viewed"})
		}
	}

	return utils.Respond(c, fiber.Map{"activity_id": activity.ID, "viewed": true}, "", "")
}
