package workers

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"

	"task-marketplace-api/models"
)

// StartPendingSweeper runs a periodic job that removes task rows stuck in
// pending_payment for longer than maxAge. A row can only be in that state if
// the process died between the row insert and the escrow funding outcome —
// the compensating delete never ran, so the sweeper is the recovery path.
// Returns the scheduler so main can shut it down.
func StartPendingSweeper(db *gorm.DB, interval, maxAge time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			SweepStalePending(db, maxAge)
		}),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}

// SweepStalePending removes tasks still in pending_payment after maxAge and
// reports how many rows it deleted. Errors are logged and the loop continues.
func SweepStalePending(db *gorm.DB, maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	var stale []models.Task
	if err := db.Where("status = ? AND created_at < ?", models.TaskStatusPendingPayment, cutoff).
		Find(&stale).Error; err != nil {
		log.Printf("[Sweeper] DB error: %v", err)
		return 0
	}

	removed := 0
	for _, t := range stale {
		if err := db.Delete(&models.Task{}, "id = ?", t.ID).Error; err != nil {
			log.Printf("[Sweeper] Failed to remove stale pending task %s: %v", t.ID, err)
		} else {
			removed++
			log.Printf("🧹 Removed stale pending task %s (issue %s#%d, created %s)",
				t.ID, t.RepoFullName, t.IssueNumber, t.CreatedAt.Format(time.RFC3339))
		}
	}
	return removed
}
