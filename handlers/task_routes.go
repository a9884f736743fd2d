package handlers

import (
	"github.com/gofiber/fiber/v2"

	"task-marketplace-api/middleware"
	"task-marketplace-api/services"
)

func SetupTaskRoutes(app *fiber.App, taskService *services.TaskService, webhookService *services.WebhookService) {
	// Webhooks authenticate by payload signature, not gateway user context.
	app.Post("/webhooks/github", webhookService.HandleGitHubWebhook)

	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/tasks", taskService.CreateTask)
	secured.Get("/tasks", taskService.ListTasks)
	secured.Get("/tasks/:id", taskService.GetTask)
	secured.Delete("/tasks/:id", taskService.DeleteTask)
}
