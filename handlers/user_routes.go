package handlers

import (
	"github.com/gofiber/fiber/v2"

	"task-marketplace-api/middleware"
	"task-marketplace-api/services"
)

func SetupUserRoutes(app *fiber.App, userService *services.UserService, activityService *services.ActivityService) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Get("/users/me", userService.GetMe)
	secured.Put("/users/me/wallet", userService.BindWallet)
	secured.Post("/users/me/address-book", userService.AddAddressBookEntry)

	secured.Get("/activities", activityService.ListActivities)
	secured.Get("/activities/counts", activityService.GetActivityCounts)
	secured.Patch("/activities/:id/viewed", activityService.MarkActivityViewed)
}
