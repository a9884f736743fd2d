package services

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"task-marketplace-api/config"
	"task-marketplace-api/models"
	"task-marketplace-api/utils"
)

// UserService serves profile reads, wallet binding and the bounded address
// book, and maintains the contribution summary.
type UserService struct {
	Store UserStore
	Cfg   *config.Config
}

func NewUserService(store UserStore, cfg *config.Config) *UserService {
	return &UserService{Store: store, Cfg: cfg}
}

// GetMe is GET /users/me.
func (s *UserService) GetMe(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	user, err := s.Store.FindUser(c.UserContext(), userID)
	if err != nil {
		return utils.RespondError(c, err, s.Cfg.Production)
	}
	if user == nil {
		return utils.RespondError(c, &NotFoundError{Entity: "user", ID: userID}, s.Cfg.Production)
	}
	return utils.Respond(c, user, "", "")
}

// AddAddressBookEntry is POST /users/me/address-book. The book keeps at most
// models.AddressBookLimit entries, newest appended, oldest evicted.
func (s *UserService) AddAddressBookEntry(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	var req struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Address == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "address is required"})
	}

	user, err := s.Store.AppendAddressBookEntry(c.UserContext(), userID, models.AddressBookEntry{
		Address: req.Address,
		Name:    req.Name,
		AddedAt: time.Now().UTC(),
	})
	if err != nil {
		return utils.RespondError(c, err, s.Cfg.Production)
	}
	if user == nil {
		return utils.RespondError(c, &NotFoundError{Entity: "user", ID: userID}, s.Cfg.Production)
	}
	return utils.Respond(c, user.AddressBook, "Address saved", "")
}

// BindWallet is PUT /users/me/wallet.
func (s *UserService) BindWallet(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	var req struct {
		Address string `json:"address"`
	}
	if err := c.BodyParser(&req); err != nil || req.Address == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "address is required"})
	}

	user, err := s.Store.FindUser(c.UserContext(), userID)
	if err != nil {
		return utils.RespondError(c, err, s.Cfg.Production)
	}
	if user == nil {
		return utils.RespondError(c, &NotFoundError{Entity: "user", ID: userID}, s.Cfg.Production)
	}

	user.WalletAddress = &req.Address
	if err := s.Store.SaveUser(c.UserContext(), user); err != nil {
		return utils.RespondError(c, err, s.Cfg.Production)
	}
	return utils.Respond(c, user, "Wallet bound", "")
}

// ApplyCompletion bumps the contribution summary after a payout: one more
// task completed, one fewer active, earnings incremented.
func (s *UserService) ApplyCompletion(ctx context.Context, userID string, earned decimal.Decimal) error {
	user, err := s.Store.FindUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return &NotFoundError{Entity: "user", ID: userID}
	}

	user.TasksCompleted++
	if user.ActiveTasks > 0 {
		user.ActiveTasks--
	}
	user.TotalEarnings = user.TotalEarnings.Add(earned)

	return s.Store.SaveUser(ctx, user)
}
