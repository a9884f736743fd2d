package utils

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
)

// Envelope is the uniform response body: {data, message, warning?,
// pagination?}. Warning is set only on partial successes — the financially
// significant operation succeeded but a best-effort side effect failed.
type Envelope struct {
	Data       any    `json:"data,omitempty"`
	Message    string `json:"message,omitempty"`
	Warning    string `json:"warning,omitempty"`
	Pagination any    `json:"pagination,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ErrorKind is implemented by the typed errors in services; the HTTP mapper
// switches on it instead of sprinkling status-code selection per handler.
type ErrorKind interface {
	error
	HTTPStatus() int
}

// Respond writes a success (200) or partial-success (207) envelope depending
// on whether a warning is present.
func Respond(c *fiber.Ctx, data any, message, warning string) error {
	status := fiber.StatusOK
	if warning != "" {
		status = fiber.StatusMultiStatus
	}
	return c.Status(status).JSON(Envelope{Data: data, Message: message, Warning: warning})
}

// RespondCreated is Respond with a 201 on the full-success path.
func RespondCreated(c *fiber.Ctx, data any, message, warning string) error {
	status := fiber.StatusCreated
	if warning != "" {
		status = fiber.StatusMultiStatus
	}
	return c.Status(status).JSON(Envelope{Data: data, Message: message, Warning: warning})
}

// RespondError maps an error to its status code. production hides the raw
// message for 5xx-class failures so internals and secrets never leak.
func RespondError(c *fiber.Ctx, err error, production bool) error {
	status := fiber.StatusInternalServerError
	var kind ErrorKind
	if errors.As(err, &kind) {
		status = kind.HTTPStatus()
	}

	msg := err.Error()
	if production && status >= 500 {
		log.Printf("❌ [%s %s] %v", c.Method(), c.Path(), err)
		msg = "internal server error"
	}
	return c.Status(status).JSON(Envelope{Error: msg})
}
