package services

import (
	"errors"
	"fmt"
	"time"
)

// NotFoundError: a referenced entity is absent. Terminal, nothing committed.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ValidationError: a precondition is violated (archived installation,
// insufficient balance, missing trustline, task not open, ...). Terminal,
// nothing committed, no compensation needed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// AuthorizationError: the acting user is not permitted.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string { return e.Reason }

// EscrowContractError: a ledger transfer or refund failed. Raised only after
// the compensating action for the failed pipeline has run.
type EscrowContractError struct {
	Op    string
	Cause error
}

func (e *EscrowContractError) Error() string {
	return fmt.Sprintf("escrow %s failed: %v", e.Op, e.Cause)
}

func (e *EscrowContractError) Unwrap() error { return e.Cause }

// RateLimitError carries an upstream retry-after hint; the retry helper uses
// it in place of the computed backoff delay.
type RateLimitError struct {
	Op         string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited, retry after %s", e.Op, e.RetryAfter)
}

func (e *RateLimitError) Retryable() bool { return true }

// RetryAfterHint exposes the upstream delay to the retry helper.
func (e *RateLimitError) RetryAfterHint() time.Duration { return e.RetryAfter }

// ExternalError wraps a failure from an external system and marks whether it
// is worth retrying.
type ExternalError struct {
	Op        string
	Status    int
	Body      string
	Retriable bool
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Op, e.Status, e.Body)
}

func (e *ExternalError) Retryable() bool { return e.Retriable }

// HTTP status mapping consulted by utils.RespondError.

func (e *NotFoundError) HTTPStatus() int      { return 404 }
func (e *ValidationError) HTTPStatus() int    { return 400 }
func (e *AuthorizationError) HTTPStatus() int { return 403 }
func (e *EscrowContractError) HTTPStatus() int { return 502 }
func (e *RateLimitError) HTTPStatus() int     { return 429 }

func (e *ExternalError) HTTPStatus() int {
	if e.Status >= 500 || e.Status == 0 {
		return 502
	}
	return 500
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}
