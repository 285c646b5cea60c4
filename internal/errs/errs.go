// Package errs defines the sentinel error taxonomy shared across the core.
package errs

import "errors"

// Validation errors: surfaced to callers, never retried.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrDuplicateID  = errors.New("duplicate id")
	ErrNotFound     = errors.New("not found")
)

// State-machine errors: surfaced to callers; system remains consistent.
var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrAgentNotAvailable      = errors.New("agent not available")
	ErrQueueFull              = errors.New("queue full")
	ErrAlreadyQueued          = errors.New("already queued")
)

// Transport errors: reported via an error frame.
var (
	ErrInvalidMessage      = errors.New("invalid message")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRateLimit           = errors.New("rate limit exceeded")
	ErrSubscriptionLimit   = errors.New("subscription limit exceeded")
)

// Timeout/internal.
var (
	ErrTimeout      = errors.New("timeout")
	ErrInternal     = errors.New("internal error")
)
