// Package platform holds the shared error taxonomy and configuration
// for the adjudication and treasury engines.
package platform

import "errors"

// Sentinel errors returned by every engine in this module. Callers classify
// failures with errors.Is; engines wrap these with context via fmt.Errorf.
var (
	// ErrUnauthorized means the actor lacks the required role or approval.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the subject id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyProcessed means a duplicate vote/assessment was submitted,
	// or a mutation was attempted against a terminal state.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrInvalidInput covers non-positive amounts, out-of-range ratios and
	// other malformed request data.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientReserves means a debit would breach a solvency floor.
	ErrInsufficientReserves = errors.New("insufficient reserves")

	// ErrFundsFrozen means the emergency freeze gate is active.
	ErrFundsFrozen = errors.New("funds frozen")
)
