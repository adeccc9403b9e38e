package checkout

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for checkout flow misuse. None of these are fatal: the
// worst case anywhere in this package is a failed checkout attempt that the
// user can retry.
var (
	// ErrNotInCheckout is returned when an operation requires an active
	// address-collection phase and there is none.
	ErrNotInCheckout = errors.New("checkout not started")
	// ErrSubmissionInFlight is returned when "place order" is triggered while
	// a previous submission is still running. Callers treat it as a no-op;
	// it exists to prevent duplicate orders from a double click.
	ErrSubmissionInFlight = errors.New("order submission already in flight")
	// ErrClosed is returned from any operation after Close. A submission
	// response that arrives after Close is discarded with this error.
	ErrClosed = errors.New("checkout closed")
	// ErrEmptyCart is returned when checkout is attempted with no cart entries.
	ErrEmptyCart = errors.New("cart is empty")
)

// AuthRequiredError signals that checkout was attempted without an
// authenticated user. It carries the intent the login flow should resume
// with; it is a redirect signal, not a failure message.
type AuthRequiredError struct {
	Intent string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("authentication required (intent %s)", e.Intent)
}

// ValidationError reports invalid checkout input. It is surfaced to the user
// inline and never propagated past the checkout boundary.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// SubmissionError reports a failed order submission. Message is safe to show
// to the user; Err retains the underlying cause for logging.
type SubmissionError struct {
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	return e.Message
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}
