// Package order defines the order draft assembled at checkout and the
// capability interface for submitting it to the order backend.
package order

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Item is a single line of an order draft, copied from a cart entry.
type Item struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	Image     string
}

// ShippingAddress is the delivery destination collected during checkout.
// All four fields are required once submission is attempted.
type ShippingAddress struct {
	Address    string
	City       string
	PostalCode string
	Country    string
}

// Complete reports whether every address field is non-empty.
func (a ShippingAddress) Complete() bool {
	return a.Address != "" && a.City != "" && a.PostalCode != "" && a.Country != ""
}

// Draft is a point-in-time copy of the cart plus checkout metadata. Once
// submitted it is immutable and owned by the backend; the client never edits
// a draft in place.
type Draft struct {
	Items           []Item
	ShippingAddress ShippingAddress
	PaymentMethod   string
	TotalPrice      decimal.Decimal

	// IdempotencyKey lets the backend deduplicate a draft that is delivered
	// twice, e.g. after a client-side retry on a broken connection.
	IdempotencyKey string
}

// Confirmation is the backend's acknowledgement of a created order.
type Confirmation struct {
	OrderID   string
	TotalPaid decimal.Decimal
}

// RejectedError is a backend rejection of an order draft. Message is shown to
// the user verbatim when present.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("order rejected (status %d)", e.StatusCode)
	}
	return e.Message
}

// SubmissionClient is the backend capability that accepts an order draft and
// returns a confirmation or an error. Implementations must be safe for
// concurrent use.
type SubmissionClient interface {
	Create(ctx context.Context, draft *Draft) (*Confirmation, error)
}
