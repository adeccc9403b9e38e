// Package cart implements the shopping cart state: an insertion-ordered set of
// product lines with quantity bounds and a derived total.
//
// Quantities are soft-bounded by the stock count known to the client of this
// package; the authoritative stock check happens upstream at order time, so a
// quantity that would exceed the known stock is clamped rather than rejected.
package cart

import (
	"context"

	"github.com/shopspring/decimal"
)

// Entry is one product line in the cart, keyed by product ID.
// While an entry exists, 1 <= Quantity <= CountInStock holds.
type Entry struct {
	ProductID    string          `json:"productId"`
	Name         string          `json:"name"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	Quantity     int             `json:"quantity"`
	CountInStock int             `json:"countInStock"`
	Image        string          `json:"image"`
}

// Subtotal returns UnitPrice * Quantity for this line.
func (e Entry) Subtotal() decimal.Decimal {
	return e.UnitPrice.Mul(decimal.NewFromInt(int64(e.Quantity)))
}

// Snapshot is an immutable read of the cart at a point in time: entries in
// insertion order plus the total recomputed from them.
type Snapshot struct {
	Entries    []Entry
	TotalPrice decimal.Decimal
}

// Empty reports whether the snapshot holds no entries.
func (s Snapshot) Empty() bool {
	return len(s.Entries) == 0
}

// Persister stores the current cart contents after every mutation so a later
// session can restore them. Implementations must tolerate an empty entry list
// (written on Clear).
type Persister interface {
	Save(ctx context.Context, entries []Entry) error
}

// PersisterFunc adapts a function to the Persister interface.
type PersisterFunc func(ctx context.Context, entries []Entry) error

// Save calls f.
func (f PersisterFunc) Save(ctx context.Context, entries []Entry) error {
	return f(ctx, entries)
}
