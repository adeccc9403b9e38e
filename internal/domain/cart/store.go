package cart

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/avolkov/storefront/internal/domain/product"
)

// Store holds the cart entries for one session. All mutations go through its
// methods; each one is atomic with respect to Snapshot, so readers never
// observe a partially applied change.
//
// Mutations are applied in memory first and then written through the Persister.
// A persistence failure is reported to the caller but does not roll back the
// in-memory state: the cart a user sees must never silently lose a mutation
// that was accepted.
type Store struct {
	mu        sync.Mutex
	entries   []Entry
	persister Persister
}

// NewStore creates a Store with the given initial entries (typically restored
// from persisted state). Initial entries are sanitized: lines with zero stock
// are dropped and quantities are clamped into [1, CountInStock].
// persister may be nil, in which case mutations are memory-only.
func NewStore(persister Persister, initial []Entry) *Store {
	entries := make([]Entry, 0, len(initial))
	for _, e := range initial {
		if e.CountInStock <= 0 {
			continue
		}
		e.Quantity = clamp(e.Quantity, 1, e.CountInStock)
		entries = append(entries, e)
	}
	return &Store{persister: persister, entries: entries}
}

// Add merges quantity qty of p into the cart. An existing line for the same
// product has its quantity raised by qty; a new line is appended otherwise.
// The resulting quantity is clamped to p.CountInStock. Adding an out-of-stock
// product is a silent no-op.
func (s *Store) Add(ctx context.Context, p product.Product, qty int) error {
	if p.CountInStock <= 0 || qty <= 0 {
		return nil
	}

	s.mu.Lock()
	if i := s.find(p.ID); i >= 0 {
		s.entries[i].Quantity = clamp(s.entries[i].Quantity+qty, 1, p.CountInStock)
		s.entries[i].CountInStock = p.CountInStock
		s.entries[i].UnitPrice = p.Price
	} else {
		s.entries = append(s.entries, Entry{
			ProductID:    p.ID,
			Name:         p.Name,
			UnitPrice:    p.Price,
			Quantity:     clamp(qty, 1, p.CountInStock),
			CountInStock: p.CountInStock,
			Image:        p.Image,
		})
	}
	entries := s.copyEntries()
	s.mu.Unlock()

	return s.persist(ctx, entries)
}

// UpdateQuantity sets the quantity of the line identified by productID,
// clamped into [1, CountInStock]. This call never removes the line; dropping
// below one unit is an explicit Remove. Unknown product IDs are a no-op.
func (s *Store) UpdateQuantity(ctx context.Context, productID string, qty int) error {
	s.mu.Lock()
	i := s.find(productID)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}
	s.entries[i].Quantity = clamp(qty, 1, s.entries[i].CountInStock)
	entries := s.copyEntries()
	s.mu.Unlock()

	return s.persist(ctx, entries)
}

// Remove deletes the line identified by productID. Idempotent.
func (s *Store) Remove(ctx context.Context, productID string) error {
	s.mu.Lock()
	i := s.find(productID)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	entries := s.copyEntries()
	s.mu.Unlock()

	return s.persist(ctx, entries)
}

// Clear empties the cart. Called after a confirmed order.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()

	return s.persist(ctx, nil)
}

// Reconcile refreshes stock counts, prices, names and images from current
// product data. Lines whose product is gone or out of stock are removed;
// quantities are re-clamped to the fresh stock count. Persisted carts carry
// stale CountInStock values, so this runs after restore and before checkout.
func (s *Store) Reconcile(ctx context.Context, products []product.Product) error {
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	s.mu.Lock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		p, ok := byID[e.ProductID]
		if !ok || p.CountInStock <= 0 {
			continue
		}
		e.Name = p.Name
		e.UnitPrice = p.Price
		e.CountInStock = p.CountInStock
		e.Image = p.Image
		e.Quantity = clamp(e.Quantity, 1, p.CountInStock)
		kept = append(kept, e)
	}
	s.entries = kept
	entries := s.copyEntries()
	s.mu.Unlock()

	return s.persist(ctx, entries)
}

// Snapshot returns the current entries in insertion order together with the
// total price. The total is recomputed from the entries on every call; it is
// never cached, so it cannot drift from the lines it is derived from.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	entries := s.copyEntries()
	s.mu.Unlock()

	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Subtotal())
	}
	return Snapshot{Entries: entries, TotalPrice: total}
}

// ProductIDs returns the product IDs currently in the cart, in insertion order.
func (s *Store) ProductIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(s.entries))
	for i, e := range s.entries {
		ids[i] = e.ProductID
	}
	return ids
}

// find returns the index of the entry for productID, or -1.
// Caller must hold s.mu. Carts are small; a linear scan beats keeping an
// index map consistent across removals.
func (s *Store) find(productID string) int {
	for i := range s.entries {
		if s.entries[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// copyEntries returns a copy of the entry slice. Caller must hold s.mu.
func (s *Store) copyEntries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) persist(ctx context.Context, entries []Entry) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.Save(ctx, entries); err != nil {
		return errors.Wrap(err, "persist cart")
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
