// Package session ties one storefront visitor to their cart and checkout
// flow. The cart is restored from persisted state when the session first
// appears and reconciled against current product data, since persisted stock
// counts and prices go stale between visits.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/avolkov/storefront/internal/domain/cart"
	"github.com/avolkov/storefront/internal/domain/checkout"
	"github.com/avolkov/storefront/internal/domain/order"
	"github.com/avolkov/storefront/internal/domain/product"
)

// CartStorage persists cart entries across sessions. *redis.Carts is the
// production implementation; nil storage keeps carts in memory only.
type CartStorage interface {
	Load(ctx context.Context, sessionID string) ([]cart.Entry, error)
	ForSession(sessionID string) cart.Persister
}

// Session is one visitor's cart and checkout flow. A session is a single
// logical actor: its mutations arrive one at a time from UI events, and the
// stores below guarantee each one is fully applied before the next read.
type Session struct {
	ID       string
	Cart     *cart.Store
	Checkout *checkout.Orchestrator

	mu         sync.Mutex
	lastAccess time.Time
	navTarget  string
}

// NavigationTarget returns the pending navigation signal, or "".
func (s *Session) NavigationTarget() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navTarget
}

func (s *Session) signalNavigate(target string) {
	s.mu.Lock()
	s.navTarget = target
	s.mu.Unlock()
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastAccess = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastAccess)
}

// Manager owns the live sessions of this process.
type Manager struct {
	storage  CartStorage
	products product.Repository
	client   order.SubmissionClient
	opts     checkout.Options
	lg       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager. storage may be nil for memory-only carts.
// opts.Navigate is overridden per session to record the navigation signal on
// the session itself.
func NewManager(
	storage CartStorage,
	products product.Repository,
	client order.SubmissionClient,
	opts checkout.Options,
	lg *zap.Logger,
) *Manager {
	return &Manager{
		storage:  storage,
		products: products,
		client:   client,
		opts:     opts,
		lg:       lg,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the live session for id, restoring its cart from
// persisted state on first access.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		s.touch(time.Now())
		return s, nil
	}
	m.mu.Unlock()

	// Restore outside the manager lock: it may hit redis and postgres.
	s, err := m.restore(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		// Lost the race to another request for the same session.
		s.Checkout.Close()
		existing.touch(time.Now())
		return existing, nil
	}
	m.sessions[id] = s
	return s, nil
}

func (m *Manager) restore(ctx context.Context, id string) (*Session, error) {
	var (
		initial   []cart.Entry
		persister cart.Persister
	)
	if m.storage != nil {
		entries, err := m.storage.Load(ctx, id)
		if err != nil {
			return nil, errors.Wrap(err, "load persisted cart")
		}
		initial = entries
		persister = m.storage.ForSession(id)
	}

	s := &Session{
		ID:   id,
		Cart: cart.NewStore(persister, initial),
	}
	s.touch(time.Now())

	opts := m.opts
	opts.Navigate = s.signalNavigate
	s.Checkout = checkout.New(s.Cart, m.client, opts)

	if len(initial) > 0 {
		if err := m.Reconcile(ctx, s); err != nil {
			return nil, err
		}
		m.lg.Debug("Restored persisted cart",
			zap.String("session", id),
			zap.Int("entries", len(s.Cart.Snapshot().Entries)),
		)
	}
	return s, nil
}

// Reconcile refreshes the session's cart against current product data:
// quantities are re-clamped to live stock, prices updated, vanished products
// dropped. Runs after restore and again on checkout entry, where the
// persisted soft bounds must not be trusted.
func (m *Manager) Reconcile(ctx context.Context, s *Session) error {
	ids := s.Cart.ProductIDs()
	if len(ids) == 0 {
		return nil
	}
	products, err := m.products.GetByIDs(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "fetch products for reconciliation")
	}
	if err := s.Cart.Reconcile(ctx, products); err != nil {
		return errors.Wrap(err, "reconcile cart")
	}
	return nil
}

// Close tears down the session with the given id, cancelling any pending
// checkout signals. The persisted cart is left untouched.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.Checkout.Close()
	}
}

// PurgeIdle evicts sessions idle for longer than maxIdle and returns how many
// were closed. Their carts stay persisted and are restored on the next visit.
func (m *Manager) PurgeIdle(maxIdle time.Duration) int {
	now := time.Now()

	m.mu.Lock()
	var evicted []*Session
	for id, s := range m.sessions {
		if s.idleSince(now) > maxIdle {
			delete(m.sessions, id)
			evicted = append(evicted, s)
		}
	}
	m.mu.Unlock()

	for _, s := range evicted {
		s.Checkout.Close()
	}
	return len(evicted)
}

// RunJanitor evicts idle sessions every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.PurgeIdle(maxIdle); n > 0 {
				m.lg.Debug("Evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}
