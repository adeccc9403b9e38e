package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/avolkov/storefront/internal/domain/cart"
	"github.com/avolkov/storefront/internal/domain/checkout"
	"github.com/avolkov/storefront/internal/domain/order"
	"github.com/avolkov/storefront/internal/domain/product"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// memStorage is an in-memory CartStorage.
type memStorage struct {
	mu    sync.Mutex
	carts map[string][]cart.Entry
}

func newMemStorage() *memStorage {
	return &memStorage{carts: make(map[string][]cart.Entry)}
}

func (m *memStorage) Load(_ context.Context, sessionID string) ([]cart.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]cart.Entry(nil), m.carts[sessionID]...), nil
}

func (m *memStorage) ForSession(sessionID string) cart.Persister {
	return cart.PersisterFunc(func(_ context.Context, entries []cart.Entry) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.carts[sessionID] = append([]cart.Entry(nil), entries...)
		return nil
	})
}

// mockProductRepo serves products from a fixed map.
type mockProductRepo struct {
	byID map[string]product.Product
}

func (m *mockProductRepo) List(context.Context) ([]product.Product, error) { return nil, nil }

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type noopClient struct{}

func (noopClient) Create(context.Context, *order.Draft) (*order.Confirmation, error) {
	return &order.Confirmation{OrderID: "ord-1"}, nil
}

func newTestManager(t *testing.T, storage CartStorage, products product.Repository) *Manager {
	t.Helper()
	return NewManager(storage, products, noopClient{}, checkout.Options{}, zaptest.NewLogger(t))
}

func TestGetOrCreate_NewSessionIsEmpty(t *testing.T) {
	m := newTestManager(t, newMemStorage(), &mockProductRepo{})

	s, err := m.GetOrCreate(context.Background(), "s1")

	require.NoError(t, err)
	assert.True(t, s.Cart.Snapshot().Empty())
}

func TestGetOrCreate_ReturnsSameSession(t *testing.T) {
	m := newTestManager(t, newMemStorage(), &mockProductRepo{})

	s1, err := m.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	s2, err := m.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)

	assert.Same(t, s1, s2)
}

func TestGetOrCreate_RestoresAndReconciles(t *testing.T) {
	storage := newMemStorage()
	storage.carts["s1"] = []cart.Entry{
		{ProductID: "p1", Name: "Stale", UnitPrice: d("100"), Quantity: 5, CountInStock: 10},
		{ProductID: "gone", Name: "Gone", UnitPrice: d("10"), Quantity: 1, CountInStock: 10},
	}
	products := &mockProductRepo{byID: map[string]product.Product{
		"p1": {ID: "p1", Name: "Fresh", Price: d("120"), CountInStock: 2},
	}}
	m := newTestManager(t, storage, products)

	s, err := m.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)

	snap := s.Cart.Snapshot()
	require.Len(t, snap.Entries, 1, "vanished product dropped on restore")
	assert.Equal(t, "Fresh", snap.Entries[0].Name)
	assert.Equal(t, 2, snap.Entries[0].Quantity, "stale quantity re-clamped to live stock")
	assert.True(t, d("240").Equal(snap.TotalPrice))
}

func TestMutationsPersistToStorage(t *testing.T) {
	storage := newMemStorage()
	products := &mockProductRepo{byID: map[string]product.Product{
		"p1": {ID: "p1", Name: "Widget", Price: d("50"), CountInStock: 5},
	}}
	m := newTestManager(t, storage, products)

	s, err := m.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)

	p, err := products.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	require.NoError(t, s.Cart.Add(context.Background(), *p, 2))

	persisted, err := storage.Load(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, 2, persisted[0].Quantity)

	// A fresh manager (new process) restores the same cart.
	m2 := newTestManager(t, storage, products)
	s2, err := m2.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, s2.Cart.Snapshot().Entries, 1)
}

func TestPurgeIdle(t *testing.T) {
	m := newTestManager(t, newMemStorage(), &mockProductRepo{})

	s, err := m.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	s.touch(time.Now().Add(-time.Hour))

	evicted := m.PurgeIdle(30 * time.Minute)

	assert.Equal(t, 1, evicted)
	assert.ErrorIs(t, s.Checkout.Begin(nil), checkout.ErrClosed, "evicted session's checkout is closed")

	// The next visit gets a fresh session under the same ID.
	s2, err := m.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	assert.NotSame(t, s, s2)
}

func TestNavigationTargetRecorded(t *testing.T) {
	s := &Session{}
	assert.Empty(t, s.NavigationTarget())
	s.signalNavigate("/profile")
	assert.Equal(t, "/profile", s.NavigationTarget())
}
