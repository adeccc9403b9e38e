package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/storefront/internal/auth"
	"github.com/avolkov/storefront/internal/domain/cart"
	"github.com/avolkov/storefront/internal/domain/order"
	"github.com/avolkov/storefront/internal/domain/product"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// mockClient is a controllable order.SubmissionClient.
type mockClient struct {
	mu        sync.Mutex
	conf      *order.Confirmation
	err       error
	block     chan struct{} // when set, Create waits for it (or ctx) before returning
	lastDraft *order.Draft
	calls     int
}

func (m *mockClient) Create(ctx context.Context, draft *order.Draft) (*order.Confirmation, error) {
	m.mu.Lock()
	m.calls++
	m.lastDraft = draft
	block := m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.conf, nil
}

func (m *mockClient) draft() *order.Draft {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastDraft
}

func (m *mockClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// navRecorder captures navigation signals.
type navRecorder struct {
	mu      sync.Mutex
	targets []string
}

func (n *navRecorder) navigate(target string) {
	n.mu.Lock()
	n.targets = append(n.targets, target)
	n.mu.Unlock()
}

func (n *navRecorder) got() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.targets...)
}

var testUser = &auth.Identity{UserID: "u1", Name: "Test User"}

func newTestCart(t *testing.T) *cart.Store {
	t.Helper()
	s := cart.NewStore(nil, nil)
	p := product.Product{ID: "productA", Name: "Product A", Price: d("100"), CountInStock: 3}
	require.NoError(t, s.Add(context.Background(), p, 3))
	return s
}

func validAddress() order.ShippingAddress {
	return order.ShippingAddress{
		Address:    "Tverskaya 1",
		City:       "Moscow",
		PostalCode: "101000",
		Country:    "RU",
	}
}

func TestBegin_UnauthenticatedSignalsRedirect(t *testing.T) {
	c := newTestCart(t)
	o := New(c, &mockClient{}, Options{})

	err := o.Begin(nil)

	var authErr *AuthRequiredError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, IntentCheckout, authErr.Intent)
	assert.Equal(t, StateBrowsing, o.Status().State, "unauthenticated checkout never reaches address collection")
	assert.Len(t, c.Snapshot().Entries, 1, "cart untouched by the redirect")
}

func TestBegin_AuthenticatedCollectsAddress(t *testing.T) {
	o := New(newTestCart(t), &mockClient{}, Options{PaymentMethod: "Cash on delivery"})

	require.NoError(t, o.Begin(testUser))

	st := o.Status()
	assert.Equal(t, StateAddressCollection, st.State)
	assert.Equal(t, order.ShippingAddress{}, st.Address, "address draft starts empty")
	assert.Equal(t, "Cash on delivery", st.PaymentMethod)
}

func TestBegin_EmptyCart(t *testing.T) {
	o := New(cart.NewStore(nil, nil), &mockClient{}, Options{})

	require.ErrorIs(t, o.Begin(testUser), ErrEmptyCart)
}

func TestSetAddress_RequiresCollection(t *testing.T) {
	o := New(newTestCart(t), &mockClient{}, Options{})

	require.ErrorIs(t, o.SetAddress(validAddress()), ErrNotInCheckout)
}

func TestPlaceOrder_ValidationGate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*order.ShippingAddress)
	}{
		{name: "missing address", mutate: func(a *order.ShippingAddress) { a.Address = "" }},
		{name: "missing city", mutate: func(a *order.ShippingAddress) { a.City = "" }},
		{name: "missing postal code", mutate: func(a *order.ShippingAddress) { a.PostalCode = "" }},
		{name: "missing country", mutate: func(a *order.ShippingAddress) { a.Country = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{}
			o := New(newTestCart(t), client, Options{})
			require.NoError(t, o.Begin(testUser))

			addr := validAddress()
			tt.mutate(&addr)
			require.NoError(t, o.SetAddress(addr))

			_, err := o.PlaceOrder(context.Background())

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, "missing required address field", vErr.Message)
			st := o.Status()
			assert.Equal(t, StateAddressCollection, st.State)
			assert.Equal(t, addr, st.Address, "form inputs unchanged on validation failure")
			assert.Zero(t, client.callCount(), "submission never attempted with an incomplete address")
		})
	}
}

func TestPlaceOrder_Success(t *testing.T) {
	c := newTestCart(t)
	client := &mockClient{conf: &order.Confirmation{OrderID: "ord-1"}}
	nav := &navRecorder{}
	o := New(c, client, Options{
		PaymentMethod: "Cash on delivery",
		GraceDelay:    10 * time.Millisecond,
		Navigate:      nav.navigate,
	})
	require.NoError(t, o.Begin(testUser))
	require.NoError(t, o.SetAddress(validAddress()))

	conf, err := o.PlaceOrder(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "ord-1", conf.OrderID)

	st := o.Status()
	assert.Equal(t, StateConfirmed, st.State)
	assert.Equal(t, MessageConfirmed, st.Message)
	assert.Equal(t, "ord-1", st.OrderID)
	assert.True(t, c.Snapshot().Empty(), "cart cleared after confirmation")

	assert.Eventually(t, func() bool {
		got := nav.got()
		return len(got) == 1 && got[0] == NavigateTargetOrders
	}, time.Second, 5*time.Millisecond, "navigation signalled after the grace delay")
}

func TestPlaceOrder_DraftFreezesSnapshot(t *testing.T) {
	c := newTestCart(t)
	client := &mockClient{conf: &order.Confirmation{OrderID: "ord-1"}}
	o := New(c, client, Options{PaymentMethod: "Cash on delivery"})
	require.NoError(t, o.Begin(testUser))
	require.NoError(t, o.SetAddress(validAddress()))

	_, err := o.PlaceOrder(context.Background())
	require.NoError(t, err)

	draft := client.draft()
	require.NotNil(t, draft)
	require.Len(t, draft.Items, 1)
	assert.Equal(t, "productA", draft.Items[0].ProductID)
	assert.Equal(t, 3, draft.Items[0].Quantity)
	assert.True(t, d("300").Equal(draft.TotalPrice))
	assert.Equal(t, validAddress(), draft.ShippingAddress)
	assert.Equal(t, "Cash on delivery", draft.PaymentMethod)
	assert.NotEmpty(t, draft.IdempotencyKey)
}

func TestPlaceOrder_BackendRejectionVerbatim(t *testing.T) {
	c := newTestCart(t)
	client := &mockClient{err: &order.RejectedError{StatusCode: 422, Message: "Out of stock"}}
	o := New(c, client, Options{})
	require.NoError(t, o.Begin(testUser))
	require.NoError(t, o.SetAddress(validAddress()))

	_, err := o.PlaceOrder(context.Background())

	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "Out of stock", subErr.Message)

	st := o.Status()
	assert.Equal(t, StateAddressCollection, st.State, "failure returns to address collection")
	assert.Equal(t, "Out of stock", st.Message)
	assert.Equal(t, validAddress(), st.Address, "entered address preserved for retry")
	assert.Len(t, c.Snapshot().Entries, 1, "cart untouched on failure")
}

func TestPlaceOrder_GenericFallbackMessage(t *testing.T) {
	client := &mockClient{err: errors.New("dial tcp: connection refused")}
	o := New(newTestCart(t), client, Options{})
	require.NoError(t, o.Begin(testUser))
	require.NoError(t, o.SetAddress(validAddress()))

	_, err := o.PlaceOrder(context.Background())

	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, MessageGenericFailure, subErr.Message, "raw transport errors never reach the user")
}

func TestPlaceOrder_Timeout(t *testing.T) {
	client := &mockClient{block: make(chan struct{})} // never released: only ctx expiry returns
	o := New(newTestCart(t), client, Options{SubmitTimeout: 20 * time.Millisecond})
	require.NoError(t, o.Begin(testUser))
	require.NoError(t, o.SetAddress(validAddress()))

	_, err := o.PlaceOrder(context.Background())

	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, MessageTimeout, subErr.Message)
	assert.Equal(t, StateAddressCollection, o.Status().State)
}

func TestPlaceOrder_DoubleSubmitIgnored(t *testing.T) {
	release := make(chan struct{})
	client := &mockClient{block: release, conf: &order.Confirmation{OrderID: "ord-1"}}
	o := New(newTestCart(t), client, Options{})
	require.NoError(t, o.Begin(testUser))
	require.NoError(t, o.SetAddress(validAddress()))

	firstDone := make(chan error, 1)
	go func() {
		_, err := o.PlaceOrder(context.Background())
		firstDone <- err
	}()

	// Wait until the first submission is in flight.
	require.Eventually(t, func() bool {
		return o.Status().State == StateSubmitting
	}, time.Second, time.Millisecond)

	_, err := o.PlaceOrder(context.Background())
	require.ErrorIs(t, err, ErrSubmissionInFlight)

	close(release)
	require.NoError(t, <-firstDone)
	assert.Equal(t, 1, client.callCount(), "double click must not submit twice")
}

func TestPlaceOrder_ResponseAfterCloseDiscarded(t *testing.T) {
	c := newTestCart(t)
	release := make(chan struct{})
	nav := &navRecorder{}
	client := &mockClient{block: release, conf: &order.Confirmation{OrderID: "ord-1"}}
	o := New(c, client, Options{Navigate: nav.navigate})
	require.NoError(t, o.Begin(testUser))
	require.NoError(t, o.SetAddress(validAddress()))

	done := make(chan error, 1)
	go func() {
		_, err := o.PlaceOrder(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool {
		return o.Status().State == StateSubmitting
	}, time.Second, time.Millisecond)

	// The user navigates away mid-flight.
	o.Close()
	close(release)

	require.ErrorIs(t, <-done, ErrClosed)
	assert.Len(t, c.Snapshot().Entries, 1, "late response must not mutate a torn-down cart")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, nav.got(), "no navigation from a discarded response")
}

func TestReset_CancelsPendingNavigation(t *testing.T) {
	c := newTestCart(t)
	nav := &navRecorder{}
	client := &mockClient{conf: &order.Confirmation{OrderID: "ord-1"}}
	o := New(c, client, Options{GraceDelay: 30 * time.Millisecond, Navigate: nav.navigate})
	require.NoError(t, o.Begin(testUser))
	require.NoError(t, o.SetAddress(validAddress()))

	_, err := o.PlaceOrder(context.Background())
	require.NoError(t, err)

	// Teardown before the grace delay elapses: the deferred navigation must
	// not fire into a flow that no longer exists.
	o.Reset()
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, nav.got())
}

func TestClose_MakesOperationsFail(t *testing.T) {
	o := New(newTestCart(t), &mockClient{}, Options{})
	o.Close()

	assert.ErrorIs(t, o.Begin(testUser), ErrClosed)
	assert.ErrorIs(t, o.SetAddress(validAddress()), ErrClosed)
	_, err := o.PlaceOrder(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBegin_RestartResetsDraft(t *testing.T) {
	o := New(newTestCart(t), &mockClient{err: &order.RejectedError{Message: "nope"}}, Options{})
	require.NoError(t, o.Begin(testUser))
	require.NoError(t, o.SetAddress(validAddress()))

	// Re-entering checkout starts over with a clean draft.
	require.NoError(t, o.Begin(testUser))
	assert.Equal(t, order.ShippingAddress{}, o.Status().Address)
}
