// Package checkout sequences the purchase flow: authentication gate, shipping
// address collection, order submission, and post-confirmation cart clearing.
//
// The flow is a small state machine:
//
//	Browsing -> AddressCollection -> Submitting -> Confirmed
//	                    ^                 |
//	                    +----- failure ---+
//
// The auth check sits on the Browsing -> AddressCollection edge; an
// unauthenticated user never enters address collection and instead receives a
// login-redirect signal. A failed submission returns to AddressCollection with
// the entered address intact, so a retry loses nothing.
package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/avolkov/storefront/internal/auth"
	"github.com/avolkov/storefront/internal/domain/cart"
	"github.com/avolkov/storefront/internal/domain/order"
)

// State identifies a phase of the checkout flow.
type State string

const (
	// StateBrowsing: no checkout in progress.
	StateBrowsing State = "browsing"
	// StateAddressCollection: authenticated, collecting the shipping address.
	StateAddressCollection State = "address_collection"
	// StateSubmitting: an order submission is in flight.
	StateSubmitting State = "submitting"
	// StateConfirmed: the backend confirmed the order; the cart is cleared.
	StateConfirmed State = "confirmed"
)

// IntentCheckout is the resume intent attached to the login redirect signal.
const IntentCheckout = "checkout"

// MessageGenericFailure is shown when a submission fails without a
// user-presentable message of its own.
const MessageGenericFailure = "An error occurred while placing the order"

// MessageTimeout is shown when the submission call exceeds its deadline.
const MessageTimeout = "network timeout"

// MessageConfirmed is shown after a successful order.
const MessageConfirmed = "Order placed successfully"

// Options configures an Orchestrator.
type Options struct {
	// PaymentMethod is the fixed default payment method echoed into drafts.
	PaymentMethod string
	// SubmitTimeout bounds the order submission call. Expiry is treated as a
	// failed transition with a timeout message. Zero means no client-imposed
	// deadline beyond the caller's context.
	SubmitTimeout time.Duration
	// GraceDelay is how long after a confirmation the navigation signal is
	// deferred, giving the user time to read the confirmation. It never
	// blocks any other operation.
	GraceDelay time.Duration
	// Navigate receives the post-confirmation navigation target. Nil disables
	// the signal.
	Navigate func(target string)
	// NavigateTarget overrides the default post-confirmation target.
	NavigateTarget string
}

// NavigateTargetOrders is the default post-confirmation navigation target:
// the user's order history.
const NavigateTargetOrders = "/profile"

// Status is a read of the orchestrator state for presentation.
type Status struct {
	State         State
	Address       order.ShippingAddress
	PaymentMethod string
	Message       string
	OrderID       string
}

// Orchestrator drives one session's checkout flow over its cart. All methods
// are safe for concurrent use; each transition is atomic with respect to
// Status reads.
type Orchestrator struct {
	cart   *cart.Store
	client order.SubmissionClient
	opts   Options

	mu         sync.Mutex
	state      State
	address    order.ShippingAddress
	submitting bool
	closed     bool
	// generation increments on every Reset/Close so that a submission response
	// from a previous incarnation of the flow is discarded instead of mutating
	// state it no longer owns.
	generation uint64
	message    string
	orderID    string
	navTimer   *time.Timer
}

// New creates an Orchestrator over the given cart and submission client.
func New(c *cart.Store, client order.SubmissionClient, opts Options) *Orchestrator {
	if opts.NavigateTarget == "" {
		opts.NavigateTarget = NavigateTargetOrders
	}
	return &Orchestrator{
		cart:   c,
		client: client,
		opts:   opts,
		state:  StateBrowsing,
	}
}

// Begin enters the checkout flow. With no authenticated identity it stays in
// Browsing and returns an AuthRequiredError carrying the checkout intent; the
// caller performs the login navigation and re-entry restarts from scratch.
// With an identity it moves to AddressCollection with an empty address draft.
func (o *Orchestrator) Begin(identity *auth.Identity) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	if o.submitting {
		return ErrSubmissionInFlight
	}
	if identity == nil {
		return &AuthRequiredError{Intent: IntentCheckout}
	}
	if o.cart.Snapshot().Empty() {
		return ErrEmptyCart
	}

	o.state = StateAddressCollection
	o.address = order.ShippingAddress{}
	o.message = ""
	o.orderID = ""
	return nil
}

// SetAddress replaces the shipping address draft. Valid only while collecting
// the address; during submission the form is effectively disabled.
func (o *Orchestrator) SetAddress(addr order.ShippingAddress) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	if o.submitting {
		return ErrSubmissionInFlight
	}
	if o.state != StateAddressCollection {
		return ErrNotInCheckout
	}
	o.address = addr
	return nil
}

// PlaceOrder validates the address draft, freezes the cart into an order
// draft, and submits it. On success the cart is cleared, the state becomes
// Confirmed, and navigation to the order history is scheduled after the grace
// delay. On failure the state returns to AddressCollection with the address
// draft and cart untouched; there is no automatic retry.
//
// A second PlaceOrder while one is in flight returns ErrSubmissionInFlight
// and has no effect.
func (o *Orchestrator) PlaceOrder(ctx context.Context) (*order.Confirmation, error) {
	draft, generation, err := o.prepare()
	if err != nil {
		return nil, err
	}

	subCtx := ctx
	if o.opts.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		subCtx, cancel = context.WithTimeout(ctx, o.opts.SubmitTimeout)
		defer cancel()
	}
	conf, err := o.client.Create(subCtx, draft)

	return o.settle(ctx, generation, conf, err)
}

// prepare runs the validation gate and, if it passes, freezes the cart
// snapshot into a draft and marks the submission in flight.
func (o *Orchestrator) prepare() (*order.Draft, uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, 0, ErrClosed
	}
	if o.submitting {
		return nil, 0, ErrSubmissionInFlight
	}
	if o.state != StateAddressCollection {
		return nil, 0, ErrNotInCheckout
	}
	if !o.address.Complete() {
		return nil, 0, &ValidationError{Message: "missing required address field"}
	}

	snap := o.cart.Snapshot()
	if snap.Empty() {
		return nil, 0, ErrEmptyCart
	}

	items := make([]order.Item, len(snap.Entries))
	for i, e := range snap.Entries {
		items[i] = order.Item{
			ProductID: e.ProductID,
			Name:      e.Name,
			Quantity:  e.Quantity,
			UnitPrice: e.UnitPrice,
			Image:     e.Image,
		}
	}
	draft := &order.Draft{
		Items:           items,
		ShippingAddress: o.address,
		PaymentMethod:   o.opts.PaymentMethod,
		TotalPrice:      snap.TotalPrice,
		IdempotencyKey:  uuid.New().String(),
	}

	o.submitting = true
	o.state = StateSubmitting
	o.message = ""
	return draft, o.generation, nil
}

// settle applies the submission outcome, unless the orchestrator was closed
// or reset while the call was in flight, in which case the response is
// discarded without touching the cart.
func (o *Orchestrator) settle(ctx context.Context, generation uint64, conf *order.Confirmation, submitErr error) (*order.Confirmation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || o.generation != generation {
		return nil, ErrClosed
	}
	o.submitting = false

	if submitErr != nil {
		o.state = StateAddressCollection
		o.message = submissionMessage(submitErr)
		return nil, &SubmissionError{Message: o.message, Err: submitErr}
	}

	o.state = StateConfirmed
	o.message = MessageConfirmed
	o.orderID = conf.OrderID

	// Cart teardown belongs to the confirmed transition: holding o.mu here
	// keeps "clear the cart" atomic with the state change.
	clearErr := o.cart.Clear(ctx)

	if o.opts.Navigate != nil && o.opts.GraceDelay >= 0 {
		target := o.opts.NavigateTarget
		navigate := o.opts.Navigate
		o.navTimer = time.AfterFunc(o.opts.GraceDelay, func() {
			o.mu.Lock()
			stale := o.closed || o.generation != generation
			o.mu.Unlock()
			if !stale {
				navigate(target)
			}
		})
	}

	if clearErr != nil {
		return conf, errors.Wrap(clearErr, "clear cart after confirmation")
	}
	return conf, nil
}

// Reset returns the orchestrator to Browsing, abandoning any collected
// address. A submission still in flight will have its response discarded.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.generation++
	o.submitting = false
	o.state = StateBrowsing
	o.address = order.ShippingAddress{}
	o.message = ""
	o.orderID = ""
	o.stopNavTimer()
}

// Close tears the orchestrator down. Any in-flight submission response and
// any pending navigation signal are discarded; every later operation returns
// ErrClosed.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	o.generation++
	o.stopNavTimer()
}

// Status returns the current flow state for presentation.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	return Status{
		State:         o.state,
		Address:       o.address,
		PaymentMethod: o.opts.PaymentMethod,
		Message:       o.message,
		OrderID:       o.orderID,
	}
}

func (o *Orchestrator) stopNavTimer() {
	if o.navTimer != nil {
		o.navTimer.Stop()
		o.navTimer = nil
	}
}

// submissionMessage maps a submission failure to the message surfaced to the
// user. Backend rejections are shown verbatim when they carry a message;
// transport-level failures fall back to a generic message so raw dial errors
// never reach the user.
func submissionMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return MessageTimeout
	}

	var rejected *order.RejectedError
	if errors.As(err, &rejected) && rejected.Message != "" {
		return rejected.Message
	}
	return MessageGenericFailure
}
