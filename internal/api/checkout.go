package api

import (
	"net/http"

	"github.com/avolkov/storefront/internal/backend"
	"github.com/avolkov/storefront/internal/domain/checkout"
	"github.com/avolkov/storefront/internal/domain/order"
	"github.com/avolkov/storefront/internal/session"
)

// addressPayload is the wire shape of a shipping address.
type addressPayload struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// checkoutStatusResponse is the wire shape of the checkout flow state.
type checkoutStatusResponse struct {
	State         string         `json:"state"`
	Address       addressPayload `json:"address"`
	PaymentMethod string         `json:"paymentMethod"`
	Message       string         `json:"message,omitempty"`
	OrderID       string         `json:"orderId,omitempty"`
	NavigateTo    string         `json:"navigateTo,omitempty"`
}

func toStatusResponse(s checkout.Status, sess *session.Session) checkoutStatusResponse {
	return checkoutStatusResponse{
		State: string(s.State),
		Address: addressPayload{
			Address:    s.Address.Address,
			City:       s.Address.City,
			PostalCode: s.Address.PostalCode,
			Country:    s.Address.Country,
		},
		PaymentMethod: s.PaymentMethod,
		Message:       s.Message,
		OrderID:       s.OrderID,
		NavigateTo:    sess.NavigationTarget(),
	}
}

func (h *Handler) checkoutStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessionFor(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(sess.Checkout.Status(), sess))
}

// beginCheckout gates checkout entry on the auth capability. Unauthenticated
// visitors get a login redirect signal with the checkout intent; their cart
// is left as it is.
func (h *Handler) beginCheckout(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessionFor(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	identity, err := h.identity(r.Context(), r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	// Persisted stock counts are soft bounds; refresh them before the user
	// commits to an address.
	if err := h.sessions.Reconcile(r.Context(), sess); err != nil {
		writeDomainError(w, r, err)
		return
	}

	if err := sess.Checkout.Begin(identity); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(sess.Checkout.Status(), sess))
}

func (h *Handler) setAddress(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessionFor(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var req addressPayload
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	addr := order.ShippingAddress{
		Address:    req.Address,
		City:       req.City,
		PostalCode: req.PostalCode,
		Country:    req.Country,
	}
	if err := sess.Checkout.SetAddress(addr); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(sess.Checkout.Status(), sess))
}

// placeOrderResponse is returned on a confirmed order.
type placeOrderResponse struct {
	OrderID string `json:"orderId"`
	Message string `json:"message"`
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessionFor(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	// Forward the user's session token so the backend records the order
	// against the right account.
	ctx := backend.WithToken(r.Context(), bearerToken(r))

	conf, err := sess.Checkout.PlaceOrder(ctx)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, placeOrderResponse{
		OrderID: conf.OrderID,
		Message: checkout.MessageConfirmed,
	})
}

func (h *Handler) resetCheckout(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessionFor(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	sess.Checkout.Reset()
	w.WriteHeader(http.StatusNoContent)
}
