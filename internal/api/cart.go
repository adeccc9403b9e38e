package api

import (
	"net/http"

	"github.com/avolkov/storefront/internal/domain/cart"
)

// cartItemResponse is the wire shape of one cart line.
type cartItemResponse struct {
	ProductID    string  `json:"productId"`
	Name         string  `json:"name"`
	UnitPrice    float64 `json:"unitPrice"`
	Quantity     int     `json:"quantity"`
	CountInStock int     `json:"countInStock"`
	Image        string  `json:"image"`
}

// cartResponse is the wire shape of a cart snapshot.
type cartResponse struct {
	Items      []cartItemResponse `json:"items"`
	TotalPrice float64            `json:"totalPrice"`
}

func (h *Handler) toCartResponse(snap cart.Snapshot) cartResponse {
	items := make([]cartItemResponse, len(snap.Entries))
	for i, e := range snap.Entries {
		items[i] = cartItemResponse{
			ProductID:    e.ProductID,
			Name:         e.Name,
			UnitPrice:    e.UnitPrice.InexactFloat64(),
			Quantity:     e.Quantity,
			CountInStock: e.CountInStock,
			Image:        h.resolveImage(e.Image),
		}
	}
	return cartResponse{
		Items:      items,
		TotalPrice: snap.TotalPrice.InexactFloat64(),
	}
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessionFor(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toCartResponse(sess.Cart.Snapshot()))
}

// addCartItemRequest is the payload for adding a product to the cart.
type addCartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessionFor(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var req addCartItemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "productId is required")
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}

	p, err := h.products.GetByID(r.Context(), req.ProductID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	// Adding an out-of-stock product is a silent no-op inside the store; the
	// response simply shows the unchanged cart.
	if err := sess.Cart.Add(r.Context(), *p, req.Quantity); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toCartResponse(sess.Cart.Snapshot()))
}

// updateCartItemRequest is the payload for setting a line's quantity.
type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessionFor(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var req updateCartItemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	productID := r.PathValue("id")

	// Quantity zero or below is an explicit removal; the store itself never
	// lets an update drop a line under one unit.
	if req.Quantity < 1 {
		if err := sess.Cart.Remove(r.Context(), productID); err != nil {
			writeDomainError(w, r, err)
			return
		}
	} else if err := sess.Cart.UpdateQuantity(r.Context(), productID, req.Quantity); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toCartResponse(sess.Cart.Snapshot()))
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessionFor(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := sess.Cart.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toCartResponse(sess.Cart.Snapshot()))
}
