// Package api exposes the storefront over HTTP: product browsing, cart
// mutation, and the checkout flow. Handlers are thin; all invariants live in
// the domain packages and errors are mapped to status codes here.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avolkov/storefront/internal/auth"
	"github.com/avolkov/storefront/internal/domain/checkout"
	"github.com/avolkov/storefront/internal/domain/product"
	"github.com/avolkov/storefront/internal/session"
)

// SessionCookie is the anonymous session identifier cookie.
const SessionCookie = "storefront_session"

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in responses. When
	// empty, image paths are returned as stored.
	ImageBaseURL string
	// CookieSecure sets the Secure flag on the session cookie.
	CookieSecure bool
}

// Handler implements the storefront HTTP API.
type Handler struct {
	cfg      Config
	products product.Repository
	sessions *session.Manager
	gate     auth.Gate
}

// NewHandler constructs a Handler with the required dependencies.
func NewHandler(cfg Config, products product.Repository, sessions *session.Manager, gate auth.Gate) *Handler {
	return &Handler{
		cfg:      cfg,
		products: products,
		sessions: sessions,
		gate:     gate,
	}
}

// Routes returns the API route table.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/products/{id}", h.getProduct)

	mux.HandleFunc("GET /api/cart", h.getCart)
	mux.HandleFunc("POST /api/cart/items", h.addCartItem)
	mux.HandleFunc("PATCH /api/cart/items/{id}", h.updateCartItem)
	mux.HandleFunc("DELETE /api/cart/items/{id}", h.removeCartItem)

	mux.HandleFunc("GET /api/checkout", h.checkoutStatus)
	mux.HandleFunc("POST /api/checkout", h.beginCheckout)
	mux.HandleFunc("PUT /api/checkout/address", h.setAddress)
	mux.HandleFunc("POST /api/checkout/order", h.placeOrder)
	mux.HandleFunc("DELETE /api/checkout", h.resetCheckout)

	return mux
}

// sessionFor resolves the visitor's session from the session cookie, minting
// a new session ID (and Set-Cookie) when absent.
func (h *Handler) sessionFor(w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	var id string
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		if _, err := uuid.Parse(c.Value); err == nil {
			id = c.Value
		}
	}
	if id == "" {
		id = uuid.New().String()
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			Secure:   h.cfg.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return h.sessions.GetOrCreate(r.Context(), id)
}

// bearerToken extracts the session token from the Authorization header.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	v := r.Header.Get("Authorization")
	if len(v) > len(prefix) && strings.EqualFold(v[:len(prefix)], prefix) {
		return v[len(prefix):]
	}
	return ""
}

// identity resolves the authenticated user behind the request, if any.
func (h *Handler) identity(ctx context.Context, r *http.Request) (*auth.Identity, error) {
	return h.gate.CurrentUser(ctx, bearerToken(r))
}

// resolveImage prepends the configured base URL to relative image paths,
// matching how the presentation layer resolves them.
func (h *Handler) resolveImage(image string) string {
	if h.cfg.ImageBaseURL != "" && strings.HasPrefix(image, "/") {
		return h.cfg.ImageBaseURL + image
	}
	return image
}

// errorResponse is the wire shape of all API errors.
type errorResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Redirect string `json:"redirect,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

// writeDomainError maps domain errors to API responses. Anything unmapped is
// an internal error: logged with its cause, surfaced without it.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		authErr       *checkout.AuthRequiredError
		validationErr *checkout.ValidationError
		submitErr     *checkout.SubmissionError
	)
	switch {
	case errors.As(err, &authErr):
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Code:     http.StatusUnauthorized,
			Message:  "authentication required",
			Redirect: "/login?redirect=" + authErr.Intent,
		})
	case errors.As(err, &validationErr):
		writeError(w, http.StatusUnprocessableEntity, validationErr.Message)
	case errors.As(err, &submitErr):
		writeError(w, http.StatusBadGateway, submitErr.Message)
	case errors.Is(err, checkout.ErrSubmissionInFlight):
		writeError(w, http.StatusConflict, "order submission already in progress")
	case errors.Is(err, checkout.ErrNotInCheckout):
		writeError(w, http.StatusConflict, "checkout not started")
	case errors.Is(err, checkout.ErrEmptyCart):
		writeError(w, http.StatusBadRequest, "cart is empty")
	case errors.Is(err, checkout.ErrClosed):
		writeError(w, http.StatusGone, "session closed")
	case errors.Is(err, product.ErrNotFound):
		writeError(w, http.StatusNotFound, "product not found")
	default:
		zctx.From(r.Context()).Error("Unhandled API error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields
// and oversized payloads.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}
