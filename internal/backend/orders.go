// Package backend implements clients for the upstream storefront backend.
package backend

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/avolkov/storefront/internal/domain/order"
)

var _ order.SubmissionClient = (*OrdersClient)(nil)

// tokenKey is the context key for the user's session token, forwarded to the
// backend on order creation.
type tokenKey struct{}

// WithToken returns a context carrying the session token to authorize the
// order submission as the current user.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFrom(ctx context.Context) string {
	if tok, ok := ctx.Value(tokenKey{}).(string); ok {
		return tok
	}
	return ""
}

// OrdersClient submits order drafts to the backend order API over HTTP.
type OrdersClient struct {
	baseURL string
	http    *http.Client
}

// NewOrdersClient creates an OrdersClient for the given base URL, e.g.
// "https://api.example.com". The underlying transport is traced.
func NewOrdersClient(baseURL string) *OrdersClient {
	return &OrdersClient{
		baseURL: baseURL,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Create posts the draft to the order API and returns the confirmation.
// Non-2xx responses become *order.RejectedError carrying the backend's
// message; transport failures are returned as-is so the caller can
// distinguish timeouts.
func (c *OrdersClient) Create(ctx context.Context, draft *order.Draft) (*order.Confirmation, error) {
	body := encodeDraft(draft)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/orders", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if draft.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", draft.IdempotencyKey)
	}
	if tok := tokenFrom(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "submit order")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &order.RejectedError{
			StatusCode: resp.StatusCode,
			Message:    decodeMessage(data),
		}
	}

	conf, err := decodeConfirmation(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode confirmation")
	}
	return conf, nil
}

// encodeDraft serializes the draft in the order API's wire format. Prices are
// emitted as JSON numbers with their exact decimal representation.
func encodeDraft(draft *order.Draft) []byte {
	var e jx.Encoder
	e.ObjStart()

	e.FieldStart("orderItems")
	e.ArrStart()
	for _, it := range draft.Items {
		e.ObjStart()
		e.FieldStart("product")
		e.Str(it.ProductID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		e.Num(jx.Num(it.UnitPrice.String()))
		e.FieldStart("image")
		e.Str(it.Image)
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("shippingAddress")
	e.ObjStart()
	e.FieldStart("address")
	e.Str(draft.ShippingAddress.Address)
	e.FieldStart("city")
	e.Str(draft.ShippingAddress.City)
	e.FieldStart("postalCode")
	e.Str(draft.ShippingAddress.PostalCode)
	e.FieldStart("country")
	e.Str(draft.ShippingAddress.Country)
	e.ObjEnd()

	e.FieldStart("paymentMethod")
	e.Str(draft.PaymentMethod)
	e.FieldStart("totalPrice")
	e.Num(jx.Num(draft.TotalPrice.String()))

	e.ObjEnd()
	return e.Bytes()
}

// decodeConfirmation parses a created-order response. The order API returns
// the identifier as "id" ("_id" in its legacy Mongo form).
func decodeConfirmation(data []byte) (*order.Confirmation, error) {
	var conf order.Confirmation
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id", "_id":
			v, err := d.Str()
			if err != nil {
				return err
			}
			conf.OrderID = v
			return nil
		case "totalPrice":
			n, err := d.Num()
			if err != nil {
				return err
			}
			total, err := decimal.NewFromString(string(n))
			if err != nil {
				return errors.Wrap(err, "parse total")
			}
			conf.TotalPaid = total
			return nil
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, err
	}
	if conf.OrderID == "" {
		return nil, errors.New("confirmation has no order id")
	}
	return &conf, nil
}

// decodeMessage extracts the "message" field from an error response body.
// Malformed bodies yield an empty message and the caller falls back to a
// generic one.
func decodeMessage(data []byte) string {
	var msg string
	d := jx.DecodeBytes(data)
	_ = d.Obj(func(d *jx.Decoder, key string) error {
		if key == "message" {
			v, err := d.Str()
			if err != nil {
				return err
			}
			msg = v
			return nil
		}
		return d.Skip()
	})
	return msg
}
