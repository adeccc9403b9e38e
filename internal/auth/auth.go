// Package auth provides the authentication gate consumed by checkout: a way
// to ask whether the current request carries an authenticated user. The cart
// itself is usable anonymously; only checkout entry is gated.
package auth

import "context"

// Identity describes an authenticated storefront user.
type Identity struct {
	UserID string
	Name   string
	Email  string
}

// Gate reports the user behind a session credential. A nil Identity with a
// nil error means "no authenticated user" and is not a failure.
type Gate interface {
	CurrentUser(ctx context.Context, credential string) (*Identity, error)
}
