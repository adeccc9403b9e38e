package auth

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

var _ Gate = (*JWTGate)(nil)

// sessionClaims is the token payload issued by the account service.
type sessionClaims struct {
	jwt.RegisteredClaims
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// JWTGate validates HS256 session tokens issued by the account service and
// extracts the user identity from their claims. Validation is purely local:
// no network call, so the gate is cheap enough to run on every checkout entry.
type JWTGate struct {
	secret []byte
}

// NewJWTGate creates a JWTGate verifying tokens against the given secret.
func NewJWTGate(secret []byte) *JWTGate {
	return &JWTGate{secret: secret}
}

// CurrentUser parses and validates the session token. An empty credential
// means an anonymous session and returns (nil, nil). An invalid or expired
// token is treated the same way: the user simply is not authenticated.
func (g *JWTGate) CurrentUser(_ context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, nil
	}

	var claims sessionClaims
	tok, err := jwt.ParseWithClaims(credential, &claims, func(*jwt.Token) (interface{}, error) {
		return g.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return nil, nil
	}
	if claims.Subject == "" {
		return nil, errors.New("session token has no subject")
	}

	return &Identity{
		UserID: claims.Subject,
		Name:   claims.Name,
		Email:  claims.Email,
	}, nil
}

// StaticGate returns a fixed identity regardless of credential. Useful in
// tests and local development.
type StaticGate struct {
	Identity *Identity
}

// CurrentUser returns the configured identity.
func (g *StaticGate) CurrentUser(context.Context, string) (*Identity, error) {
	return g.Identity, nil
}
