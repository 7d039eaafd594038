// Package auth verifies socket-handshake credentials and carries the
// resulting principal through context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized indicates a missing or invalid credential.
var ErrUnauthorized = errors.New("unauthorized")

// Principal is the verified identity behind a connection or request.
type Principal struct {
	UID     string
	Role    string
	IsAdmin bool
}

// CanAccess reports whether the principal may act on a session owned by
// ownerUID. Admins may act on any session.
func (p Principal) CanAccess(ownerUID string) bool {
	return p.IsAdmin || (p.UID != "" && p.UID == ownerUID)
}

// Verifier validates HS256 JWTs minted by the auth collaborator.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a verifier around the shared signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates tokenStr, returning the embedded principal.
func (v *Verifier) Verify(tokenStr string) (Principal, error) {
	if tokenStr == "" {
		return Principal{}, fmt.Errorf("missing token: %w", ErrUnauthorized)
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("invalid token: %w", ErrUnauthorized)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, fmt.Errorf("invalid claims: %w", ErrUnauthorized)
	}

	uid, _ := claims["uid"].(string)
	if uid == "" {
		// Some issuers use the registered subject claim instead.
		uid, _ = claims["sub"].(string)
	}
	if uid == "" {
		return Principal{}, fmt.Errorf("token has no uid: %w", ErrUnauthorized)
	}

	role, _ := claims["role"].(string)
	isAdmin, _ := claims["isAdmin"].(bool)
	if role == "admin" {
		isAdmin = true
	}

	return Principal{UID: uid, Role: role, IsAdmin: isAdmin}, nil
}

// Mint creates a signed token for the principal, valid for ttl. Used by the
// seed tooling and tests; production tokens come from the auth collaborator.
func (v *Verifier) Mint(p Principal, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"uid":     p.UID,
		"role":    p.Role,
		"isAdmin": p.IsAdmin,
		"iat":     time.Now().Unix(),
		"exp":     time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

type ctxKey struct{}

// ContextWithPrincipal stores a principal on the context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// PrincipalFromContext extracts the principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
