// Package auth resolves signed connection credentials to principals.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleDriver   Role = "driver"
	RoleGuardian Role = "guardian"
	RoleAdmin    Role = "admin"
)

// Principal is the authenticated identity behind a connection.
type Principal struct {
	ID   string
	Role Role
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Resolver verifies HMAC-signed tokens against a shared secret supplied by
// the host process.
type Resolver struct {
	secret []byte
}

func NewResolver(secret []byte) (*Resolver, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty signing secret")
	}
	return &Resolver{secret: secret}, nil
}

// Resolve parses and verifies a credential, returning the principal it names.
func (r *Resolver) Resolve(token string) (Principal, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("invalid credential: %w", err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return Principal{}, fmt.Errorf("invalid credential claims")
	}
	if c.Subject == "" {
		return Principal{}, fmt.Errorf("credential has no subject")
	}
	role := Role(c.Role)
	switch role {
	case RoleDriver, RoleGuardian, RoleAdmin:
	default:
		return Principal{}, fmt.Errorf("unknown role %q", c.Role)
	}
	return Principal{ID: c.Subject, Role: role}, nil
}

// Sign issues a credential for p, valid for ttl. Used by the host process and
// by tests.
func (r *Resolver) Sign(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(r.secret)
}
