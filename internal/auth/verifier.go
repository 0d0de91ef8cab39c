// Package auth turns opaque client credentials into caller identities.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the access tier of a live client.
type Role string

const (
	RoleCreator  Role = "creator"
	RoleInvestor Role = "investor"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCreator, RoleInvestor, RoleAdmin:
		return true
	}
	return false
}

// Identity is a verified caller. Entities lists the creator ids an
// investor is tied to; for creators it is implicitly their own id.
type Identity struct {
	UserID   string
	Role     Role
	Entities []string
}

// Verifier validates an opaque credential.
type Verifier interface {
	Verify(credential string) (Identity, error)
}

// JWTVerifier verifies HMAC-signed tokens carrying sub, role, and an
// optional entities claim.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for the given shared secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

type claims struct {
	Role     string   `json:"role"`
	Entities []string `json:"entities,omitempty"`
	jwt.RegisteredClaims
}

// Verify parses and validates the token.
func (v *JWTVerifier) Verify(credential string) (Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(credential, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("invalid credential: %w", err)
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("invalid credential")
	}
	role := Role(c.Role)
	if !role.Valid() {
		return Identity{}, fmt.Errorf("unknown role %q", c.Role)
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("credential missing subject")
	}
	return Identity{UserID: c.Subject, Role: role, Entities: c.Entities}, nil
}

// StaticVerifier maps fixed credentials to identities. Test use only.
type StaticVerifier struct {
	Identities map[string]Identity
}

// Verify looks the credential up in the static map.
func (s *StaticVerifier) Verify(credential string) (Identity, error) {
	id, ok := s.Identities[credential]
	if !ok {
		return Identity{}, fmt.Errorf("invalid credential")
	}
	return id, nil
}
