// Package authn issues and validates the Bearer tokens guarding the
// admin surface (the `/admin/*` routes, spec.md §6). Grounded on auth/jwt.go's Claims/GenerateToken/
// ValidateToken shape, replacing its hand-rolled HMAC-SHA256 base64
// signing with golang-jwt/jwt/v5.
package authn

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the claim deciding which admin operations a token may invoke.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleOperator  Role = "operator" // mode changes, circuit-breaker resets, no lock takeovers
	RoleReadOnly  Role = "readonly"
)

// Claims extends jwt.RegisteredClaims with the caller's Role.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

const (
	issuer   = "mdmflow"
	audience = "mdmflow-admin"
	tokenTTL = 24 * time.Hour
)

// Issuer mints and validates admin tokens against a single HS256 secret.
type Issuer struct {
	secret []byte
}

// New builds an Issuer. secret must be at least 32 bytes, mirroring
// auth/jwt.go's "STRICT: Enforce 32-byte secret length at startup."
func New(secret string) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("authn: JWT secret must be at least 32 bytes, got %d", len(secret))
	}
	return &Issuer{secret: []byte(secret)}, nil
}

// Generate mints a signed token for subject with the given role.
func (i *Issuer) Generate(subject string, role Role) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Validate parses tokenString and returns its Claims, rejecting anything
// whose signature, issuer, audience, or expiry doesn't check out.
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("authn: unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithAudience(audience))
	if err != nil {
		return nil, fmt.Errorf("authn: validate token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("authn: token not valid")
	}
	return claims, nil
}

// Allows reports whether role meets or exceeds required, per the
// Admin > Operator > ReadOnly ordering mdmflow's admin surface uses.
func Allows(role, required Role) bool {
	rank := map[Role]int{RoleReadOnly: 0, RoleOperator: 1, RoleAdmin: 2}
	return rank[role] >= rank[required]
}
