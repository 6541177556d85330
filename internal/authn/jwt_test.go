package authn

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "this-is-a-32-byte-or-longer-secret!!"

func TestNewRejectsShortSecret(t *testing.T) {
	if _, err := New("too-short"); err == nil {
		t.Fatal("expected an error for a secret under 32 bytes")
	}
}

func TestGenerateAndValidateRoundTrip(t *testing.T) {
	iss, err := New(testSecret)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	tok, err := iss.Generate("alice@x", RoleAdmin)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := iss.Validate(tok)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "alice@x" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
	if claims.Role != RoleAdmin {
		t.Fatalf("unexpected role %q", claims.Role)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	iss, _ := New(testSecret)
	tok, _ := iss.Generate("alice@x", RoleOperator)

	other, _ := New("a-completely-different-32-byte-secret!!")
	if _, err := other.Validate(tok); err == nil {
		t.Fatal("expected validation to fail against a different secret")
	}
}

func TestValidateRejectsMalformedToken(t *testing.T) {
	iss, _ := New(testSecret)
	if _, err := iss.Validate("not-a-jwt"); err == nil {
		t.Fatal("expected validation to fail on a malformed token")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	iss, err := New(testSecret)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	now := time.Now().Add(-2 * tokenTTL)
	claims := Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice@x",
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(iss.secret)
	if err != nil {
		t.Fatalf("sign expired token: %v", err)
	}

	if _, err := iss.Validate(signed); err == nil {
		t.Fatal("expected validation to fail on an expired token")
	}
}

func TestValidateRejectsWrongAudience(t *testing.T) {
	iss, _ := New(testSecret)
	now := time.Now()
	claims := Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice@x",
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{"some-other-audience"},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(iss.secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := iss.Validate(signed); err == nil {
		t.Fatal("expected validation to fail on a mismatched audience")
	}
}

func TestAllowsOrdering(t *testing.T) {
	cases := []struct {
		role, required Role
		want            bool
	}{
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleOperator, true},
		{RoleAdmin, RoleReadOnly, true},
		{RoleOperator, RoleAdmin, false},
		{RoleOperator, RoleOperator, true},
		{RoleReadOnly, RoleOperator, false},
	}
	for _, c := range cases {
		if got := Allows(c.role, c.required); got != c.want {
			t.Errorf("Allows(%q, %q) = %v, want %v", c.role, c.required, got, c.want)
		}
	}
}

func TestAllowsWithUnknownRoleDefaultsLowest(t *testing.T) {
	if !Allows(Role("bogus"), RoleReadOnly) {
		t.Fatal("expected an unknown role to still satisfy a readonly requirement")
	}
	if Allows(Role("bogus"), RoleOperator) {
		t.Fatal("expected an unknown role to fail an operator requirement")
	}
}

func TestGeneratedTokenIsDotSeparated(t *testing.T) {
	iss, _ := New(testSecret)
	signed, _ := iss.Generate("x", RoleAdmin)
	if !strings.Contains(signed, ".") {
		t.Fatal("expected a dot-separated JWT")
	}
}
