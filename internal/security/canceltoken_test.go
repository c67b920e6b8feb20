package security

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestCancelTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("test-secret", "checkout-api", time.Hour)

	token, err := svc.IssueCancelToken("ord-1", "  Shopper@Example.COM ")
	if err != nil {
		t.Fatal(err)
	}

	orderID, email, err := svc.VerifyCancelToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if orderID != "ord-1" {
		t.Errorf("order id = %q, want ord-1", orderID)
	}
	if email != "shopper@example.com" {
		t.Errorf("email = %q, want lowercased trimmed", email)
	}
}

func TestCancelTokenWrongSecret(t *testing.T) {
	issuer := NewTokenService("secret-a", "checkout-api", time.Hour)
	verifier := NewTokenService("secret-b", "checkout-api", time.Hour)

	token, err := issuer.IssueCancelToken("ord-1", "a@b.com")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := verifier.VerifyCancelToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
}

func TestCancelTokenGarbageRejected(t *testing.T) {
	svc := NewTokenService("test-secret", "checkout-api", time.Hour)
	for _, raw := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, _, err := svc.VerifyCancelToken(raw); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("VerifyCancelToken(%q): want ErrInvalidToken, got %v", raw, err)
		}
	}
}

func TestCancelTokenRejectsForeignTokenType(t *testing.T) {
	svc := NewTokenService("test-secret", "checkout-api", time.Hour)

	// A valid JWT signed with the right secret but without the cancel claims
	// must not grant cancel access.
	other := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": "a@b.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	raw, err := other.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.VerifyCancelToken(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
}

func TestIdentityEmail(t *testing.T) {
	svc := NewTokenService("test-secret", "checkout-api", time.Hour)

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": "Shopper@Example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	raw, err := access.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}

	if got := svc.IdentityEmail("Bearer " + raw); got != "shopper@example.com" {
		t.Errorf("IdentityEmail = %q, want shopper@example.com", got)
	}
	// The raw token without the Bearer prefix also works.
	if got := svc.IdentityEmail(raw); got != "shopper@example.com" {
		t.Errorf("IdentityEmail without prefix = %q", got)
	}
}

func TestIdentityEmailNeverHardFails(t *testing.T) {
	svc := NewTokenService("test-secret", "checkout-api", time.Hour)

	if got := svc.IdentityEmail(""); got != "" {
		t.Errorf("empty header: got %q", got)
	}
	if got := svc.IdentityEmail("Bearer garbage"); got != "" {
		t.Errorf("garbage token: got %q", got)
	}

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": "a@b.com",
		"exp":   time.Now().Add(-time.Hour).Unix(),
	})
	raw, err := expired.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	if got := svc.IdentityEmail("Bearer " + raw); got != "" {
		t.Errorf("expired token: got %q", got)
	}
}
