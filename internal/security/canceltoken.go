// Package security issues and verifies the signed credentials used by the
// checkout surface: guest cancel tokens and optional shopper identity tokens.
package security

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const cancelTokenType = "checkout_cancel"

var ErrInvalidToken = errors.New("invalid token")

type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewTokenService(secret, issuer string, cancelTTL time.Duration) *TokenService {
	if cancelTTL <= 0 {
		cancelTTL = 48 * time.Hour
	}
	return &TokenService{secret: []byte(secret), issuer: issuer, ttl: cancelTTL}
}

// CancelClaims scope a cancel token to exactly one (order, email) pair.
type CancelClaims struct {
	OrderID string `json:"order_id"`
	Email   string `json:"email"`
	Type    string `json:"type"`
	jwt.RegisteredClaims
}

// IssueCancelToken creates the time-limited credential handed to guest
// shoppers at checkout so they can cancel or query their own order.
func (s *TokenService) IssueCancelToken(orderID, email string) (string, error) {
	now := time.Now()
	claims := CancelClaims{
		OrderID: orderID,
		Email:   strings.ToLower(strings.TrimSpace(email)),
		Type:    cancelTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyCancelToken parses and validates a cancel token, returning its order
// id and email scope.
func (s *TokenService) VerifyCancelToken(token string) (orderID, email string, err error) {
	var claims CancelClaims
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil || !parsed.Valid {
		return "", "", ErrInvalidToken
	}
	if claims.Type != cancelTokenType || claims.OrderID == "" || claims.Email == "" {
		return "", "", ErrInvalidToken
	}
	return claims.OrderID, claims.Email, nil
}

// IdentityEmail extracts the authenticated shopper email from an access
// token minted by the storefront auth service. Returns "" for anonymous or
// invalid tokens; checkout works for guests, so this never hard-fails.
func (s *TokenService) IdentityEmail(bearer string) string {
	raw := strings.TrimSpace(strings.TrimPrefix(bearer, "Bearer "))
	if raw == "" {
		return ""
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil || !token.Valid {
		return ""
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	email, _ := claims["email"].(string)
	return strings.ToLower(strings.TrimSpace(email))
}
