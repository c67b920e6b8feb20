package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/allinbloomus-wq/allinbloom/internal/security"
)

const identityEmailKey = "identity_email"

// Identity resolves the optional shopper bearer token. Checkout works for
// guests, so a missing or invalid token simply leaves the request anonymous.
type Identity struct {
	tokens *security.TokenService
}

func NewIdentity(tokens *security.TokenService) *Identity {
	return &Identity{tokens: tokens}
}

func (m *Identity) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		if email := m.tokens.IdentityEmail(c.GetHeader("Authorization")); email != "" {
			c.Set(identityEmailKey, email)
		}
		c.Next()
	}
}

// IdentityEmail returns the verified shopper email, or "" for anonymous
// requests.
func IdentityEmail(c *gin.Context) string {
	email, _ := c.Get(identityEmailKey)
	s, _ := email.(string)
	return s
}
