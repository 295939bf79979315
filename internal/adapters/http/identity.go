package http

import (
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	identityCookie  = "confera_jwt"
	identityNameKey = "identity_name"
	identitySubKey  = "identity_sub"
)

// IdentityMiddleware reads the auth boundary's JWT cookie when present
// and exposes the verified display name to handlers. Authentication
// itself is owned by an external service; a missing or invalid token
// just means an anonymous connection, never a rejection here.
func IdentityMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(identityCookie)
		if err != nil || token == "" {
			c.Next()
			return
		}
		claims := jwt.MapClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !parsed.Valid {
			c.Next()
			return
		}
		if name, ok := claims["name"].(string); ok {
			c.Set(identityNameKey, name)
		}
		if sub, ok := claims["sub"].(string); ok {
			c.Set(identitySubKey, sub)
		}
		c.Next()
	}
}
