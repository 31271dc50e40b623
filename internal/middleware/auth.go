package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"care-messaging/internal/identity"
	"care-messaging/internal/models"
)

// AuthMiddleware validates the bearer token and binds the portal user to
// the request context. Tokens carry sub (user id), name and role claims.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		user, err := ParseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Request = c.Request.WithContext(identity.WithUser(c.Request.Context(), user))
		c.Next()
	}
}

// ParseToken validates an HMAC-signed JWT and extracts the portal user.
func ParseToken(tokenStr, secret string) (identity.User, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return identity.User{}, jwt.ErrTokenUnverifiable
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return identity.User{}, jwt.ErrTokenInvalidClaims
	}

	sub, _ := claims["sub"].(string)
	name, _ := claims["name"].(string)
	roleStr, _ := claims["role"].(string)
	role := models.Role(roleStr)
	if sub == "" || !role.Valid() {
		return identity.User{}, jwt.ErrTokenInvalidClaims
	}

	return identity.User{ID: sub, FullName: name, Role: role}, nil
}
