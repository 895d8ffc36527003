package middleware

import (
	"net/http"
	"strings"

	"github.com/giilbert/radix/internal/v1/auth"
	"github.com/giilbert/radix/internal/v1/domain"
	"github.com/giilbert/radix/internal/v1/repository"
	"github.com/gin-gonic/gin"
)

// TokenValidator is the subset of auth.Validator (and auth.MockValidator)
// this middleware depends on.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// contextUserKey is the gin context key the resolved domain.User is
// stored under by Authenticate.
const contextUserKey = "radix.user"

// Authenticate validates the request's bearer token and resolves it to a
// domain.User, seeding the repository on first sight of a subject. 401s
// the request on a missing or invalid token, mirroring spec.md §7's
// "upstream returns 401; the core never sees it" auth error kind.
func Authenticate(validator TokenValidator, users *repository.InMemory) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		claims, err := validator.ValidateToken(tokenString)
		if err != nil || claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		user := domain.User{ID: domain.UserIDType(claims.Subject), Name: claims.Name}
		if user.Name == "" {
			user.Name = claims.Email
		}
		if existing, err := users.GetUserBySession(c.Request.Context(), user.ID); err == nil {
			user = existing
		} else {
			users.PutUser(user)
		}

		c.Set(contextUserKey, user)
		c.Next()
	}
}

// UserFromContext retrieves the user Authenticate attached to the
// request context. Only valid to call from a handler behind Authenticate.
func UserFromContext(c *gin.Context) (domain.User, bool) {
	v, ok := c.Get(contextUserKey)
	if !ok {
		return domain.User{}, false
	}
	user, ok := v.(domain.User)
	return user, ok
}
