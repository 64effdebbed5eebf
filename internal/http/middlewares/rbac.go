package middlewares

import (
	"errors"
	"net/http"

	"github.com/geocoder89/truckmatch/internal/auth"
	"github.com/geocoder89/truckmatch/internal/domain/user"
	"github.com/gin-gonic/gin"
)

func RequireAuth() gin.HandlerFunc {
	return require(auth.AnyAuthenticated())
}

// RequireRole admits only the listed roles. There is no hierarchy: admin must
// be listed to pass.
func RequireRole(roles ...user.Role) gin.HandlerFunc {
	return require(auth.Roles(roles...))
}

func require(req auth.Requirement) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := auth.Authorize(PrincipalFromContext(c), req)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, auth.ErrUnauthenticated):
			abort(c, http.StatusUnauthorized, "unauthorized", "Authentication required")
		default:
			abort(c, http.StatusForbidden, "forbidden", "You do not have access to this resource")
		}
	}
}
