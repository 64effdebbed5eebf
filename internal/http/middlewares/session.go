package middlewares

import (
	"context"
	"log/slog"
	"strings"

	"github.com/geocoder89/truckmatch/internal/actorctx"
	"github.com/geocoder89/truckmatch/internal/auth"
	"github.com/geocoder89/truckmatch/internal/domain/user"
	"github.com/gin-gonic/gin"
)

// Keep this small so tests can fake it.
type SessionResolver interface {
	Resolve(ctx context.Context, t auth.Tokens) (*user.User, error)
}

// ResolvePrincipal attaches the caller, if any, to the request. It never
// rejects a request: a failed lookup is logged and the caller continues as
// anonymous, so /auth/me, logout and the ops routes keep answering.
// RequireAuth turns the missing principal into 401 where one is needed.
func ResolvePrincipal(sessions SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := sessions.Resolve(c.Request.Context(), TokensFrom(c))
		if err != nil {
			slog.ErrorContext(c.Request.Context(), "resolve principal failed, continuing anonymous",
				"error", err.Error(), "request_id", requestID(c))
			p = nil
		}

		if p != nil {
			c.Set(CtxPrincipal, p)
			c.Request = c.Request.WithContext(actorctx.WithUserID(c.Request.Context(), p.ID))
		}

		c.Next()
	}
}

// TokensFrom reads the access slot from a Bearer header, falling back to the
// access cookie, and the refresh slot from its cookie. When both a header and
// a cookie are present the cookie is kept as a second access candidate.
func TokensFrom(c *gin.Context) auth.Tokens {
	var t auth.Tokens

	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		t.Access = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}

	cookie, _ := c.Cookie(AccessCookie)
	switch {
	case t.Access == "":
		t.Access = cookie
	case cookie != t.Access:
		t.CookieAccess = cookie
	}
	t.Refresh, _ = c.Cookie(RefreshCookie)

	return t
}

// PrincipalFromContext returns the resolved caller or nil.
func PrincipalFromContext(c *gin.Context) *user.User {
	v, ok := c.Get(CtxPrincipal)
	if !ok {
		return nil
	}
	p, _ := v.(*user.User)
	return p
}
