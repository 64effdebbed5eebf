package middlewares

import (
	"net/http"
	"time"

	"github.com/geocoder89/truckmatch/internal/auth"
	"github.com/gin-gonic/gin"
)

const (
	AccessCookie  = "tm_access"
	RefreshCookie = "tm_refresh"
)

// SessionCookies writes and clears the two credential cookies. In production
// they are Secure with SameSite=None so a separately hosted frontend can send
// them; elsewhere SameSite=Lax over plain http.
type SessionCookies struct {
	secure     bool
	sameSite   http.SameSite
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewSessionCookies(prod bool, accessTTL, refreshTTL time.Duration) *SessionCookies {
	sc := &SessionCookies{
		sameSite:   http.SameSiteLaxMode,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
	if prod {
		sc.secure = true
		sc.sameSite = http.SameSiteNoneMode
	}
	return sc
}

func (sc *SessionCookies) Set(c *gin.Context, p auth.Pair) {
	sc.write(c, AccessCookie, p.Access, int(sc.accessTTL.Seconds()))
	sc.write(c, RefreshCookie, p.Refresh, int(sc.refreshTTL.Seconds()))
}

func (sc *SessionCookies) Clear(c *gin.Context) {
	sc.write(c, AccessCookie, "", -1)
	sc.write(c, RefreshCookie, "", -1)
}

func (sc *SessionCookies) write(c *gin.Context, name, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sc.secure,
		SameSite: sc.sameSite,
	})
}
