package middlewares

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/geocoder89/truckmatch/internal/actorctx"
	"github.com/geocoder89/truckmatch/internal/auth"
	"github.com/geocoder89/truckmatch/internal/domain/user"
	"github.com/gin-gonic/gin"
)

type fakeResolver struct {
	fn func(ctx context.Context, t auth.Tokens) (*user.User, error)
}

func (f fakeResolver) Resolve(ctx context.Context, t auth.Tokens) (*user.User, error) {
	return f.fn(ctx, t)
}

func newRouter(resolver SessionResolver, guard gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), ResolvePrincipal(resolver))
	r.GET("/x", guard, func(c *gin.Context) {
		p := PrincipalFromContext(c)
		uid, _ := actorctx.UserIDFrom(c.Request.Context())
		if p == nil {
			c.String(http.StatusOK, "anon")
			return
		}
		c.String(http.StatusOK, string(p.Role)+":"+uid)
	})
	return r
}

func passThrough(c *gin.Context) { c.Next() }

func TestResolvePrincipal_ReadsBearerBeforeCookie(t *testing.T) {
	var seen auth.Tokens
	r := newRouter(fakeResolver{fn: func(_ context.Context, tk auth.Tokens) (*user.User, error) {
		seen = tk
		return &user.User{ID: "u1", Role: user.RoleOwner}, nil
	}}, passThrough)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	req.AddCookie(&http.Cookie{Name: AccessCookie, Value: "cookie-token"})
	req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: "refresh-token"})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "owner:u1" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
	if seen.Access != "header-token" || seen.CookieAccess != "cookie-token" || seen.Refresh != "refresh-token" {
		t.Fatalf("unexpected tokens: %+v", seen)
	}
}

func TestResolvePrincipal_AnonymousPassesThrough(t *testing.T) {
	r := newRouter(fakeResolver{fn: func(context.Context, auth.Tokens) (*user.User, error) {
		return nil, nil
	}}, passThrough)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	if w.Code != http.StatusOK || w.Body.String() != "anon" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
}

func TestResolvePrincipal_StoreFailureContinuesAnonymous(t *testing.T) {
	failing := fakeResolver{fn: func(context.Context, auth.Tokens) (*user.User, error) {
		return nil, errors.New("db down")
	}}

	tests := []struct {
		name  string
		guard gin.HandlerFunc
		want  int
		body  string
	}{
		{"optional auth route", passThrough, http.StatusOK, "anon"},
		{"protected route", RequireAuth(), http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(failing, tt.guard)

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.AddCookie(&http.Cookie{Name: AccessCookie, Value: "some-token"})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("got %d, want %d body=%s", w.Code, tt.want, w.Body.String())
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Fatalf("got body %q, want %q", w.Body.String(), tt.body)
			}
		})
	}
}

func TestTokensFrom_KeepsCookieBehindHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		header string
		cookie string
		want   auth.Tokens
	}{
		{"cookie only", "", "c1", auth.Tokens{Access: "c1"}},
		{"header only", "Bearer h1", "", auth.Tokens{Access: "h1"}},
		{"both differ", "Bearer h1", "c1", auth.Tokens{Access: "h1", CookieAccess: "c1"}},
		{"both equal", "Bearer same", "same", auth.Tokens{Access: "same"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				c.Request.AddCookie(&http.Cookie{Name: AccessCookie, Value: tt.cookie})
			}

			if got := TokensFrom(c); got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	cases := []struct {
		name string
		p    *user.User
		want int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"driver", &user.User{ID: "d", Role: user.RoleDriver}, http.StatusForbidden},
		{"admin is not implied", &user.User{ID: "a", Role: user.RoleAdmin}, http.StatusForbidden},
		{"owner", &user.User{ID: "o", Role: user.RoleOwner}, http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := tc.p
			r := newRouter(fakeResolver{fn: func(context.Context, auth.Tokens) (*user.User, error) {
				return p, nil
			}}, RequireRole(user.RoleOwner))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

			if w.Code != tc.want {
				t.Fatalf("got %d, want %d body=%s", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestSessionCookies_ProdFlags(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, prod := range []bool{true, false} {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)

		NewSessionCookies(prod, 15*time.Minute, 7*24*time.Hour).Set(c, auth.Pair{Access: "a", Refresh: "r"})

		cookies := w.Result().Cookies()
		if len(cookies) != 2 {
			t.Fatalf("got %d cookies", len(cookies))
		}

		byName := map[string]*http.Cookie{}
		for _, ck := range cookies {
			byName[ck.Name] = ck
		}

		access := byName[AccessCookie]
		refresh := byName[RefreshCookie]
		if access == nil || refresh == nil {
			t.Fatalf("missing cookies: %v", cookies)
		}
		if access.MaxAge != 900 || refresh.MaxAge != 604800 {
			t.Fatalf("max-age %d/%d", access.MaxAge, refresh.MaxAge)
		}
		if !access.HttpOnly || access.Path != "/" {
			t.Fatalf("access cookie flags: %+v", access)
		}

		wantSameSite := http.SameSiteLaxMode
		if prod {
			wantSameSite = http.SameSiteNoneMode
		}
		if access.Secure != prod || access.SameSite != wantSameSite {
			t.Fatalf("prod=%v secure=%v samesite=%v", prod, access.Secure, access.SameSite)
		}
	}
}

func TestSessionCookies_Clear(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	NewSessionCookies(false, time.Minute, time.Hour).Clear(c)

	for _, ck := range w.Result().Cookies() {
		if ck.Value != "" || ck.MaxAge >= 0 {
			t.Fatalf("cookie %s not cleared: %+v", ck.Name, ck)
		}
	}
}

func TestMemoryLimiter_WindowResets(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if ok, _, _ := l.Allow(ctx, "ip"); !ok {
			t.Fatalf("call %d should pass", i)
		}
	}

	ok, retry, _ := l.Allow(ctx, "ip")
	if ok || retry != time.Minute {
		t.Fatalf("third call: ok=%v retry=%s", ok, retry)
	}

	if ok, _, _ := l.Allow(ctx, "other"); !ok {
		t.Fatalf("keys must be independent")
	}

	now = now.Add(time.Minute)
	if ok, _, _ := l.Allow(ctx, "ip"); !ok {
		t.Fatalf("window should have reset")
	}
}

func TestRateLimit_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.POST("/auth/login", RateLimit(NewMemoryLimiter(1, time.Minute), "auth", KeyByIP), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("first call got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second call got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return false, 0, errors.New("redis: connection refused")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", RateLimit(brokenLimiter{}, "auth", KeyByIP), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
}

func TestRequireJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireJSON())
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("form body got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("empty body got %d", w.Code)
	}
}

func TestCORS_OnlyConfiguredOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"https://app.truckmatch.ge/"}))
	r.GET("/jobs", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"allowed simple", http.MethodGet, "https://app.truckmatch.ge", http.StatusOK, "https://app.truckmatch.ge"},
		{"foreign simple", http.MethodGet, "https://evil.example", http.StatusOK, ""},
		{"allowed preflight", http.MethodOptions, "https://app.truckmatch.ge", http.StatusNoContent, "https://app.truckmatch.ge"},
		{"foreign preflight", http.MethodOptions, "https://evil.example", http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/jobs", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("got %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Fatalf("allow-origin = %q, want %q", got, tt.wantAllow)
			}
			if tt.wantAllow != "" && w.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Fatalf("credentials must be allowed for configured origins")
			}
		})
	}
}

func TestMaxBodyBytes_RejectsDeclaredOversize(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), MaxBodyBytes(16))
	r.POST("/jobs", func(c *gin.Context) { c.Status(http.StatusCreated) })

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(strings.Repeat("x", 32)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("got %d, want 413", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"payload_too_large"`) {
		t.Fatalf("missing envelope code: %s", w.Body.String())
	}
}

func TestRequestID_ReplacesUnsafeInboundValue(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(CtxRequestID)) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(requestIDHeader, "trace-abc_123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != "trace-abc_123" {
		t.Fatalf("sane id should be kept, got %q", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(requestIDHeader, "bad id\nwith newline")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Body.String(); got == "" || strings.Contains(got, " ") {
		t.Fatalf("unsafe id should be replaced, got %q", got)
	}
}
