package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/geocoder89/truckmatch/internal/auth"
	"github.com/geocoder89/truckmatch/internal/domain/user"
	"github.com/geocoder89/truckmatch/internal/http/handlers"
	"github.com/geocoder89/truckmatch/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type downResolver struct{}

func (downResolver) Resolve(context.Context, auth.Tokens) (*user.User, error) {
	return nil, errors.New("db down")
}

func sessionRouterWithDownStore() *gin.Engine {
	gin.SetMode(gin.TestMode)

	cookies := middlewares.NewSessionCookies(false, 15*time.Minute, 7*24*time.Hour)
	h := handlers.NewAuthHandler(nil, nil, cookies, nil)

	r := gin.New()
	r.Use(middlewares.RequestID(), middlewares.ResolvePrincipal(downResolver{}))
	r.GET("/auth/me", h.Me)
	r.POST("/auth/logout", h.Logout)
	return r
}

func withSessionCookies(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: middlewares.AccessCookie, Value: "access"})
	req.AddCookie(&http.Cookie{Name: middlewares.RefreshCookie, Value: "refresh"})
	return req
}

func TestMe_StoreFailureAnswersAnonymous(t *testing.T) {
	r := sessionRouterWithDownStore()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, withSessionCookies(httptest.NewRequest(http.MethodGet, "/auth/me", nil)))

	if w.Code != http.StatusOK {
		t.Fatalf("got %d, want 200 body=%s", w.Code, w.Body.String())
	}
	if w.Body.String() != `{"user":null}` {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestLogout_StoreFailureStillClearsCookies(t *testing.T) {
	r := sessionRouterWithDownStore()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, withSessionCookies(httptest.NewRequest(http.MethodPost, "/auth/logout", nil)))

	if w.Code != http.StatusOK {
		t.Fatalf("got %d, want 200 body=%s", w.Code, w.Body.String())
	}

	cleared := map[string]bool{}
	for _, c := range w.Result().Cookies() {
		if c.MaxAge < 0 && c.Value == "" {
			cleared[c.Name] = true
		}
	}
	if !cleared[middlewares.AccessCookie] || !cleared[middlewares.RefreshCookie] {
		t.Fatalf("both session cookies must be cleared, got %v", w.Result().Cookies())
	}
}
