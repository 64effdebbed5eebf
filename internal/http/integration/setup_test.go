package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/geocoder89/truckmatch/internal/auth"
	"github.com/geocoder89/truckmatch/internal/config"
	"github.com/geocoder89/truckmatch/internal/db"
	"github.com/geocoder89/truckmatch/internal/entitlement"
	apphttp "github.com/geocoder89/truckmatch/internal/http"
	"github.com/geocoder89/truckmatch/internal/http/handlers"
	"github.com/geocoder89/truckmatch/internal/http/middlewares"
	"github.com/geocoder89/truckmatch/internal/observability"
	"github.com/geocoder89/truckmatch/internal/repo/postgres"
	"github.com/geocoder89/truckmatch/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"
)

type env struct {
	router *gin.Engine
	pool   *pgxpool.Pool
	prom   *observability.Prom
}

// setup needs a disposable database in TEST_DB_DSN; every test truncates it.
func setup(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	security.Cost = bcrypt.MinCost

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}

	pool, err := db.NewPool(dsn)
	if err != nil {
		t.Fatalf("failed to create pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.Migrate(pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	resetDB(t, pool)

	cfg := config.Config{
		Env:                 "test",
		Storage:             config.StorageBackendPostgres,
		JWTSecret:           "test-secret-key",
		JWTAccessTTLMinutes: 60,
		JWTRefreshTTLDays:   7,
		AuthRateLimit:       1000,
		AuthRateWindow:      time.Minute,
	}

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	users := postgres.NewUsersRepo(pool, prom)
	subs := postgres.NewSubscriptionsRepo(pool, prom)
	jobs := postgres.NewFreightJobsRepo(pool, prom)

	router := apphttp.NewRouter(slog.New(slog.NewTextHandler(io.Discard, nil)), apphttp.Deps{
		Config:        cfg,
		Users:         users,
		Subscriptions: subs,
		Jobs:          jobs,
		Tasks:         postgres.NewTasksRepo(pool, prom),
		Engine:        entitlement.NewEngine(subs, jobs),
		Sessions:      auth.NewSessions(auth.NewManager(cfg.JWTSecret, cfg.AccessTTL(), cfg.RefreshTTL()), users),
		Prom:          prom,
		Gatherer:      reg,
		Checks:        map[string]handlers.Pinger{"postgres": pool.Ping},
	})

	return &env{router: router, pool: pool, prom: prom}
}

func resetDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	_, err := pool.Exec(context.Background(), `
		TRUNCATE notification_deliveries, tasks, jobs, subscriptions, users
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

func (e *env) do(method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var buf io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func mustReadJSON[T any](t *testing.T, w *httptest.ResponseRecorder, out *T) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode body: %v body=%s", err, w.Body.String())
	}
}

func session(t *testing.T, w *httptest.ResponseRecorder) []*http.Cookie {
	t.Helper()
	var out []*http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == middlewares.AccessCookie || c.Name == middlewares.RefreshCookie {
			out = append(out, c)
		}
	}
	if len(out) != 2 {
		t.Fatalf("expected both session cookies, got %d", len(out))
	}
	return out
}

func (e *env) signup(t *testing.T, username, role string) []*http.Cookie {
	t.Helper()
	w := e.do(http.MethodPost, "/auth/register", map[string]any{
		"email":    username + "@example.com",
		"username": username,
		"password": "secret123",
		"name":     "User " + username,
		"role":     role,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s got %d body=%s", username, w.Code, w.Body.String())
	}
	return session(t, w)
}

func jobPayload(title string) map[string]any {
	return map[string]any{
		"title": title,
		"route": "Poti - Yerevan",
		"price": "1200 USD",
		"type":  "tent",
		"date":  "2026-11-02",
		"phone": "+995599112233",
	}
}
