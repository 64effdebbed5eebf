package integration_test

import (
	"net/http"
	"testing"
)

func TestAuthIntegration_Register_Login_Refresh_Logout(t *testing.T) {
	e := setup(t)
	e.signup(t, "carrier1", "owner")

	w := e.do(http.MethodPost, "/auth/login", map[string]any{"identifier": "carrier1", "password": "secret123"})
	if w.Code != http.StatusOK {
		t.Fatalf("login got %d body=%s", w.Code, w.Body.String())
	}
	cookies := session(t, w)

	var refreshOnly []*http.Cookie
	for _, c := range cookies {
		if c.Name == "tm_refresh" {
			refreshOnly = append(refreshOnly, c)
		}
	}

	w = e.do(http.MethodPost, "/auth/refresh", nil, refreshOnly...)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh got %d body=%s", w.Code, w.Body.String())
	}
	rotated := session(t, w)

	var me struct {
		User *struct {
			Username string `json:"username"`
			Role     string `json:"role"`
		} `json:"user"`
	}
	w = e.do(http.MethodGet, "/auth/me", nil, rotated...)
	mustReadJSON(t, w, &me)
	if me.User == nil || me.User.Username != "carrier1" || me.User.Role != "owner" {
		t.Fatalf("unexpected /auth/me body=%s", w.Body.String())
	}

	w = e.do(http.MethodPost, "/auth/logout", nil, rotated...)
	if w.Code != http.StatusOK {
		t.Fatalf("logout got %d", w.Code)
	}
	for _, c := range w.Result().Cookies() {
		if c.MaxAge >= 0 {
			t.Fatalf("expected %s to be cleared, got MaxAge=%d", c.Name, c.MaxAge)
		}
	}
}

func TestAuthIntegration_Refresh_MissingCookie(t *testing.T) {
	e := setup(t)

	w := e.do(http.MethodPost, "/auth/refresh", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestAuthIntegration_Login_InvalidCredentials(t *testing.T) {
	e := setup(t)
	e.signup(t, "carrier2", "owner")

	w := e.do(http.MethodPost, "/auth/login", map[string]any{"email": "carrier2@example.com", "password": "nope-nope"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestQuotaIntegration_StarterAllowsTwoJobs(t *testing.T) {
	e := setup(t)
	owner := e.signup(t, "carrier3", "owner")

	w := e.do(http.MethodPost, "/subscriptions/pay", map[string]any{"plan": "starter"}, owner...)
	if w.Code != http.StatusCreated {
		t.Fatalf("pay got %d body=%s", w.Code, w.Body.String())
	}

	for _, title := range []string{"First load", "Second load"} {
		w = e.do(http.MethodPost, "/jobs", jobPayload(title), owner...)
		if w.Code != http.StatusCreated {
			t.Fatalf("create %q got %d body=%s", title, w.Code, w.Body.String())
		}
	}

	w = e.do(http.MethodPost, "/jobs", jobPayload("Third load"), owner...)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on third job, got %d body=%s", w.Code, w.Body.String())
	}

	var count int
	if err := e.pool.QueryRow(t.Context(), `SELECT COUNT(*) FROM jobs`).Scan(&count); err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 stored jobs, got %d", count)
	}
}
