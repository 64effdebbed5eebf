package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/user"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test_secret_key_1234567890"

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(clock *fakeClock) *Manager {
	return NewManager(testSecret, 15*time.Minute, 7*24*time.Hour).WithClock(clock.Now)
}

func testIdentity() Identity {
	return Identity{Subject: "user-1", Email: "o1@example.com", Role: user.RoleOwner, Name: "Owner One"}
}

func TestManager_IssueVerify_RoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
	m := newTestManager(clock)

	tests := []struct {
		name string
		kind TokenKind
		ttl  time.Duration
	}{
		{name: "access", kind: KindAccess, ttl: m.AccessTTL()},
		{name: "refresh", kind: KindRefresh, ttl: m.RefreshTTL()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, exp, err := m.Issue(testIdentity(), tt.kind, tt.ttl)
			require.NoError(t, err)
			assert.True(t, clock.t.Add(tt.ttl).Equal(exp), "exp = iat + ttl")

			claims, err := m.Verify(raw)
			require.NoError(t, err)
			assert.Equal(t, "user-1", claims.Subject)
			assert.Equal(t, "o1@example.com", claims.Email)
			assert.Equal(t, string(user.RoleOwner), claims.Role)
			assert.Equal(t, "Owner One", claims.Name)
			assert.Equal(t, tt.kind, claims.Kind)
			assert.NotEmpty(t, claims.ID)
			assert.True(t, clock.t.Equal(claims.IssuedAt.Time))
		})
	}
}

func TestManager_Verify_ExpiryIsExclusive(t *testing.T) {
	start := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: start}
	m := newTestManager(clock)

	raw, exp, err := m.IssueAccess(testIdentity())
	require.NoError(t, err)

	clock.t = exp.Add(-time.Second)
	_, err = m.Verify(raw)
	require.NoError(t, err, "one second before expiry must be valid")

	clock.t = exp
	_, err = m.Verify(raw)
	require.ErrorIs(t, err, ErrInvalidToken, "expiry instant must be invalid")

	clock.t = exp.Add(time.Second)
	_, err = m.Verify(raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_Verify_InvalidTokensCollapse(t *testing.T) {
	clock := &fakeClock{t: time.Now().UTC().Truncate(time.Second)}
	m := newTestManager(clock)

	valid, _, err := m.IssueAccess(testIdentity())
	require.NoError(t, err)

	other := NewManager("another_secret", time.Minute, time.Hour).WithClock(clock.Now)
	foreign, _, err := other.IssueAccess(testIdentity())
	require.NoError(t, err)

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Kind: KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Hour)),
		},
	})
	wrongAlg, err := hs512.SignedString([]byte(testSecret))
	require.NoError(t, err)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Kind:             KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	})
	missingExp, err := noExp.SignedString([]byte(testSecret))
	require.NoError(t, err)

	parts := strings.Split(valid, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "malformed", token: "invalid.token.here"},
		{name: "wrong secret", token: foreign},
		{name: "wrong algorithm", token: wrongAlg},
		{name: "missing expiry", token: missingExp},
		{name: "tampered payload", token: tampered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := m.Verify(tt.token)
			assert.Nil(t, claims)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestManager_VerifyKind(t *testing.T) {
	clock := &fakeClock{t: time.Now().UTC()}
	m := newTestManager(clock)

	access, _, err := m.IssueAccess(testIdentity())
	require.NoError(t, err)
	refresh, _, err := m.IssueRefresh(testIdentity())
	require.NoError(t, err)

	_, err = m.VerifyAccess(access)
	require.NoError(t, err)
	_, err = m.VerifyRefresh(refresh)
	require.NoError(t, err)

	_, err = m.VerifyAccess(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = m.VerifyRefresh(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_SameSecondTokensDiffer(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
	m := newTestManager(clock)

	a, _, err := m.IssueRefresh(testIdentity())
	require.NoError(t, err)
	b, _, err := m.IssueRefresh(testIdentity())
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestManager_Issue_SubSecondClockKeepsFullTTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 10, 9, 0, 0, 900_000_000, time.UTC)}
	m := newTestManager(clock)
	issuedAt := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	raw, exp, err := m.IssueAccess(testIdentity())
	require.NoError(t, err)
	assert.True(t, issuedAt.Add(m.AccessTTL()).Equal(exp), "exp = %s", exp)

	claims, err := m.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, m.AccessTTL(), claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time))

	clock.t = exp.Add(-time.Millisecond)
	_, err = m.Verify(raw)
	require.NoError(t, err, "valid just before exp")

	clock.t = exp
	_, err = m.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken, "invalid at exp")
}
