package auth

import (
	"errors"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/user"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is the only verification failure callers ever see.
var ErrInvalidToken = errors.New("invalid token")

type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Claims carries sub, iat, exp and jti through the embedded registered claims.
type Claims struct {
	Email string    `json:"email"`
	Role  string    `json:"role"`
	Name  string    `json:"name"`
	Kind  TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// Identity is the claim set a session is issued from.
type Identity struct {
	Subject string
	Email   string
	Role    user.Role
	Name    string
}

func IdentityOf(u user.User) Identity {
	return Identity{
		Subject: u.ID,
		Email:   u.Email,
		Role:    u.Role,
		Name:    u.Name,
	}
}

type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewManager(secret string, accessTTL time.Duration, refreshTTL time.Duration) *Manager {
	return &Manager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// WithClock swaps the time source used for iat/exp and for verification.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	cp := *m
	cp.now = now
	return &cp
}

func (m *Manager) AccessTTL() time.Duration  { return m.accessTTL }
func (m *Manager) RefreshTTL() time.Duration { return m.refreshTTL }

// Issue signs an HS256 token for id that expires ttl after now. JWT dates
// carry whole seconds, so now is truncated first and exp - iat is exactly ttl.
func (m *Manager) Issue(id Identity, kind TokenKind, ttl time.Duration) (string, time.Time, error) {
	now := m.now().UTC().Truncate(time.Second)
	iat := jwt.NewNumericDate(now)
	exp := jwt.NewNumericDate(now.Add(ttl))

	claims := Claims{
		Email: id.Email,
		Role:  string(id.Role),
		Name:  id.Name,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			IssuedAt:  iat,
			ExpiresAt: exp,
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return raw, exp.Time, nil
}

func (m *Manager) IssueAccess(id Identity) (string, time.Time, error) {
	return m.Issue(id, KindAccess, m.accessTTL)
}

func (m *Manager) IssueRefresh(id Identity) (string, time.Time, error) {
	return m.Issue(id, KindRefresh, m.refreshTTL)
}

// Verify checks algorithm, signature and expiry. The expiry instant itself is
// already invalid.
func (m *Manager) Verify(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (m *Manager) VerifyAccess(tokenStr string) (*Claims, error) {
	return m.verifyKind(tokenStr, KindAccess)
}

func (m *Manager) VerifyRefresh(tokenStr string) (*Claims, error) {
	return m.verifyKind(tokenStr, KindRefresh)
}

func (m *Manager) verifyKind(tokenStr string, kind TokenKind) (*Claims, error) {
	claims, err := m.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
