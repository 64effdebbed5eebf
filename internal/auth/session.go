package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/user"
)

// UserLookup is the only persistence the session layer needs.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (user.User, error)
}

// Tokens are the inbound credential slots. CookieAccess holds the access
// cookie when a Bearer header already filled Access.
type Tokens struct {
	Access       string
	CookieAccess string
	Refresh      string
}

type Pair struct {
	Access           string
	AccessExpiresAt  time.Time
	Refresh          string
	RefreshExpiresAt time.Time
}

type Sessions struct {
	tokens *Manager
	users  UserLookup
}

func NewSessions(tokens *Manager, users UserLookup) *Sessions {
	return &Sessions{tokens: tokens, users: users}
}

// Resolve returns the principal for the inbound tokens, trying the access
// candidates first and then the refresh slot. A nil principal means
// unauthenticated; the error is reserved for store failures.
func (s *Sessions) Resolve(ctx context.Context, t Tokens) (*user.User, error) {
	for _, raw := range []string{t.Access, t.CookieAccess} {
		if raw == "" {
			continue
		}
		u, err := s.principal(ctx, raw, KindAccess)
		if err != nil || u != nil {
			return u, err
		}
	}

	if t.Refresh != "" {
		return s.principal(ctx, t.Refresh, KindRefresh)
	}

	return nil, nil
}

// Begin issues both credentials from the same claim set.
func (s *Sessions) Begin(u user.User) (Pair, error) {
	id := IdentityOf(u)

	access, accessExp, err := s.tokens.IssueAccess(id)
	if err != nil {
		return Pair{}, fmt.Errorf("issue access token: %w", err)
	}

	refresh, refreshExp, err := s.tokens.IssueRefresh(id)
	if err != nil {
		return Pair{}, fmt.Errorf("issue refresh token: %w", err)
	}

	return Pair{
		Access:           access,
		AccessExpiresAt:  accessExp,
		Refresh:          refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Refresh re-resolves the refresh token's subject and reissues both tokens,
// which slides the refresh window forward.
func (s *Sessions) Refresh(ctx context.Context, refreshToken string) (user.User, Pair, error) {
	if refreshToken == "" {
		return user.User{}, Pair{}, ErrUnauthenticated
	}

	u, err := s.principal(ctx, refreshToken, KindRefresh)
	if err != nil {
		return user.User{}, Pair{}, err
	}
	if u == nil {
		return user.User{}, Pair{}, ErrUnauthenticated
	}

	pair, err := s.Begin(*u)
	if err != nil {
		return user.User{}, Pair{}, err
	}

	return *u, pair, nil
}

func (s *Sessions) principal(ctx context.Context, raw string, kind TokenKind) (*user.User, error) {
	claims, err := s.tokens.verifyKind(raw, kind)
	if err != nil {
		return nil, nil
	}

	u, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve principal: %w", err)
	}

	return &u, nil
}
