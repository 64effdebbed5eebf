package auth

import (
	"errors"

	"github.com/geocoder89/truckmatch/internal/domain/user"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Requirement is either "any authenticated principal" (no roles) or an
// explicit set of allowed roles. There is no role hierarchy.
type Requirement struct {
	roles []user.Role
}

func AnyAuthenticated() Requirement {
	return Requirement{}
}

func Roles(roles ...user.Role) Requirement {
	return Requirement{roles: append([]user.Role(nil), roles...)}
}

func (r Requirement) Roles() []user.Role {
	return r.roles
}

// Authorize returns nil, ErrUnauthenticated or ErrForbidden.
func Authorize(p *user.User, req Requirement) error {
	if p == nil {
		return ErrUnauthenticated
	}

	switch p.Role {
	case user.RoleDriver, user.RoleOwner, user.RoleAdmin:
	default:
		return ErrForbidden
	}

	if len(req.roles) == 0 {
		return nil
	}

	for _, r := range req.roles {
		if p.Role == r {
			return nil
		}
	}

	return ErrForbidden
}
