package db

import (
	"context"
	"fmt"
	"time"

	"github.com/geocoder89/truckmatch/internal/config"
	"github.com/geocoder89/truckmatch/internal/domain/user"
	"github.com/geocoder89/truckmatch/internal/security"
	"github.com/google/uuid"
)

type AdminUpserter interface {
	UpsertAdmin(ctx context.Context, u user.User) (user.User, error)
}

// EnsureAdminUser upserts the configured admin at startup. It is a no-op
// unless ADMIN_EMAIL and ADMIN_PASSWORD are both set. An existing account
// with that email is promoted and gets the configured password.
func EnsureAdminUser(ctx context.Context, users AdminUpserter, cfg config.Config) (bool, error) {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return false, nil
	}

	hash, err := security.HashPassword(cfg.AdminPassword)
	if err != nil {
		return false, fmt.Errorf("hash admin password: %w", err)
	}

	var username *string
	if cfg.AdminUsername != "" {
		un := cfg.AdminUsername
		username = &un
	}

	admin := user.New(user.CreateRequest{
		Email:        cfg.AdminEmail,
		Username:     username,
		PasswordHash: hash,
		Name:         cfg.AdminName,
		Role:         user.RoleAdmin,
	}, uuid.NewString(), time.Now().UTC())

	if _, err := users.UpsertAdmin(ctx, admin); err != nil {
		return false, fmt.Errorf("upsert admin: %w", err)
	}
	return true, nil
}
