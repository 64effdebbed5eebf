package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/user"
	"github.com/geocoder89/truckmatch/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type ProfileRepo interface {
	GetByID(ctx context.Context, id string) (user.User, error)
	Update(ctx context.Context, u user.User) (user.User, error)
}

type UsersHandler struct {
	repo ProfileRepo
}

func NewUsersHandler(repo ProfileRepo) *UsersHandler {
	return &UsersHandler{repo: repo}
}

// GET /users/me returns the full profile, including driver fields.
func (h *UsersHandler) Me(ctx *gin.Context) {
	p := middlewares.PrincipalFromContext(ctx)
	ctx.JSON(http.StatusOK, gin.H{"user": p})
}

// PATCH /users/me
func (h *UsersHandler) UpdateMe(ctx *gin.Context) {
	p := middlewares.PrincipalFromContext(ctx)

	var req user.ProfileUpdate
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	current, err := h.repo.GetByID(cctx, p.ID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondUnauthorized(ctx, "Session user no longer exists")
			return
		}
		RespondInternal(ctx, "Could not load profile", err)
		return
	}

	req.Apply(&current, time.Now().UTC())

	updated, err := h.repo.Update(cctx, current)
	if err != nil {
		RespondInternal(ctx, "Could not update profile", err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"user": updated})
}
