package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/geocoder89/truckmatch/internal/cache"
	"github.com/geocoder89/truckmatch/internal/domain/job"
	"github.com/geocoder89/truckmatch/internal/domain/subscription"
	"github.com/geocoder89/truckmatch/internal/domain/user"
	"github.com/geocoder89/truckmatch/internal/http/middlewares"
	"github.com/geocoder89/truckmatch/internal/security"
	"github.com/geocoder89/truckmatch/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type AdminUsersRepo interface {
	GetByID(ctx context.Context, id string) (user.User, error)
	Update(ctx context.Context, u user.User) (user.User, error)
	UpsertAdmin(ctx context.Context, u user.User) (user.User, error)
	SetPassword(ctx context.Context, id, hash string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f user.ListFilter) ([]user.User, error)
	CountByRole(ctx context.Context) (map[user.Role]int, error)
}

type AdminSubscriptionsRepo interface {
	List(ctx context.Context, f subscription.ListFilter) ([]subscription.WithUser, error)
	CountByStatus(ctx context.Context) (map[subscription.Status]int, error)
}

type AdminJobsRepo interface {
	List(ctx context.Context, f job.ListFilter) ([]job.Job, error)
	Count(ctx context.Context) (int, error)
}

type SubscriptionStatusSetter interface {
	SetStatus(ctx context.Context, id string, status string) (subscription.Subscription, error)
}

// AdminStats is the dashboard payload.
type AdminStats struct {
	Users         map[user.Role]int           `json:"users"`
	Subscriptions map[subscription.Status]int `json:"subscriptions"`
	Jobs          int                         `json:"jobs"`
	LatestUsers   []user.User                 `json:"latestUsers"`
	LatestJobs    []job.Job                   `json:"latestJobs"`
}

type AdminHandler struct {
	users          AdminUsersRepo
	subs           AdminSubscriptionsRepo
	jobs           AdminJobsRepo
	status         SubscriptionStatusSetter
	auth           *AuthHandler
	bootstrapToken string
	stats          *cache.Cache[AdminStats]
}

func NewAdminHandler(
	users AdminUsersRepo,
	subs AdminSubscriptionsRepo,
	jobs AdminJobsRepo,
	status SubscriptionStatusSetter,
	auth *AuthHandler,
	bootstrapToken string,
	stats *cache.Cache[AdminStats],
) *AdminHandler {
	return &AdminHandler{
		users:          users,
		subs:           subs,
		jobs:           jobs,
		status:         status,
		auth:           auth,
		bootstrapToken: bootstrapToken,
		stats:          stats,
	}
}

func (h *AdminHandler) invalidateStats() {
	if h.stats != nil {
		h.stats.Delete(utils.AdminStatsCacheKey)
	}
}

type BootstrapRequest struct {
	Email    string  `json:"email" binding:"required,email,max=254"`
	Username *string `json:"username" binding:"omitempty,min=3,max=40,alphanum"`
	Password string  `json:"password" binding:"required,min=6,max=72"`
	Name     string  `json:"name" binding:"max=120"`
}

// POST /admin/bootstrap creates or promotes the admin account.
func (h *AdminHandler) Bootstrap(ctx *gin.Context) {
	if h.bootstrapToken == "" {
		RespondError(ctx, http.StatusInternalServerError, "bootstrap_disabled", "Admin bootstrap is not configured", nil)
		return
	}

	got := ctx.GetHeader("X-Admin-Bootstrap-Token")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.bootstrapToken)) != 1 {
		RespondUnauthorized(ctx, "Invalid bootstrap token")
		return
	}

	var req BootstrapRequest
	if !BindJSON(ctx, &req) {
		return
	}

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		RespondInternal(ctx, "Could not bootstrap admin", err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Administrator"
	}

	admin := user.New(user.CreateRequest{
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: hash,
		Name:         name,
		Role:         user.RoleAdmin,
	}, uuid.NewString(), time.Now().UTC())

	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	saved, err := h.users.UpsertAdmin(cctx, admin)
	if err != nil {
		if errors.Is(err, user.ErrUsernameTaken) {
			RespondConflict(ctx, "username_taken", "This username is already taken")
			return
		}
		RespondInternal(ctx, "Could not bootstrap admin", err)
		return
	}

	h.invalidateStats()
	ctx.JSON(http.StatusOK, gin.H{"user": saved.Public()})
}

// POST /admin/login only starts a session for admin accounts.
func (h *AdminHandler) Login(ctx *gin.Context) {
	var req LoginRequest
	if !BindJSON(ctx, &req) {
		return
	}

	identifier := req.login()
	if identifier == "" {
		RespondBadRequest(ctx, "Username or email is required", nil)
		return
	}

	u, ok := h.auth.authenticate(ctx, identifier, req.Password)
	if !ok {
		return
	}
	if u.Role != user.RoleAdmin {
		h.auth.observe("admin_login", "forbidden")
		RespondForbidden(ctx, "Admin access required")
		return
	}

	h.auth.beginSession(ctx, http.StatusOK, u, "admin_login")
}

// GET /admin/stats
func (h *AdminHandler) Stats(ctx *gin.Context) {
	cctx, cancel := storeCtx(ctx, 5*time.Second)
	defer cancel()

	load := func() (AdminStats, error) { return h.loadStats(cctx) }

	var (
		stats AdminStats
		err   error
	)
	if h.stats != nil {
		stats, err = h.stats.GetOrLoad(utils.AdminStatsCacheKey, load)
	} else {
		stats, err = load()
	}
	if err != nil {
		RespondInternal(ctx, "Could not load stats", err)
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, stats)
}

func (h *AdminHandler) loadStats(ctx context.Context) (AdminStats, error) {
	var (
		s   AdminStats
		err error
	)

	if s.Users, err = h.users.CountByRole(ctx); err != nil {
		return AdminStats{}, err
	}
	if s.Subscriptions, err = h.subs.CountByStatus(ctx); err != nil {
		return AdminStats{}, err
	}
	if s.Jobs, err = h.jobs.Count(ctx); err != nil {
		return AdminStats{}, err
	}
	if s.LatestUsers, err = h.users.List(ctx, user.ListFilter{Limit: 5}); err != nil {
		return AdminStats{}, err
	}
	if s.LatestJobs, err = h.jobs.List(ctx, job.ListFilter{Limit: 5}); err != nil {
		return AdminStats{}, err
	}
	if len(s.LatestJobs) > 5 {
		s.LatestJobs = s.LatestJobs[:5]
	}

	return s, nil
}

// GET /admin/users?q=&role=
func (h *AdminHandler) ListUsers(ctx *gin.Context) {
	f := user.ListFilter{
		Query: strings.TrimSpace(ctx.Query("q")),
		Limit: parseIntDefault(ctx.Query("limit"), 200),
	}

	if raw := ctx.Query("role"); raw != "" {
		r, err := user.ParseRole(raw)
		if err != nil {
			RespondBadRequest(ctx, "Invalid role filter", nil)
			return
		}
		f.Role = &r
	}

	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	items, err := h.users.List(cctx, f)
	if err != nil {
		RespondInternal(ctx, "Could not list users", err)
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{"users": items, "count": len(items)})
}

// PATCH /admin/users/:id
func (h *AdminHandler) UpdateUser(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		RespondNotFound(ctx, "User not found")
		return
	}

	var req user.AdminUpdate
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	u, err := h.users.GetByID(cctx, id)
	if err != nil {
		respondUserError(ctx, "Could not update user", err)
		return
	}

	if err := req.Apply(&u, time.Now().UTC()); err != nil {
		RespondBadRequest(ctx, "Invalid role", nil)
		return
	}

	updated, err := h.users.Update(cctx, u)
	if err != nil {
		respondUserError(ctx, "Could not update user", err)
		return
	}

	h.invalidateStats()
	ctx.JSON(http.StatusOK, gin.H{"user": updated})
}

type ResetPasswordRequest struct {
	Password string `json:"password" binding:"required,min=6,max=72"`
}

// POST /admin/users/:id/reset-password
func (h *AdminHandler) ResetPassword(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		RespondNotFound(ctx, "User not found")
		return
	}

	var req ResetPasswordRequest
	if !BindJSON(ctx, &req) {
		return
	}

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooShort) {
			RespondBadRequest(ctx, "Password must be at least 6 characters", nil)
			return
		}
		RespondInternal(ctx, "Could not reset password", err)
		return
	}

	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	if err := h.users.SetPassword(cctx, id, hash); err != nil {
		respondUserError(ctx, "Could not reset password", err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"ok": true})
}

// DELETE /admin/users/:id removes the user with their subscriptions; their jobs stay ownerless.
func (h *AdminHandler) DeleteUser(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		RespondNotFound(ctx, "User not found")
		return
	}

	if p := middlewares.PrincipalFromContext(ctx); p != nil && p.ID == id {
		RespondConflict(ctx, "cannot_delete_self", "Admins cannot delete their own account")
		return
	}

	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	if err := h.users.Delete(cctx, id); err != nil {
		respondUserError(ctx, "Could not delete user", err)
		return
	}

	h.invalidateStats()
	ctx.Status(http.StatusNoContent)
}

func respondUserError(ctx *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, user.ErrNotFound):
		RespondNotFound(ctx, "User not found")
	case errors.Is(err, user.ErrEmailTaken):
		RespondConflict(ctx, "email_taken", "An account with this email already exists")
	case errors.Is(err, user.ErrUsernameTaken):
		RespondConflict(ctx, "username_taken", "This username is already taken")
	default:
		RespondInternal(ctx, message, err)
	}
}

// GET /admin/subscriptions?status=
func (h *AdminHandler) ListSubscriptions(ctx *gin.Context) {
	f := subscription.ListFilter{Limit: parseIntDefault(ctx.Query("limit"), 200)}

	if raw := ctx.Query("status"); raw != "" {
		st, err := subscription.ParseStatus(raw)
		if err != nil {
			RespondBadRequest(ctx, "Invalid status filter", nil)
			return
		}
		f.Status = &st
	}

	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	items, err := h.subs.List(cctx, f)
	if err != nil {
		RespondInternal(ctx, "Could not list subscriptions", err)
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{"subscriptions": items, "count": len(items)})
}

type SubscriptionStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active expired cancelled"`
}

// PATCH /admin/subscriptions/:id
func (h *AdminHandler) UpdateSubscription(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		RespondNotFound(ctx, "Subscription not found")
		return
	}

	var req SubscriptionStatusRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	sub, err := h.status.SetStatus(cctx, id, req.Status)
	if err != nil {
		respondSubscriptionError(ctx, "Could not update subscription", err)
		return
	}

	h.invalidateStats()
	ctx.JSON(http.StatusOK, gin.H{"subscription": sub})
}
