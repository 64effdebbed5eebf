package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/geocoder89/truckmatch/internal/auth"
	"github.com/geocoder89/truckmatch/internal/domain/user"
	"github.com/geocoder89/truckmatch/internal/http/middlewares"
	"github.com/geocoder89/truckmatch/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type AuthUsers interface {
	GetByLogin(ctx context.Context, identifier string) (user.User, error)
	Create(ctx context.Context, u user.User) (user.User, error)
}

type SessionIssuer interface {
	Begin(u user.User) (auth.Pair, error)
	Refresh(ctx context.Context, refreshToken string) (user.User, auth.Pair, error)
}

type AuthRecorder interface {
	ObserveAuth(event, result string)
}

type AuthHandler struct {
	users    AuthUsers
	sessions SessionIssuer
	cookies  *middlewares.SessionCookies
	rec      AuthRecorder
}

func NewAuthHandler(users AuthUsers, sessions SessionIssuer, cookies *middlewares.SessionCookies, rec AuthRecorder) *AuthHandler {
	return &AuthHandler{users: users, sessions: sessions, cookies: cookies, rec: rec}
}

func (h *AuthHandler) observe(event, result string) {
	if h.rec != nil {
		h.rec.ObserveAuth(event, result)
	}
}

// LoginRequest accepts either an email or a username as the identifier.
type LoginRequest struct {
	Email      string `json:"email"`
	Identifier string `json:"identifier"`
	Password   string `json:"password" binding:"required"`
}

func (r LoginRequest) login() string {
	if id := strings.TrimSpace(r.Identifier); id != "" {
		return id
	}
	return strings.TrimSpace(r.Email)
}

type RegisterRequest struct {
	Email           string  `json:"email" binding:"required,email,max=254"`
	Password        string  `json:"password" binding:"required,min=6,max=72"`
	Name            string  `json:"name" binding:"required,notblank,max=120"`
	Role            string  `json:"role" binding:"required,oneof=driver owner"`
	Username        *string `json:"username" binding:"omitempty,min=3,max=40,alphanum"`
	CompanyName     string  `json:"companyName" binding:"max=160"`
	LicenseCategory string  `json:"licenseCategory" binding:"max=20"`
}

// POST /auth/login
func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest
	if !BindJSON(ctx, &req) {
		return
	}

	identifier := req.login()
	if identifier == "" {
		RespondBadRequest(ctx, "Email or identifier is required", nil)
		return
	}

	u, ok := h.authenticate(ctx, identifier, req.Password)
	if !ok {
		return
	}

	h.beginSession(ctx, http.StatusOK, u, "login")
}

// authenticate writes the failure response itself and reports success.
func (h *AuthHandler) authenticate(ctx *gin.Context, identifier, password string) (user.User, bool) {
	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	u, err := h.users.GetByLogin(cctx, identifier)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			h.observe("login", "invalid_credentials")
			RespondUnauthorized(ctx, "Invalid credentials")
			return user.User{}, false
		}
		RespondInternal(ctx, "Could not log in", err)
		return user.User{}, false
	}

	if err := security.CheckPassword(u.PasswordHash, password); err != nil {
		h.observe("login", "invalid_credentials")
		RespondUnauthorized(ctx, "Invalid credentials")
		return user.User{}, false
	}

	return u, true
}

// POST /auth/register
func (h *AuthHandler) Register(ctx *gin.Context) {
	var req RegisterRequest
	if !BindJSON(ctx, &req) {
		return
	}

	role, err := user.ParseRole(req.Role)
	if err != nil || !role.SelfServiceRole() {
		RespondBadRequest(ctx, "Role must be driver or owner", nil)
		return
	}

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooShort) {
			RespondBadRequest(ctx, "Password must be at least 6 characters", nil)
			return
		}
		RespondInternal(ctx, "Could not create user", err)
		return
	}

	u := user.New(user.CreateRequest{
		Email:           req.Email,
		Username:        req.Username,
		PasswordHash:    hash,
		Name:            req.Name,
		Role:            role,
		CompanyName:     req.CompanyName,
		LicenseCategory: req.LicenseCategory,
	}, uuid.NewString(), time.Now().UTC())

	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	created, err := h.users.Create(cctx, u)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrEmailTaken):
			h.observe("register", "conflict")
			RespondConflict(ctx, "email_taken", "An account with this email already exists")
		case errors.Is(err, user.ErrUsernameTaken):
			h.observe("register", "conflict")
			RespondConflict(ctx, "username_taken", "This username is already taken")
		default:
			RespondInternal(ctx, "Could not create user", err)
		}
		return
	}

	h.beginSession(ctx, http.StatusCreated, created, "register")
}

func (h *AuthHandler) beginSession(ctx *gin.Context, status int, u user.User, event string) {
	pair, err := h.sessions.Begin(u)
	if err != nil {
		RespondInternal(ctx, "Could not start session", err)
		return
	}

	h.cookies.Set(ctx, pair)
	h.observe(event, "ok")
	ctx.JSON(status, gin.H{"user": u.Public()})
}

// POST /auth/refresh
func (h *AuthHandler) Refresh(ctx *gin.Context) {
	token := middlewares.TokensFrom(ctx).Refresh

	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	u, pair, err := h.sessions.Refresh(cctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			h.observe("refresh", "unauthenticated")
			RespondUnauthorized(ctx, "Session expired, please log in again")
			return
		}
		RespondInternal(ctx, "Could not refresh session", err)
		return
	}

	h.cookies.Set(ctx, pair)
	h.observe("refresh", "ok")
	ctx.JSON(http.StatusOK, gin.H{"user": u.Public()})
}

// GET /auth/me never fails; an anonymous caller gets a null user.
func (h *AuthHandler) Me(ctx *gin.Context) {
	p := middlewares.PrincipalFromContext(ctx)
	if p == nil {
		ctx.JSON(http.StatusOK, gin.H{"user": nil})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"user": p.Public()})
}

// POST /auth/logout
func (h *AuthHandler) Logout(ctx *gin.Context) {
	h.cookies.Clear(ctx)
	h.observe("logout", "ok")
	ctx.JSON(http.StatusOK, gin.H{"ok": true})
}
