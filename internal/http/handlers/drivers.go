package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/geocoder89/truckmatch/internal/cache"
	"github.com/geocoder89/truckmatch/internal/domain/user"
	"github.com/geocoder89/truckmatch/internal/entitlement"
	"github.com/geocoder89/truckmatch/internal/http/middlewares"
	"github.com/geocoder89/truckmatch/internal/utils"
	"github.com/gin-gonic/gin"
)

const (
	PreviewLimit = 8
	FullLimit    = 200
)

type DriversRepo interface {
	GetByID(ctx context.Context, id string) (user.User, error)
	ListDrivers(ctx context.Context, f user.DriverFilter) ([]user.User, error)
}

type DirectoryGate interface {
	CanViewDriverDirectory(ctx context.Context, p *user.User) (entitlement.Decision, error)
}

type DriversHandler struct {
	repo    DriversRepo
	gate    DirectoryGate
	preview *cache.Cache[[]user.DriverCard]
}

func NewDriversHandler(repo DriversRepo, gate DirectoryGate, preview *cache.Cache[[]user.DriverCard]) *DriversHandler {
	return &DriversHandler{repo: repo, gate: gate, preview: preview}
}

// GET /drivers?q=&category=
func (h *DriversHandler) List(ctx *gin.Context) {
	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	d, err := h.gate.CanViewDriverDirectory(cctx, middlewares.PrincipalFromContext(ctx))
	if err != nil {
		RespondInternal(ctx, "Could not check access", err)
		return
	}
	if !d.Allowed {
		RespondGate(ctx, d)
		return
	}

	f := user.DriverFilter{
		Query:    strings.TrimSpace(ctx.Query("q")),
		Category: strings.TrimSpace(ctx.Query("category")),
		Limit:    FullLimit,
	}

	var cards []user.DriverCard
	if d.Preview {
		f.Limit = PreviewLimit
		cards, err = h.previewCards(cctx, f)
	} else {
		cards, err = h.cards(cctx, f, false)
	}
	if err != nil {
		RespondInternal(ctx, "Could not list drivers", err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"drivers": cards,
		"preview": d.Preview,
		"count":   len(cards),
	})
}

func (h *DriversHandler) previewCards(ctx context.Context, f user.DriverFilter) ([]user.DriverCard, error) {
	if h.preview == nil {
		return h.cards(ctx, f, true)
	}

	key := utils.BuildDriverPreviewCacheKey(f.Query, f.Category, f.Limit)
	return h.preview.GetOrLoad(key, func() ([]user.DriverCard, error) {
		return h.cards(ctx, f, true)
	})
}

func (h *DriversHandler) cards(ctx context.Context, f user.DriverFilter, preview bool) ([]user.DriverCard, error) {
	drivers, err := h.repo.ListDrivers(ctx, f)
	if err != nil {
		return nil, err
	}

	if len(drivers) > f.Limit {
		drivers = drivers[:f.Limit]
	}

	out := make([]user.DriverCard, 0, len(drivers))
	for _, u := range drivers {
		out = append(out, u.DriverCard(preview))
	}
	return out, nil
}

// GET /drivers/:id
func (h *DriversHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		RespondNotFound(ctx, "Driver not found")
		return
	}

	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	d, err := h.gate.CanViewDriverDirectory(cctx, middlewares.PrincipalFromContext(ctx))
	if err != nil {
		RespondInternal(ctx, "Could not check access", err)
		return
	}
	if !d.Allowed || d.Preview {
		RespondGate(ctx, d)
		return
	}

	u, err := h.repo.GetByID(cctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "Driver not found")
			return
		}
		RespondInternal(ctx, "Could not fetch driver", err)
		return
	}
	if u.Role != user.RoleDriver {
		RespondNotFound(ctx, "Driver not found")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"driver": u.DriverCard(false)})
}
