package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/subscription"
	"github.com/geocoder89/truckmatch/internal/domain/user"
	"github.com/geocoder89/truckmatch/internal/entitlement"
	"github.com/geocoder89/truckmatch/internal/http/middlewares"
	"github.com/geocoder89/truckmatch/internal/utils"
	"github.com/gin-gonic/gin"
)

// Subscriptions is the slice of the entitlement engine the handlers drive.
type Subscriptions interface {
	ActivateForPlan(ctx context.Context, owner *user.User, planName string) (subscription.Subscription, error)
	CreatePending(ctx context.Context, owner *user.User, planName string) (subscription.Subscription, error)
	Cancel(ctx context.Context, owner *user.User, id string) (subscription.Subscription, error)
	Current(ctx context.Context, p *user.User) (*subscription.Subscription, error)
}

type SubscriptionsHandler struct {
	engine Subscriptions
}

func NewSubscriptionsHandler(engine Subscriptions) *SubscriptionsHandler {
	return &SubscriptionsHandler{engine: engine}
}

type PlanRequest struct {
	Plan string `json:"plan" binding:"required"`
}

// GET /subscriptions/plans
func (h *SubscriptionsHandler) Plans(ctx *gin.Context) {
	RespondJSONWithETag(ctx, http.StatusOK, gin.H{"plans": subscription.Plans()})
}

// GET /subscriptions/me
func (h *SubscriptionsHandler) Me(ctx *gin.Context) {
	cctx, cancel := storeCtx(ctx, 2*time.Second)
	defer cancel()

	sub, err := h.engine.Current(cctx, middlewares.PrincipalFromContext(ctx))
	if err != nil {
		RespondInternal(ctx, "Could not load subscription", err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// POST /subscriptions/pay activates the plan immediately; there is no payment provider.
func (h *SubscriptionsHandler) Pay(ctx *gin.Context) {
	var req PlanRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	sub, err := h.engine.ActivateForPlan(cctx, middlewares.PrincipalFromContext(ctx), req.Plan)
	if err != nil {
		respondSubscriptionError(ctx, "Could not activate subscription", err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"subscription": sub})
}

// POST /subscriptions
func (h *SubscriptionsHandler) Create(ctx *gin.Context) {
	var req PlanRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	sub, err := h.engine.CreatePending(cctx, middlewares.PrincipalFromContext(ctx), req.Plan)
	if err != nil {
		respondSubscriptionError(ctx, "Could not create subscription", err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"subscription": sub})
}

// POST /subscriptions/:id/cancel
func (h *SubscriptionsHandler) Cancel(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "Invalid subscription id", nil)
		return
	}

	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	sub, err := h.engine.Cancel(cctx, middlewares.PrincipalFromContext(ctx), id)
	if err != nil {
		respondSubscriptionError(ctx, "Could not cancel subscription", err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"subscription": sub})
}

func respondSubscriptionError(ctx *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, subscription.ErrUnknownPlan):
		RespondBadRequest(ctx, "Unknown plan", gin.H{"plans": subscription.Plans()})
	case errors.Is(err, subscription.ErrInvalidStatus):
		RespondBadRequest(ctx, "Invalid subscription status", nil)
	case errors.Is(err, subscription.ErrNotFound):
		RespondNotFound(ctx, "Subscription not found")
	case errors.Is(err, subscription.ErrInvalidTransition):
		RespondConflict(ctx, "invalid_transition", "Subscription cannot move to that status")
	case errors.Is(err, entitlement.ErrOwnerOnly):
		RespondForbidden(ctx, "Only owners can hold subscriptions")
	default:
		RespondInternal(ctx, message, err)
	}
}
