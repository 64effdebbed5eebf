package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/truckmatch/internal/entitlement"
	"github.com/geocoder89/truckmatch/internal/http/middlewares"
	"github.com/geocoder89/truckmatch/internal/observability"
	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Gate      string      `json:"gate,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	if s := ctx.GetString(middlewares.CtxRequestID); s != "" {
		return s
	}
	return ctx.GetHeader("X-Request-Id")
}

// storeCtx bounds a store call by d while keeping the request's trace and actor.
func storeCtx(ctx *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), d)
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondUnauthorized(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusUnauthorized, "unauthorized", message, nil)
}

func RespondForbidden(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusForbidden, "forbidden", message, nil)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, nil)
}

func RespondConflict(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusConflict, code, message, nil)
}

// RespondInternal logs the cause with the request id and returns a generic message.
func RespondInternal(ctx *gin.Context, message string, err error) {
	slog.ErrorContext(ctx.Request.Context(), message,
		"request_id", requestIDFrom(ctx),
		"route", ctx.FullPath(),
		observability.Err(err),
	)
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

var gateErrors = map[entitlement.Gate]struct {
	code    string
	message string
}{
	entitlement.GateDriver:         {"driver_forbidden", "Drivers cannot access this resource"},
	entitlement.GateNoSubscription: {"subscription_required", "An active subscription is required"},
	entitlement.GateQuotaExceeded:  {"quota_exceeded", "Your plan's job limit has been reached"},
}

// RespondGate writes a 403 carrying the machine-readable gate.
func RespondGate(ctx *gin.Context, d entitlement.Decision) {
	ge, ok := gateErrors[d.Gate]
	if !ok {
		ge.code, ge.message = "forbidden", "You do not have access to this resource"
	}

	var details interface{}
	if d.Gate == entitlement.GateQuotaExceeded && d.Subscription != nil {
		details = gin.H{"jobLimit": d.Subscription.JobLimit, "jobsUsed": d.JobsUsed}
	}

	ctx.JSON(http.StatusForbidden, gin.H{
		"error": APIError{
			Code:      ge.code,
			Message:   ge.message,
			RequestID: requestIDFrom(ctx),
			Gate:      string(d.Gate),
			Details:   details,
		},
	})
}
