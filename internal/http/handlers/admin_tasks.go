package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/task"
	"github.com/geocoder89/truckmatch/internal/http/middlewares"
	"github.com/geocoder89/truckmatch/internal/utils"
	"github.com/gin-gonic/gin"
)

type AdminTasksRepo interface {
	ListCursor(
		ctx context.Context,
		status *task.Status,
		limit int,
		after utils.TaskCursor,
	) (items []task.Task, nextCursor *string, hasMore bool, err error)
	GetByID(ctx context.Context, id string) (task.Task, error)
	Retry(ctx context.Context, id string) error
	RetryManyFailed(ctx context.Context, limit int) (int64, error)
}

type AdminTasksHandler struct {
	repo AdminTasksRepo
}

func NewAdminTasksHandler(repo AdminTasksRepo) *AdminTasksHandler {
	return &AdminTasksHandler{repo: repo}
}

// GET /admin/tasks?status=failed&limit=20&cursor=
func (h *AdminTasksHandler) List(ctx *gin.Context) {
	limit := parseIntDefault(ctx.Query("limit"), 20)
	if limit < 1 || limit > 100 {
		RespondBadRequest(ctx, "limit must be between 1 and 100", nil)
		return
	}

	var statusPtr *task.Status
	if s := ctx.Query("status"); s != "" {
		st := task.Status(s)
		switch st {
		case task.StatusPending, task.StatusProcessing, task.StatusDone, task.StatusFailed:
			statusPtr = &st
		default:
			RespondBadRequest(ctx, "Invalid status filter", nil)
			return
		}
	}

	after := utils.FirstPage()
	if cursor := ctx.Query("cursor"); cursor != "" {
		cur, err := utils.DecodeTaskCursor(cursor)
		if err != nil {
			RespondBadRequest(ctx, "cursor is invalid", nil)
			return
		}
		after = cur
	}

	cctx, cancel := storeCtx(ctx, 2*time.Second)
	defer cancel()

	items, next, hasMore, err := h.repo.ListCursor(cctx, statusPtr, limit, after)
	if err != nil {
		RespondInternal(ctx, "Could not list tasks", err)
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"limit":      limit,
		"count":      len(items),
		"items":      items,
		"hasMore":    hasMore,
		"nextCursor": next,
	})
}

// GET /admin/tasks/:id
func (h *AdminTasksHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")
	ctx.Set(middlewares.CtxTaskID, id)

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid task id", nil)
		return
	}

	cctx, cancel := storeCtx(ctx, 2*time.Second)
	defer cancel()

	t, err := h.repo.GetByID(cctx, id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			RespondNotFound(ctx, "Task not found")
			return
		}
		RespondInternal(ctx, "Could not fetch task", err)
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, t)
}

// POST /admin/tasks/:id/retry
func (h *AdminTasksHandler) Retry(ctx *gin.Context) {
	id := ctx.Param("id")
	ctx.Set(middlewares.CtxTaskID, id)

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid task id", nil)
		return
	}

	cctx, cancel := storeCtx(ctx, 2*time.Second)
	defer cancel()

	if err := h.repo.Retry(cctx, id); err != nil {
		switch {
		case errors.Is(err, task.ErrNotFound):
			RespondNotFound(ctx, "Task not found")
		case errors.Is(err, task.ErrNotFailed):
			RespondConflict(ctx, "task_not_failed", "Only failed tasks can be retried")
		default:
			RespondInternal(ctx, "Could not retry task", err)
		}
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"taskId": id,
		"status": task.StatusPending,
	})
}

// POST /admin/tasks/reprocess-failed?limit=50
func (h *AdminTasksHandler) ReprocessFailed(ctx *gin.Context) {
	limit := 50
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			RespondBadRequest(ctx, "limit must be a positive number", nil)
			return
		}
		limit = n
	}

	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	n, err := h.repo.RetryManyFailed(cctx, limit)
	if err != nil {
		RespondInternal(ctx, "Could not reprocess failed tasks", err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"requeued": n})
}
