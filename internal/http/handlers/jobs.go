package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/job"
	"github.com/geocoder89/truckmatch/internal/domain/task"
	"github.com/geocoder89/truckmatch/internal/domain/user"
	"github.com/geocoder89/truckmatch/internal/entitlement"
	"github.com/geocoder89/truckmatch/internal/http/middlewares"
	"github.com/geocoder89/truckmatch/internal/tasks"
	"github.com/geocoder89/truckmatch/internal/utils"
	"github.com/gin-gonic/gin"
)

type JobsRepo interface {
	GetByID(ctx context.Context, id string) (job.Job, error)
	List(ctx context.Context, f job.ListFilter) ([]job.Job, error)
	ListByOwner(ctx context.Context, ownerID string) ([]job.Job, error)
}

type JobPoster interface {
	PostJob(ctx context.Context, owner *user.User, req job.CreateRequest) (job.Job, entitlement.Decision, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id string) (user.User, error)
}

type TaskEnqueuer interface {
	Enqueue(ctx context.Context, req task.CreateRequest) (task.Task, error)
}

type JobsHandler struct {
	repo   JobsRepo
	poster JobPoster
	users  UserLookup
	tasks  TaskEnqueuer
}

func NewJobsHandler(repo JobsRepo, poster JobPoster, users UserLookup, tasks TaskEnqueuer) *JobsHandler {
	return &JobsHandler{repo: repo, poster: poster, users: users, tasks: tasks}
}

// GET /jobs?q=&type=
// Anonymous callers get a short preview without contact phones.
func (h *JobsHandler) List(ctx *gin.Context) {
	preview := middlewares.PrincipalFromContext(ctx) == nil

	f := job.ListFilter{
		Query: strings.TrimSpace(ctx.Query("q")),
		Type:  ctx.Query("type"),
		Limit: FullLimit,
	}
	if preview {
		f.Limit = PreviewLimit
	}

	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	items, err := h.repo.List(cctx, f)
	if err != nil {
		RespondInternal(ctx, "Could not list jobs", err)
		return
	}

	if len(items) > f.Limit {
		items = items[:f.Limit]
	}
	if preview {
		for i := range items {
			items[i].Phone = ""
		}
	}

	ctx.JSON(http.StatusOK, gin.H{
		"jobs":    items,
		"preview": preview,
		"count":   len(items),
	})
}

// GET /jobs/mine
func (h *JobsHandler) Mine(ctx *gin.Context) {
	p := middlewares.PrincipalFromContext(ctx)

	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	items, err := h.repo.ListByOwner(cctx, p.ID)
	if err != nil {
		RespondInternal(ctx, "Could not list jobs", err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"jobs": items, "count": len(items)})
}

// POST /jobs
func (h *JobsHandler) Create(ctx *gin.Context) {
	var req job.CreateRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := storeCtx(ctx, 5*time.Second)
	defer cancel()

	created, d, err := h.poster.PostJob(cctx, middlewares.PrincipalFromContext(ctx), req)
	if err != nil {
		if errors.Is(err, entitlement.ErrOwnerOnly) {
			RespondForbidden(ctx, "Only owners can post jobs")
			return
		}
		RespondInternal(ctx, "Could not create job", err)
		return
	}
	if !d.Allowed {
		RespondGate(ctx, d)
		return
	}

	resp := gin.H{"job": created}
	if d.Subscription != nil {
		resp["quota"] = gin.H{"jobLimit": d.Subscription.JobLimit, "jobsUsed": d.JobsUsed}
	}
	ctx.JSON(http.StatusCreated, resp)
}

// GET /jobs/:id
func (h *JobsHandler) GetByID(ctx *gin.Context) {
	j, ok := h.load(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"job": j})
}

func (h *JobsHandler) load(ctx *gin.Context) (job.Job, bool) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		RespondNotFound(ctx, "Job not found")
		return job.Job{}, false
	}

	cctx, cancel := storeCtx(ctx, 2*time.Second)
	defer cancel()

	j, err := h.repo.GetByID(cctx, id)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			RespondNotFound(ctx, "Job not found")
			return job.Job{}, false
		}
		RespondInternal(ctx, "Could not fetch job", err)
		return job.Job{}, false
	}
	return j, true
}

// POST /jobs/:id/apply queues a notice to the job's owner. Applying twice is a no-op.
func (h *JobsHandler) Apply(ctx *gin.Context) {
	driver := middlewares.PrincipalFromContext(ctx)

	j, ok := h.load(ctx)
	if !ok {
		return
	}
	if j.CreatedBy == nil {
		RespondConflict(ctx, "job_unavailable", "This job no longer has an owner")
		return
	}

	cctx, cancel := storeCtx(ctx, 3*time.Second)
	defer cancel()

	owner, err := h.users.GetByID(cctx, *j.CreatedBy)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondConflict(ctx, "job_unavailable", "This job no longer has an owner")
			return
		}
		RespondInternal(ctx, "Could not apply", err)
		return
	}

	payload, err := tasks.EncodePayload(tasks.TypeApplicationNotify, tasks.ApplicationNotifyPayload{
		JobID:       j.ID,
		JobTitle:    j.Title,
		JobRoute:    j.Route,
		OwnerEmail:  owner.Email,
		OwnerName:   owner.Name,
		DriverID:    driver.ID,
		DriverName:  driver.Name,
		DriverEmail: driver.Email,
		DriverPhone: driver.Phone,
		RequestedAt: time.Now().UTC(),
		RequestID:   requestIDFrom(ctx),
	})
	if err != nil {
		RespondInternal(ctx, "Could not apply", err)
		return
	}

	key := tasks.ApplicationKey(j.ID, driver.ID)
	driverID := driver.ID

	t, err := h.tasks.Enqueue(cctx, task.CreateRequest{
		Type:           string(tasks.TypeApplicationNotify),
		Payload:        payload,
		MaxAttempts:    5,
		IdempotencyKey: &key,
		UserID:         &driverID,
	})
	if err != nil {
		if errors.Is(err, task.ErrDuplicate) {
			ctx.Set(middlewares.CtxTaskID, t.ID)
			ctx.JSON(http.StatusOK, gin.H{"status": "already_applied", "taskId": t.ID})
			return
		}
		RespondInternal(ctx, "Could not apply", err)
		return
	}

	ctx.Set(middlewares.CtxTaskID, t.ID)
	ctx.JSON(http.StatusAccepted, gin.H{"status": "queued", "taskId": t.ID})
}
