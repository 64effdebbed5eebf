package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/truckmatch/internal/auth"
	"github.com/geocoder89/truckmatch/internal/cache"
	"github.com/geocoder89/truckmatch/internal/config"
	"github.com/geocoder89/truckmatch/internal/domain/user"
	"github.com/geocoder89/truckmatch/internal/entitlement"
	"github.com/geocoder89/truckmatch/internal/http/handlers"
	"github.com/geocoder89/truckmatch/internal/http/middlewares"
	"github.com/geocoder89/truckmatch/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxBodyBytes = 1 << 20

type UserStore interface {
	handlers.AdminUsersRepo
	GetByLogin(ctx context.Context, identifier string) (user.User, error)
	Create(ctx context.Context, u user.User) (user.User, error)
	ListDrivers(ctx context.Context, f user.DriverFilter) ([]user.User, error)
}

type JobStore interface {
	handlers.JobsRepo
	Count(ctx context.Context) (int, error)
}

var _ handlers.AdminJobsRepo = JobStore(nil)

type TaskStore interface {
	handlers.AdminTasksRepo
	handlers.TaskEnqueuer
}

// Deps is everything the API surface needs. Stores are either the Postgres
// repos or the in-memory store.
type Deps struct {
	Config        config.Config
	Users         UserStore
	Subscriptions handlers.AdminSubscriptionsRepo
	Jobs          JobStore
	Tasks         TaskStore
	Engine        *entitlement.Engine
	Sessions      *auth.Sessions
	Prom          *observability.Prom
	Gatherer      prometheus.Gatherer
	AuthLimiter   middlewares.Limiter
	Checks        map[string]handlers.Pinger
}

func NewRouter(log *slog.Logger, d Deps) *gin.Engine {
	if d.Config.Env != "dev" && gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(gin.CustomRecovery(func(ctx *gin.Context, recovered any) {
		log.ErrorContext(ctx.Request.Context(), "panic recovered", "panic", recovered, "path", ctx.Request.URL.Path)
		handlers.RespondError(ctx, http.StatusInternalServerError, "internal_error", "Internal server error", nil)
		ctx.Abort()
	}))
	r.Use(otelgin.Middleware("truckmatch-api"))
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(log))
	r.Use(middlewares.SecurityHeaders(d.Config.IsProd()))
	r.Use(middlewares.CORS(d.Config.CORSOrigins))
	r.Use(middlewares.MaxBodyBytes(maxBodyBytes))
	r.Use(middlewares.RequireJSON())
	r.Use(middlewares.ResolvePrincipal(d.Sessions))

	// ops
	health := handlers.NewHealthHandler(d.Checks)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	limiter := d.AuthLimiter
	if limiter == nil {
		limiter = middlewares.NewMemoryLimiter(d.Config.AuthRateLimit, d.Config.AuthRateWindow)
	}
	authLimit := middlewares.RateLimit(limiter, "auth", middlewares.KeyByIP)

	cookies := middlewares.NewSessionCookies(d.Config.IsProd(), d.Config.AccessTTL(), d.Config.RefreshTTL())

	var authRec handlers.AuthRecorder
	if d.Prom != nil {
		authRec = d.Prom
	}

	authH := handlers.NewAuthHandler(d.Users, d.Sessions, cookies, authRec)
	usersH := handlers.NewUsersHandler(d.Users)
	subsH := handlers.NewSubscriptionsHandler(d.Engine)
	driversH := handlers.NewDriversHandler(d.Users, d.Engine, cache.New[[]user.DriverCard](30*time.Second))
	jobsH := handlers.NewJobsHandler(d.Jobs, d.Engine, d.Users, d.Tasks)
	adminH := handlers.NewAdminHandler(
		d.Users,
		d.Subscriptions,
		d.Jobs,
		d.Engine,
		authH,
		d.Config.AdminBootstrapToken,
		cache.New[handlers.AdminStats](10*time.Second),
	)
	tasksH := handlers.NewAdminTasksHandler(d.Tasks)

	// auth
	authGroup := r.Group("/auth")
	authGroup.POST("/login", authLimit, authH.Login)
	authGroup.POST("/register", authLimit, authH.Register)
	authGroup.POST("/refresh", authLimit, authH.Refresh)
	authGroup.GET("/me", authH.Me)
	authGroup.POST("/logout", authH.Logout)

	// profile
	usersGroup := r.Group("/users", middlewares.RequireAuth())
	usersGroup.GET("/me", usersH.Me)
	usersGroup.PATCH("/me", usersH.UpdateMe)

	// subscriptions
	owner := middlewares.RequireRole(user.RoleOwner)
	subsGroup := r.Group("/subscriptions")
	subsGroup.GET("/plans", subsH.Plans)
	subsGroup.GET("/me", middlewares.RequireAuth(), subsH.Me)
	subsGroup.POST("/pay", owner, subsH.Pay)
	subsGroup.POST("", owner, subsH.Create)
	subsGroup.POST("/:id/cancel", owner, subsH.Cancel)

	// directory
	r.GET("/drivers", driversH.List)
	r.GET("/drivers/:id", middlewares.RequireAuth(), driversH.GetByID)

	// jobs
	jobsGroup := r.Group("/jobs")
	jobsGroup.GET("", jobsH.List)
	jobsGroup.GET("/mine", owner, jobsH.Mine)
	jobsGroup.POST("", owner, jobsH.Create)
	jobsGroup.GET("/:id", middlewares.RequireAuth(), jobsH.GetByID)
	jobsGroup.POST("/:id/apply",
		middlewares.RequireRole(user.RoleDriver),
		middlewares.RateLimit(limiter, "apply", middlewares.KeyByUserOrIP),
		jobsH.Apply,
	)

	// admin
	r.POST("/admin/bootstrap", authLimit, adminH.Bootstrap)
	r.POST("/admin/login", authLimit, adminH.Login)

	admin := r.Group("/admin", middlewares.RequireRole(user.RoleAdmin))
	admin.GET("/stats", adminH.Stats)
	admin.GET("/users", adminH.ListUsers)
	admin.PATCH("/users/:id", adminH.UpdateUser)
	admin.POST("/users/:id/reset-password", adminH.ResetPassword)
	admin.DELETE("/users/:id", adminH.DeleteUser)
	admin.GET("/subscriptions", adminH.ListSubscriptions)
	admin.PATCH("/subscriptions/:id", adminH.UpdateSubscription)
	admin.GET("/tasks", tasksH.List)
	admin.GET("/tasks/:id", tasksH.GetByID)
	admin.POST("/tasks/:id/retry", tasksH.Retry)
	admin.POST("/tasks/reprocess-failed", tasksH.ReprocessFailed)

	return r
}
