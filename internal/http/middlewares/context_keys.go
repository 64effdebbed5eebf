package middlewares

// Keys stored on the gin context.
const (
	CtxRequestID = "request_id"
	CtxPrincipal = "auth.principal"
	CtxTaskID    = "task_id"
)
