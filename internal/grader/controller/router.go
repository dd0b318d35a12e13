package controller

import (
	"context"
	"net/http"

	commonmw "proofjudge/internal/common/http/middleware"
	"proofjudge/internal/grader/service"
	appErr "proofjudge/pkg/errors"
	"proofjudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RouterOptions tunes the HTTP surface.
type RouterOptions struct {
	MaxBodyBytes int64
	RateLimiter  *commonmw.RateLimiter
	// HealthCheck backs /healthz; nil reports healthy.
	HealthCheck func(ctx context.Context) error
}

// NewRouter builds the grading service routes.
func NewRouter(graderService *service.GraderService, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", healthz(opts.HealthCheck))
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())
	router.Use(commonmw.GzipRequestMiddleware(opts.MaxBodyBytes))

	submissions := NewSubmissionController(graderService)
	problems := NewProblemController(graderService)

	api := router.Group("/api/v1")

	// only writes are rate limited
	writes := api.Group("/submissions")
	writes.Use(commonmw.RateLimitMiddleware(opts.RateLimiter))
	writes.POST("/", submissions.Create)
	writes.POST("/:id/appeals", submissions.Appeal)
	writes.POST("/:id/accept", submissions.Accept)

	api.GET("/submissions/:id", submissions.Get)
	api.GET("/problems/", problems.List)
	api.GET("/problems/:id", problems.Get)

	return router
}

func healthz(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			if err := check(c.Request.Context()); err != nil {
				response.ErrorWithCode(c, appErr.ServiceUnavailable, "cache unreachable")
				return
			}
		}
		c.Status(http.StatusOK)
	}
}
