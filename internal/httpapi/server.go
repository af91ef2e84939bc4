// Package httpapi exposes the feedback loop over HTTP: reply serving and
// rating, failure capture, and read-only views of the ledger, drift monitor
// and model registry.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"supportloop/internal/domain"
	"supportloop/internal/drift"
	"supportloop/internal/export"
	"supportloop/internal/feedback"
	"supportloop/internal/ledger"
	"supportloop/internal/registry"
	"supportloop/internal/router"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Store interface {
	RecordFailure(ctx context.Context, in domain.FailureInput) (string, error)
	GetFailure(ctx context.Context, id string) (domain.FailureRecord, error)
	Ping(ctx context.Context) error
}

type Deps struct {
	Store    Store
	Feedback *feedback.Service
	Router   *router.Router
	Ledger   *ledger.Ledger
	Monitor  *drift.Monitor
	Registry *registry.Registry
	Exporter *export.Exporter

	LookbackWeeks int
	WindowDays    int
}

// NewRouter wires every route. Components left nil are not mounted.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLoggingMiddleware())

	r.GET("/health", HealthHandler(d.Store))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		if d.Store != nil {
			api.POST("/failures", CaptureFailureHandler(d.Store))
			api.GET("/failures/:id", GetFailureHandler(d.Store))
		}
		if d.Feedback != nil {
			api.POST("/replies", ReplyHandler(d.Feedback))
			api.POST("/interactions", RecordInteractionHandler(d.Feedback))
			api.POST("/interactions/:id/rating", RateHandler(d.Feedback))
		}
		if d.Router != nil {
			api.GET("/assign/:userID", AssignHandler(d.Router))
			api.GET("/variants", VariantsHandler(d.Router))
		}
		if d.Ledger != nil {
			api.GET("/leaderboard", LeaderboardHandler(d.Ledger))
			api.GET("/stats", StatsHandler(d.Ledger))
		}
		if d.Monitor != nil {
			api.GET("/drift/weekly", WeeklyDriftHandler(d.Monitor, d.LookbackWeeks))
			api.GET("/drift/confidence", ConfidenceDriftHandler(d.Monitor, d.WindowDays))
			api.GET("/abtest", ABTestHandler(d.Monitor))
		}
		if d.Exporter != nil {
			api.GET("/exports", ExportsHandler(d.Exporter))
			api.GET("/exports/:batchID", ExportBatchHandler(d.Exporter))
		}
		if d.Registry != nil {
			api.GET("/versions", VersionsHandler(d.Registry))
		}
	}
	return r
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
