package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"supportloop/internal/domain"
	"supportloop/internal/drift"
	"supportloop/internal/export"
	"supportloop/internal/feedback"
	"supportloop/internal/ledger"
	"supportloop/internal/registry"
	"supportloop/internal/router"

	"github.com/gin-gonic/gin"
)

func HealthHandler(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store != nil {
			if err := store.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

type failureRequest struct {
	CustomerMessage string `json:"customer_message" binding:"required"`
	AssistantReply  string `json:"assistant_reply" binding:"required"`
	Explanation     string `json:"explanation"`
	HumanCorrection string `json:"human_correction"`
}

// CaptureFailureHandler stores a reply a reviewer marked "not useful".
func CaptureFailureHandler(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req failureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := store.RecordFailure(c.Request.Context(), domain.FailureInput{
			CustomerMessage: req.CustomerMessage,
			AssistantReply:  req.AssistantReply,
			Explanation:     strings.TrimSpace(req.Explanation),
			HumanCorrection: strings.TrimSpace(req.HumanCorrection),
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": id})
	}
}

func GetFailureHandler(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		f, err := store.GetFailure(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, f)
	}
}

type replyRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Message string `json:"message" binding:"required"`
}

func ReplyHandler(svc *feedback.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req replyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		in, err := svc.Reply(c.Request.Context(), req.UserID, req.Message)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, in)
	}
}

type interactionRequest struct {
	UserID          string  `json:"user_id" binding:"required"`
	VariantKey      string  `json:"variant_key"`
	CustomerMessage string  `json:"customer_message" binding:"required"`
	AssistantReply  string  `json:"assistant_reply" binding:"required"`
	Confidence      float64 `json:"confidence"`
}

// RecordInteractionHandler stores a reply that was served outside the router.
func RecordInteractionHandler(svc *feedback.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req interactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Confidence < 0 || req.Confidence > 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "confidence must be between 0 and 1"})
			return
		}
		in, err := svc.Record(c.Request.Context(), domain.Interaction{
			UserID:          req.UserID,
			VariantKey:      req.VariantKey,
			CustomerMessage: req.CustomerMessage,
			AssistantReply:  req.AssistantReply,
			Confidence:      req.Confidence,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, in)
	}
}

type ratingRequest struct {
	Useful      *bool  `json:"useful" binding:"required"`
	Correction  string `json:"correction"`
	Explanation string `json:"explanation"`
}

func RateHandler(svc *feedback.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ratingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		failureID, err := svc.Rate(c.Request.Context(), c.Param("id"), feedback.Rating{
			Useful:      *req.Useful,
			Correction:  req.Correction,
			Explanation: req.Explanation,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		resp := gin.H{"interaction_id": c.Param("id"), "useful": *req.Useful}
		if failureID != "" {
			resp["failure_id"] = failureID
		}
		c.JSON(http.StatusOK, resp)
	}
}

func AssignHandler(r *router.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		a := r.Assign(c.Param("userID"))
		c.JSON(http.StatusOK, gin.H{
			"user_id":      c.Param("userID"),
			"assignment":   a,
			"hash_version": router.HashVersion,
		})
	}
}

func VariantsHandler(r *router.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, r.Config())
	}
}

func LeaderboardHandler(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := intQuery(c, "limit", 0)
		if !ok {
			return
		}
		top, err := l.Leaderboard(c.Request.Context(), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"improvements": top, "count": len(top)})
	}
}

func StatsHandler(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := l.Statistics(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func WeeklyDriftHandler(m *drift.Monitor, defaultWeeks int) gin.HandlerFunc {
	return func(c *gin.Context) {
		weeks, ok := intQuery(c, "weeks", defaultWeeks)
		if !ok {
			return
		}
		report, err := m.WeeklyPerformanceDrops(c.Request.Context(), weeks)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func ConfidenceDriftHandler(m *drift.Monitor, defaultDays int) gin.HandlerFunc {
	return func(c *gin.Context) {
		days, ok := intQuery(c, "days", defaultDays)
		if !ok {
			return
		}
		report, err := m.ConfidenceDrift(c.Request.Context(), days)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func ABTestHandler(m *drift.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := m.ABTestResults(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func ExportsHandler(e *export.Exporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		batches, err := e.ListBatches(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		exported, err := e.ExportedCount(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"batches": batches, "exported_improvements": exported})
	}
}

func ExportBatchHandler(e *export.Exporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		batch, examples, err := e.BatchExamples(c.Request.Context(), c.Param("batchID"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"batch": batch, "examples": examples})
	}
}

type versionView struct {
	domain.ModelVersion
	Age string `json:"age"`
}

func VersionsHandler(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		versions, err := reg.List(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		views := make([]versionView, 0, len(versions))
		var active *versionView
		for _, v := range versions {
			view := versionView{ModelVersion: v, Age: time.Since(v.CreatedAt).Round(time.Minute).String()}
			views = append(views, view)
			if v.IsActive {
				active = &view
			}
		}
		c.JSON(http.StatusOK, gin.H{"versions": views, "active": active})
	}
}

// intQuery reads an optional integer query parameter, answering 400 on a
// malformed value.
func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a non-negative integer"})
		return 0, false
	}
	return v, true
}
