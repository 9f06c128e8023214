// Package httpapi binds the service operations to HTTP with gin.
//
// Handlers decode the request, call one Service method and render its
// result. Status codes follow the service error code: NOT_FOUND is 404,
// CONFLICT 409, VALIDATION_FAILED 422 and UNSUPPORTED_PROFILE 400.
// Idempotent writes answer 201 for a new row and 200 with
// idempotency_hit=true for a replay.
package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/sadhana/internal/service"
	"github.com/roach88/sadhana/internal/telemetry"
)

// ServiceName is reported by /health.
const ServiceName = "sadhana"

// Server routes HTTP requests to a Service.
type Server struct {
	svc    *service.Service
	logger *slog.Logger
	engine *gin.Engine
}

// New builds the router. A nil logger uses slog.Default.
func New(svc *service.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery(), s.observe())
	s.routes(r)
	s.engine = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes(r *gin.Engine) {
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		users := v1.Group("/users")
		users.POST("", s.createUser)
		users.PUT("/:id/consent", s.setConsent)
		users.GET("/:id/consent", s.getConsent)
		users.GET("/:id/progress", s.getProgress)

		sessions := v1.Group("/sessions")
		sessions.POST("", s.createSession)
		sessions.GET("/:id", s.getSession)
		sessions.POST("/:id/events", s.ingestEvent)
		sessions.POST("/:id/adaptations", s.requestAdaptation)
		sessions.POST("/:id/end", s.endSession)
		sessions.POST("/:id/bhav", s.evaluateBhav)
		sessions.POST("/:id/audio/chunks", s.ingestAudioChunk)
		sessions.GET("/:id/stage-projections", s.listStageProjections)

		v1.POST("/maha-mantra/evaluate", s.evaluateStage)

		integrations := v1.Group("/integrations")
		integrations.POST("/events", s.ingestPartnerEvent)
		integrations.POST("/webhooks", s.createSubscription)
		integrations.GET("/webhooks", s.listSubscriptions)
		integrations.GET("/webhooks/deliveries", s.listDeliveries)
		integrations.GET("/exports/business-signals/daily", s.exportBusinessSignals)
		integrations.GET("/exports/ecosystem-usage/daily", s.exportEcosystemUsage)

		analytics := v1.Group("/analytics")
		analytics.POST("/experiments/adaptive-vs-static", s.compareExperiment)
		analytics.GET("/business-cohorts", s.businessCohorts)

		admin := v1.Group("/admin")
		admin.POST("/projections/recompute", s.recomputeProjections)
		admin.POST("/webhooks/process", s.processWebhooks)
	}
}

// observe records every request in the HTTP duration histogram, labelled
// by route template rather than raw path.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		telemetry.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(status), elapsed)
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
		)
	}
}

func (s *Server) health(c *gin.Context) {
	if err := s.svc.Ping(c.Request.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "service": ServiceName})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "service": ServiceName})
}
