// Package api exposes the scheduler's runtime control surface and the
// task-submission/read paths over HTTP, using gin (spec.md §4.10, §6.4),
// adapted from codeready-toolchain-tarsy/pkg/api/server.go's route-grouping
// and health-handler conventions.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wisebound/sentinel/pkg/auth"
	"github.com/wisebound/sentinel/pkg/models"
	"github.com/wisebound/sentinel/pkg/scheduler"
)

// AdaptationController is the narrow Adaptation Controller surface the
// approve/clear endpoints drive, satisfied by *adaptation.Controller.
type AdaptationController interface {
	State() models.AdaptationState
	Approve(ctx context.Context) error
	Clear() error
}

// TaskCreator is the narrow task-store contract the submit-task endpoint
// writes through.
type TaskCreator interface {
	Create(ctx context.Context, task *models.Task) error
}

// Auditor is the narrow audit-chain contract task submission appends
// through (spec.md §4.7: EventTaskAdded).
type Auditor interface {
	Append(ctx context.Context, eventType models.AuditEventType, originatorID string, payload map[string]any) (*models.AuditEntry, error)
}

// Server is the control-plane HTTP API.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	resolver   *auth.Resolver
	scheduler  *scheduler.Scheduler
	tasks      TaskCreator
	audit      Auditor
	adaptation AdaptationController
}

// NewServer builds a Server with every route registered. adaptation may be
// nil, in which case the adaptation control routes are not registered.
func NewServer(resolver *auth.Resolver, sched *scheduler.Scheduler, tasks TaskCreator, audit Auditor, adaptation AdaptationController) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:     engine,
		resolver:   resolver,
		scheduler:  sched,
		tasks:      tasks,
		audit:      audit,
		adaptation: adaptation,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	v1 := s.engine.Group("/api/v1")
	v1.Use(auth.Middleware(s.resolver))

	v1.POST("/tasks", auth.RequireScope(models.ScopeWriteTask), s.submitTaskHandler)
	v1.GET("/queue_status", auth.RequireScope(models.ScopeReadAny), s.queueStatusHandler)

	control := v1.Group("/control")
	control.Use(auth.RequireScope(models.ScopeSystemControl))
	control.POST("/pause", s.pauseHandler)
	control.POST("/resume", s.resumeHandler)
	control.POST("/single_step", s.singleStepHandler)
	control.POST("/state_transition", s.stateTransitionHandler)
	control.POST("/shutdown", s.shutdownHandler)
	control.POST("/emergency_shutdown", s.emergencyShutdownHandler)

	if s.adaptation != nil {
		adapt := v1.Group("/adaptation")
		adapt.Use(auth.RequireScope(models.ScopeConfigApprove))
		adapt.GET("/state", s.adaptationStateHandler)
		adapt.POST("/approve", s.adaptationApproveHandler)
		adapt.POST("/clear", s.adaptationClearHandler)
	}
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener, for
// tests that need a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server itself (distinct from the
// scheduler's own Shutdown, which halts processing rounds).
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status, err := s.scheduler.QueueStatus(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":           "healthy",
		"run_state":        string(status.State),
		"pending_thoughts": status.PendingThoughts,
	})
}
