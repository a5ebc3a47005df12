package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/auth"
)

// pauseHandler handles POST /api/v1/control/pause (spec.md §4.10: pause(reason)).
func (s *Server) pauseHandler(c *gin.Context) {
	var req PauseRequest
	_ = c.ShouldBindJSON(&req)
	s.scheduler.Pause(c.Request.Context(), req.Reason)
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

// resumeHandler handles POST /api/v1/control/resume (spec.md §4.10: resume()).
func (s *Server) resumeHandler(c *gin.Context) {
	s.scheduler.Resume(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

// singleStepHandler handles POST /api/v1/control/single_step (spec.md §4.10:
// single_step()).
func (s *Server) singleStepHandler(c *gin.Context) {
	if err := s.scheduler.SingleStep(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stepped"})
}

// stateTransitionHandler handles POST /api/v1/control/state_transition
// (spec.md §4.10: request_state_transition(target, reason)).
func (s *Server) stateTransitionHandler(c *gin.Context) {
	var req StateTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("api.control", err.Error()))
		return
	}
	if err := s.scheduler.RequestStateTransition(c.Request.Context(), req.Target, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Target})
}

// shutdownHandler handles POST /api/v1/control/shutdown (spec.md §4.10:
// shutdown(reason)).
func (s *Server) shutdownHandler(c *gin.Context) {
	var req ShutdownRequest
	_ = c.ShouldBindJSON(&req)
	if err := s.scheduler.Shutdown(c.Request.Context(), req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "halted"})
}

// emergencyShutdownHandler handles POST /api/v1/control/emergency_shutdown
// (spec.md §4.10: "Emergency shutdown must verify the command's Ed25519
// signature against an active root/authority key before acting").
func (s *Server) emergencyShutdownHandler(c *gin.Context) {
	var req EmergencyShutdownRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("api.control", err.Error()))
		return
	}
	cmd := auth.SignedCommand{Payload: req.Payload, Signature: req.Signature, SignerID: req.SignerID}
	if err := s.scheduler.EmergencyShutdown(c.Request.Context(), cmd); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "halted"})
}
