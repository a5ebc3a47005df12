package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/auth"
	"github.com/wisebound/sentinel/pkg/models"
)

// submitTaskHandler handles POST /api/v1/tasks (spec.md §6.1:
// "The adapter is responsible for delivering inbound messages as Tasks via
// submit_task(task)"; this endpoint is the transport-agnostic equivalent
// for direct control-plane submission).
func (s *Server) submitTaskHandler(c *gin.Context) {
	var req SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("api.tasks", err.Error()))
		return
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:          uuid.NewString(),
		ChannelID:   req.ChannelID,
		Description: req.Description,
		Status:      models.TaskPending,
		Priority:    req.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
		ParentID:    req.ParentID,
		Context: models.TaskContext{
			CorrelationID: req.CorrelationID,
			Extra:         req.Context,
		},
	}

	if err := s.tasks.Create(c.Request.Context(), task); err != nil {
		respondError(c, err)
		return
	}

	originator := ""
	if authzCtx, ok := auth.FromContext(c); ok {
		originator = authzCtx.WAID
	}
	if _, err := s.audit.Append(c.Request.Context(), models.EventTaskAdded, originator, map[string]any{
		"task_id": task.ID, "channel_id": task.ChannelID, "priority": task.Priority,
	}); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, TaskAcceptedResponse{TaskID: task.ID})
}

// queueStatusHandler handles GET /api/v1/queue_status (spec.md §4.10:
// queue_status()).
func (s *Server) queueStatusHandler(c *gin.Context) {
	status, err := s.scheduler.QueueStatus(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toQueueStatusResponse(status))
}
