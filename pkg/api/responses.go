package api

import "github.com/wisebound/sentinel/pkg/scheduler"

// TaskAcceptedResponse is returned by POST /api/v1/tasks.
type TaskAcceptedResponse struct {
	TaskID string `json:"task_id"`
}

// QueueStatusResponse mirrors scheduler.QueueStatus for GET /api/v1/queue_status.
type QueueStatusResponse struct {
	State                string `json:"state"`
	PauseReason          string `json:"pause_reason,omitempty"`
	PendingThoughts      int    `json:"pending_thoughts"`
	RoundsCompleted      int64  `json:"rounds_completed"`
	LastRoundThoughtID   string `json:"last_round_thought_id,omitempty"`
	LastRoundAction      string `json:"last_round_action,omitempty"`
	LastRoundGuardrailOK bool   `json:"last_round_guardrail_ok"`
}

func toQueueStatusResponse(st scheduler.QueueStatus) QueueStatusResponse {
	return QueueStatusResponse{
		State:                string(st.State),
		PauseReason:          st.PauseReason,
		PendingThoughts:      st.PendingThoughts,
		RoundsCompleted:      st.RoundsCompleted,
		LastRoundThoughtID:   st.LastRoundThoughtID,
		LastRoundAction:      string(st.LastRoundAction),
		LastRoundGuardrailOK: st.LastRoundGuardrailOK,
	}
}
