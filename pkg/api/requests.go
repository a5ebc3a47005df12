package api

// SubmitTaskRequest is the body of POST /api/v1/tasks.
type SubmitTaskRequest struct {
	ChannelID     string         `json:"channel_id" binding:"required"`
	Description   string         `json:"description" binding:"required"`
	Priority      int            `json:"priority"`
	ParentID      *string        `json:"parent_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}

// PauseRequest is the body of POST /api/v1/control/pause.
type PauseRequest struct {
	Reason string `json:"reason"`
}

// StateTransitionRequest is the body of POST /api/v1/control/state_transition.
type StateTransitionRequest struct {
	Target string `json:"target" binding:"required"`
	Reason string `json:"reason"`
}

// ShutdownRequest is the body of POST /api/v1/control/shutdown.
type ShutdownRequest struct {
	Reason string `json:"reason"`
}

// EmergencyShutdownRequest is the body of POST /api/v1/control/emergency_shutdown.
// Payload and Signature are base64-encoded by encoding/json's []byte handling.
type EmergencyShutdownRequest struct {
	Payload   []byte `json:"payload" binding:"required"`
	Signature []byte `json:"signature" binding:"required"`
	SignerID  string `json:"signer_id" binding:"required"`
}
