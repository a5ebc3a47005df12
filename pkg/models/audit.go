package models

import "time"

// AuditEventType enumerates the significant transitions the Audit Chain
// records (spec.md §4.7).
type AuditEventType string

const (
	EventTaskAdded          AuditEventType = "task_added"
	EventThoughtStatus      AuditEventType = "thought_status_changed"
	EventDMAAccepted        AuditEventType = "dma_result_accepted"
	EventActionSelected     AuditEventType = "action_selected"
	EventGuardrailDecision  AuditEventType = "guardrail_decision"
	EventHandlerOutcome     AuditEventType = "handler_outcome"
	EventSecretAccess       AuditEventType = "secret_access"
	EventConfigChange       AuditEventType = "configuration_change"
	EventRuntimeControl     AuditEventType = "runtime_control"
)

// AuditEntry is one append-only, hash-linked row of the audit chain
// (spec.md §3, §4.7).
type AuditEntry struct {
	EventID        string
	SequenceNumber int64
	EventTimestamp time.Time
	EventType      AuditEventType
	OriginatorID   string
	Payload        map[string]any
	PreviousHash   []byte
	EntryHash      []byte
	Signature      []byte // nil is an integrity warning, not a failure
	SigningKeyID   string
}

// SigningKey is a row in the audit database's key table. Revoked keys
// remain so historic entries continue to verify (spec.md §4.7).
type SigningKey struct {
	ID         string
	PublicKey  []byte
	PrivateKey []byte // held only by the active signer process; empty for imported verify-only keys
	CreatedAt  time.Time
	RevokedAt  *time.Time
	Active     bool
}
