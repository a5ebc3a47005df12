package models

import "time"

// Sensitivity ranks a detected or stored secret (spec.md §3).
type Sensitivity string

const (
	SensitivityLow      Sensitivity = "LOW"
	SensitivityMedium   Sensitivity = "MEDIUM"
	SensitivityHigh     Sensitivity = "HIGH"
	SensitivityCritical Sensitivity = "CRITICAL"
)

// DetectedSecret is the ephemeral record emitted by ingress filtering
// (spec.md §3). The original plaintext is never persisted on this type.
type DetectedSecret struct {
	UUID            string
	PatternName     string
	Description     string
	Sensitivity     Sensitivity
	SafeContextHint string
	Replacement     string // "{SECRET:<uuid>:<description>}"
}

// StoredSecret is the persistent, encrypted secret record (spec.md §3).
// Plaintext is reconstructed only transiently, in-memory, during
// decapsulation.
type StoredSecret struct {
	UUID            string
	Ciphertext      []byte
	Salt            []byte
	Nonce           []byte
	KeyVersion      int
	Description     string
	Sensitivity     Sensitivity
	DetectingPattern string
	ContextHint     string
	CreatedAt       time.Time
	LastAccessedAt  *time.Time
	AccessCount     int
	ManualOnly      bool
}

// AutoDecapsulateAllowed reports whether a secret of this sensitivity may be
// automatically decapsulated into an action of the given variant, per the
// default matrix in spec.md §4.4:
//
//	CRITICAL ⇒ never
//	HIGH     ⇒ Tool
//	MEDIUM   ⇒ Tool, Speak
//	LOW      ⇒ Tool, Speak, Memorize
func (s Sensitivity) AutoDecapsulateAllowed(variant ActionVariant) bool {
	switch s {
	case SensitivityCritical:
		return false
	case SensitivityHigh:
		return variant == ActionTool
	case SensitivityMedium:
		return variant == ActionTool || variant == ActionSpeak
	case SensitivityLow:
		return variant == ActionTool || variant == ActionSpeak || variant == ActionMemorize
	default:
		return false
	}
}

// SecretAccessLogRow records one access to a stored secret (spec.md §4.4:
// "every access produces an access-log row").
type SecretAccessLogRow struct {
	ID         int64
	SecretUUID string
	AccessorID string
	Purpose    string
	Decrypted  bool
	AccessedAt time.Time
}
