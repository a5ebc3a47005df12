package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorError(t *testing.T) {
	base := errors.New("connection refused")
	err := Wrap(KindTransient, "llm.http_client", "call failed", base)

	msg := err.Error()
	assert.Contains(t, msg, "transient")
	assert.Contains(t, msg, "llm.http_client")
	assert.Contains(t, msg, "call failed")
	assert.Contains(t, msg, "connection refused")
}

func TestAppErrorUnwrap(t *testing.T) {
	base := errors.New("base error")
	err := Wrap(KindIntegrity, "audit.chain", "hash mismatch", base)

	require.ErrorIs(t, err, base)
	assert.Equal(t, base, err.Unwrap())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindCapacity, KindOf(Capacity("queue", "full")))
	assert.Equal(t, KindValidation, KindOf(errors.New("plain error")))
}

func TestIs(t *testing.T) {
	err := Authorization("auth.resolve", "missing scope write:task")
	assert.True(t, Is(err, KindAuthorization))
	assert.False(t, Is(err, KindInvariant))

	wrapped := errors.Join(errors.New("context"), err)
	assert.True(t, Is(wrapped, KindAuthorization))
}

func TestPolicyFor(t *testing.T) {
	p := PolicyFor(KindTransient)
	assert.True(t, p.Retry)
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, "defer", p.ConvertsTo)

	p = PolicyFor(KindIntegrity)
	assert.True(t, p.Fatal)

	p = PolicyFor(KindCapacity)
	assert.True(t, p.BackPressure)
}

func TestUserFacingHidesAuthorizationDetail(t *testing.T) {
	err := Authorization("auth.resolve", "wa-2026-01-01-abcdef lacks scope write:task")
	assert.Equal(t, "forbidden", UserFacing(err))
}

func TestUserFacingSanitizesSecretsAndPaths(t *testing.T) {
	err := Validation("thought.content", "content references {SECRET:abc-123:aws key} at /var/log/tarsy/thought.log")
	got := UserFacing(err)
	assert.NotContains(t, got, "{SECRET:")
	assert.NotContains(t, got, "/var/log")
	assert.Contains(t, got, "[redacted]")
	assert.Contains(t, got, "[path]")
}
