package dma

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/llm"
	"github.com/wisebound/sentinel/pkg/models"
)

type fakeEthical struct {
	failures int
	calls    int
	err      error
}

func (f *fakeEthical) Evaluate(ctx context.Context, th Thought) (models.EthicalDMAResult, llm.ResourceUsage, error) {
	f.calls++
	if f.calls <= f.failures {
		return models.EthicalDMAResult{}, llm.ResourceUsage{}, apperrors.Transient("test.ethical", "temporary blip", assert.AnError)
	}
	if f.err != nil {
		return models.EthicalDMAResult{}, llm.ResourceUsage{}, f.err
	}
	return models.EthicalDMAResult{Alignment: models.AlignmentCheck{Aligned: true}}, llm.ResourceUsage{}, nil
}

type fakeCommonSense struct{}

func (fakeCommonSense) Evaluate(ctx context.Context, th Thought) (models.CommonSenseDMAResult, llm.ResourceUsage, error) {
	return models.CommonSenseDMAResult{Plausible: true}, llm.ResourceUsage{}, nil
}

type fakeDomain struct {
	err error
}

func (fakeDomain) Kind() string { return "test" }
func (d fakeDomain) Evaluate(ctx context.Context, th Thought) (models.DomainDMAResult, llm.ResourceUsage, error) {
	if d.err != nil {
		return models.DomainDMAResult{}, llm.ResourceUsage{}, d.err
	}
	return models.DomainDMAResult{Fit: 0.9}, llm.ResourceUsage{}, nil
}

func noSleep(time.Duration) {}

func TestRunnerRetriesTransientFailureUntilSuccess(t *testing.T) {
	ethical := &fakeEthical{failures: maxAttempts - 1}
	r := NewRunner(ethical, fakeCommonSense{}, fakeDomain{})
	r.sleep = noSleep

	triple, err := r.Run(context.Background(), Thought{ID: "t1"})
	require.NoError(t, err)
	assert.True(t, triple.Ethical.Alignment.Aligned)
	assert.Equal(t, maxAttempts, ethical.calls)
}

func TestRunnerGivesUpAfterMaxAttemptsOnPersistentTransientFailure(t *testing.T) {
	ethical := &fakeEthical{failures: maxAttempts + 5}
	r := NewRunner(ethical, fakeCommonSense{}, fakeDomain{})
	r.sleep = noSleep

	_, err := r.Run(context.Background(), Thought{ID: "t1"})
	require.Error(t, err)
	assert.Equal(t, maxAttempts, ethical.calls)
}

func TestRunnerDoesNotRetryNonTransientFailure(t *testing.T) {
	ethical := &fakeEthical{err: apperrors.Validation("test.ethical", "malformed")}
	r := NewRunner(ethical, fakeCommonSense{}, fakeDomain{})
	r.sleep = noSleep

	_, err := r.Run(context.Background(), Thought{ID: "t1"})
	require.Error(t, err)
	assert.Equal(t, 1, ethical.calls)
}

func TestRunnerPropagatesCapacityErrorWithoutCollapsingToValidation(t *testing.T) {
	r := NewRunner(fakeEthical{}.withErr(apperrors.Capacity("test.ethical", "round token budget exceeded")), fakeCommonSense{}, fakeDomain{})
	r.sleep = noSleep

	_, err := r.Run(context.Background(), Thought{ID: "t1"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindCapacity))
}

func (f fakeEthical) withErr(err error) *fakeEthical {
	f.err = err
	return &f
}

func TestBackoffRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var slept bool
	backoff(ctx, func(time.Duration) { slept = true }, 1)
	assert.False(t, slept)
}

func TestBackoffStaysWithinBoundedCap(t *testing.T) {
	var delays []time.Duration
	sleep := func(d time.Duration) { delays = append(delays, d) }

	for attempt := 1; attempt <= 6; attempt++ {
		backoff(context.Background(), sleep, attempt)
	}

	for _, d := range delays {
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, backoffCap)
	}
}
