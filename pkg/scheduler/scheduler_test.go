package scheduler

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/auth"
	authfake "github.com/wisebound/sentinel/pkg/auth/fake"
	"github.com/wisebound/sentinel/pkg/models"
	"github.com/wisebound/sentinel/pkg/pipeline"
)

type fakeQueue struct {
	mu      sync.Mutex
	pending []*models.Thought
}

func (q *fakeQueue) PendingOrderedByTaskPriority(ctx context.Context) ([]*models.Thought, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.Thought, len(q.pending))
	copy(out, q.pending)
	return out, nil
}

func (q *fakeQueue) pop(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, th := range q.pending {
		if th.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// fakeProcessor pops the processed thought off the shared queue so the
// scheduler loop terminates once it runs dry, mirroring how the real
// pipeline would move a thought out of "pending" status.
type fakeProcessor struct {
	mu    sync.Mutex
	queue *fakeQueue
	calls []string
}

func (p *fakeProcessor) ProcessOne(ctx context.Context, thoughtID string) (pipeline.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, thoughtID)
	p.mu.Unlock()
	p.queue.pop(thoughtID)
	return pipeline.Result{ThoughtID: thoughtID, FinalAction: models.ActionSpeak}, nil
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []models.AuditEventType
}

func (a *fakeAuditor) Append(ctx context.Context, eventType models.AuditEventType, originatorID string, payload map[string]any) (*models.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, eventType)
	return &models.AuditEntry{EventType: eventType}, nil
}

func (a *fakeAuditor) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func newThought(id string) *models.Thought {
	return &models.Thought{ID: id, TaskID: "t-" + id, Status: models.ThoughtPending, Content: "hi"}
}

func TestSchedulerDrainsQueueThenYields(t *testing.T) {
	q := &fakeQueue{pending: []*models.Thought{newThought("a"), newThought("b")}}
	proc := &fakeProcessor{queue: q}
	audit := &fakeAuditor{}
	repo := authfake.New()

	s := New(q, proc, audit, repo)
	s.idle = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b"}, proc.calls)
}

func TestSchedulerPauseStopsRoundAdvancement(t *testing.T) {
	q := &fakeQueue{pending: []*models.Thought{newThought("a")}}
	proc := &fakeProcessor{queue: q}
	audit := &fakeAuditor{}
	repo := authfake.New()

	s := New(q, proc, audit, repo)
	s.idle = 5 * time.Millisecond
	s.Pause(context.Background(), "maintenance window")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	proc.mu.Lock()
	assert.Empty(t, proc.calls)
	proc.mu.Unlock()

	status, err := s.QueueStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunPaused, status.State)
	assert.Equal(t, "maintenance window", status.PauseReason)
	assert.Equal(t, 1, status.PendingThoughts)

	cancel()
	<-done
}

func TestSchedulerSingleStepRunsExactlyOneRoundWhilePaused(t *testing.T) {
	q := &fakeQueue{pending: []*models.Thought{newThought("a"), newThought("b")}}
	proc := &fakeProcessor{queue: q}
	audit := &fakeAuditor{}
	repo := authfake.New()

	s := New(q, proc, audit, repo)
	s.Pause(context.Background(), "inspecting")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.NoError(t, s.SingleStep(context.Background()))
	time.Sleep(30 * time.Millisecond)

	proc.mu.Lock()
	assert.Equal(t, []string{"a"}, proc.calls)
	proc.mu.Unlock()

	status, err := s.QueueStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunPaused, status.State)
	assert.Equal(t, "a", status.LastRoundThoughtID)

	cancel()
	<-done
}

func TestSingleStepRejectedWhenNotPaused(t *testing.T) {
	q := &fakeQueue{}
	proc := &fakeProcessor{queue: q}
	s := New(q, proc, &fakeAuditor{}, authfake.New())
	err := s.SingleStep(context.Background())
	require.Error(t, err)
}

func TestShutdownHaltsTheLoopAndAudits(t *testing.T) {
	q := &fakeQueue{}
	proc := &fakeProcessor{queue: q}
	audit := &fakeAuditor{}
	s := New(q, proc, audit, authfake.New())
	s.idle = 5 * time.Millisecond

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, s.Shutdown(context.Background(), "scheduled maintenance"))
	<-done

	status, err := s.QueueStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunHalted, status.State)
	assert.Greater(t, audit.count(), 0)
}

func TestEmergencyShutdownRequiresValidSignature(t *testing.T) {
	repo := authfake.New()
	root, rootPriv, _, err := auth.MintRoot(time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Put(context.Background(), root))

	q := &fakeQueue{}
	proc := &fakeProcessor{queue: q}
	s := New(q, proc, &fakeAuditor{}, repo)

	payload := []byte("shutdown: compromised key material")
	goodSig := ed25519.Sign(rootPriv, payload)
	require.NoError(t, s.EmergencyShutdown(context.Background(), auth.SignedCommand{
		Payload: payload, Signature: goodSig, SignerID: root.ID,
	}))

	status, err := s.QueueStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunHalted, status.State)
}

func TestEmergencyShutdownRejectsBadSignature(t *testing.T) {
	repo := authfake.New()
	root, _, _, err := auth.MintRoot(time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Put(context.Background(), root))

	q := &fakeQueue{}
	proc := &fakeProcessor{queue: q}
	s := New(q, proc, &fakeAuditor{}, repo)

	_, otherPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	payload := []byte("shutdown: forged")
	badSig := ed25519.Sign(otherPriv, payload)

	err = s.EmergencyShutdown(context.Background(), auth.SignedCommand{
		Payload: payload, Signature: badSig, SignerID: root.ID,
	})
	require.Error(t, err)

	status, err := s.QueueStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunRunning, status.State)
}

// trippingProcessor fails its first call with a KindCapacity error (as
// dma.Runner now propagates resource.Monitor trips) and succeeds afterward,
// mirroring the chain the back-pressure suspend/resume path reacts to.
type trippingProcessor struct {
	mu      sync.Mutex
	queue   *fakeQueue
	tripped bool
	calls   []string
}

func (p *trippingProcessor) ProcessOne(ctx context.Context, thoughtID string) (pipeline.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, thoughtID)
	first := !p.tripped
	p.tripped = true
	p.mu.Unlock()

	if first {
		return pipeline.Result{}, apperrors.Capacity("test.scheduler", "round token budget exceeded")
	}
	p.queue.pop(thoughtID)
	return pipeline.Result{ThoughtID: thoughtID, FinalAction: models.ActionSpeak}, nil
}

type fakeCapacityMonitor struct {
	mu     sync.Mutex
	resets int
}

func (m *fakeCapacityMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
}

func (m *fakeCapacityMonitor) resetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

func TestRunRoundSuspendsOnCapacityErrorAndAutoResumes(t *testing.T) {
	q := &fakeQueue{pending: []*models.Thought{newThought("a")}}
	proc := &trippingProcessor{queue: q}
	monitor := &fakeCapacityMonitor{}

	s := New(q, proc, &fakeAuditor{}, authfake.New())
	s.idle = 5 * time.Millisecond
	s.backPressureCooldown = 20 * time.Millisecond
	s.SetCapacityMonitor(monitor)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		status, err := s.QueueStatus(context.Background())
		return err == nil && status.State == RunPaused
	}, 200*time.Millisecond, 5*time.Millisecond, "scheduler should suspend on a capacity trip")

	require.Eventually(t, func() bool {
		status, err := s.QueueStatus(context.Background())
		return err == nil && status.State == RunRunning
	}, 500*time.Millisecond, 5*time.Millisecond, "scheduler should auto-resume after the cooldown")

	assert.Equal(t, 1, monitor.resetCount())

	require.Eventually(t, func() bool {
		proc.mu.Lock()
		defer proc.mu.Unlock()
		return len(proc.calls) >= 2
	}, 200*time.Millisecond, 5*time.Millisecond, "the re-queued thought should be retried after resume")

	cancel()
	<-done
}

func TestRequestStateTransitionMapsToPauseResumeHalt(t *testing.T) {
	q := &fakeQueue{}
	proc := &fakeProcessor{queue: q}
	s := New(q, proc, &fakeAuditor{}, authfake.New())

	require.NoError(t, s.RequestStateTransition(context.Background(), "paused", "operator request"))
	status, err := s.QueueStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunPaused, status.State)

	require.NoError(t, s.RequestStateTransition(context.Background(), "running", ""))
	status, err = s.QueueStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunRunning, status.State)

	require.Error(t, s.RequestStateTransition(context.Background(), "sideways", ""))
}
