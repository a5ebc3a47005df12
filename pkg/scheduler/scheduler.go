// Package scheduler drives the single cooperative processing-round loop
// described by spec.md §4.10: populate the round queue from the Thought
// Store, dequeue one thought, run the pipeline, commit, yield. It also
// exposes the runtime control surface (pause/resume/single_step/
// queue_status/request_state_transition/shutdown/emergency_shutdown),
// grounded on the worker pool's graceful start/stop loop in
// codeready-toolchain-tarsy/pkg/queue/pool.go, collapsed to a single
// worker since the reasoning pipeline is single-threaded cooperative
// per agent (spec.md §5).
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/auth"
	"github.com/wisebound/sentinel/pkg/models"
	"github.com/wisebound/sentinel/pkg/pipeline"
)

// RunState is the scheduler's own run/pause/halt state, distinct from the
// adaptation controller's state machine (pkg/adaptation.Controller).
type RunState string

const (
	RunRunning RunState = "running"
	RunPaused  RunState = "paused"
	RunHalted  RunState = "halted"
)

// Queue is the narrow round-queue-population contract the scheduler reads
// through (spec.md §4.10 step 1).
type Queue interface {
	PendingOrderedByTaskPriority(ctx context.Context) ([]*models.Thought, error)
}

// Processor runs one thought through the full reasoning pipeline.
type Processor interface {
	ProcessOne(ctx context.Context, thoughtID string) (pipeline.Result, error)
}

// Auditor is the narrow audit-chain contract runtime-control actions are
// recorded through (spec.md §4.7).
type Auditor interface {
	Append(ctx context.Context, eventType models.AuditEventType, originatorID string, payload map[string]any) (*models.AuditEntry, error)
}

// CapacityMonitor is the narrow resource-monitor contract the scheduler
// clears once a back-pressure cooldown elapses, so the sticky Capacity trip
// that suspended the round doesn't immediately re-trip the next one.
type CapacityMonitor interface {
	Reset()
}

// QueueStatus reports the scheduler's run state and queue depth for the
// queue_status() control surface operation.
type QueueStatus struct {
	State                RunState
	PauseReason          string
	PendingThoughts      int
	RoundsCompleted      int64
	LastRoundThoughtID   string
	LastRoundAction      models.ActionVariant
	LastRoundGuardrailOK bool
}

// Scheduler advances processing rounds for one agent.
type Scheduler struct {
	queue    Queue
	proc     Processor
	audit    Auditor
	authRepo auth.Repository
	idle     time.Duration
	monitor  CapacityMonitor

	// backPressureCooldown is how long a round suspended by a
	// KindCapacity trip (spec.md §7: "back-pressure: suspend scheduler
	// round, re-queue at tail") waits before automatically resuming.
	backPressureCooldown time.Duration

	mu          sync.Mutex
	state       RunState
	pauseReason string
	haltReason  string
	rounds      int64
	lastResult  *pipeline.Result

	resumeCh chan struct{}
	stepCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Scheduler in the running state.
func New(queue Queue, proc Processor, audit Auditor, authRepo auth.Repository) *Scheduler {
	return &Scheduler{
		queue:                queue,
		proc:                 proc,
		audit:                audit,
		authRepo:             authRepo,
		idle:                 200 * time.Millisecond,
		backPressureCooldown: 5 * time.Second,
		state:                RunRunning,
		resumeCh:             make(chan struct{}, 1),
		stepCh:               make(chan struct{}, 1),
		stopCh:               make(chan struct{}),
	}
}

// Run drives processing rounds until ctx is cancelled or shutdown is
// requested. Safe to call exactly once per Scheduler.
func (s *Scheduler) Run(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		switch s.currentState() {
		case RunHalted:
			return
		case RunPaused:
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-s.resumeCh:
				continue
			case <-s.stepCh:
				s.runRound(ctx)
				continue
			}
		default:
			if ran := s.runRound(ctx); !ran {
				select {
				case <-ctx.Done():
					return
				case <-s.stopCh:
					return
				case <-time.After(s.idle):
				}
			}
		}
	}
}

// SetCapacityMonitor wires the resource monitor whose sticky trip flag
// suspendForBackPressure clears on cooldown. Optional; a nil monitor (the
// default) leaves the trip in place until something else clears it.
func (s *Scheduler) SetCapacityMonitor(m CapacityMonitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitor = m
}

func (s *Scheduler) currentState() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// runRound populates the round queue, dequeues the head thought, and runs
// the pipeline for it (spec.md §4.10 steps 1-4). Returns false if the
// queue was empty, signalling the caller to yield.
func (s *Scheduler) runRound(ctx context.Context) bool {
	pending, err := s.queue.PendingOrderedByTaskPriority(ctx)
	if err != nil {
		slog.Error("scheduler: failed to populate round queue", "error", err)
		return false
	}
	if len(pending) == 0 {
		return false
	}

	th := pending[0]
	result, err := s.proc.ProcessOne(ctx, th.ID)

	s.mu.Lock()
	s.rounds++
	if err == nil {
		r := result
		s.lastResult = &r
	}
	s.mu.Unlock()

	if err != nil {
		if policy := apperrors.PolicyFor(apperrors.KindOf(err)); policy.BackPressure {
			s.suspendForBackPressure(ctx, th.ID, err)
		} else {
			slog.Error("scheduler: round failed", "thought_id", th.ID, "error", err)
		}
	}
	return true
}

// suspendForBackPressure pauses round advancement on a KindCapacity trip
// (spec.md §7) and schedules an automatic resume after backPressureCooldown;
// the tripped thought itself was already reverted to pending by the
// pipeline, so it re-enters the round queue at its natural position once
// rounds resume.
func (s *Scheduler) suspendForBackPressure(ctx context.Context, thoughtID string, cause error) {
	reason := "capacity back-pressure: " + cause.Error()
	s.mu.Lock()
	s.state = RunPaused
	s.pauseReason = reason
	s.mu.Unlock()
	slog.Warn("scheduler: suspending round for capacity back-pressure", "thought_id", thoughtID, "cooldown", s.backPressureCooldown.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
		case <-s.stopCh:
		case <-time.After(s.backPressureCooldown):
			s.mu.Lock()
			monitor := s.monitor
			s.mu.Unlock()
			if monitor != nil {
				monitor.Reset()
			}
			s.Resume(ctx)
		}
	}()
}

// Pause suspends round advancement; any in-flight round still completes.
func (s *Scheduler) Pause(ctx context.Context, reason string) {
	s.mu.Lock()
	s.state = RunPaused
	s.pauseReason = reason
	s.mu.Unlock()
	slog.Info("scheduler paused", "reason", reason)
	s.auditControl(ctx, "pause", reason)
}

// Resume un-suspends round advancement.
func (s *Scheduler) Resume(ctx context.Context) {
	s.mu.Lock()
	s.state = RunRunning
	s.pauseReason = ""
	s.mu.Unlock()
	select {
	case s.resumeCh <- struct{}{}:
	default:
	}
	slog.Info("scheduler resumed")
	s.auditControl(ctx, "resume", "")
}

// SingleStep runs exactly one round while paused. It is an error to call
// this when the scheduler is not paused.
func (s *Scheduler) SingleStep(ctx context.Context) error {
	if s.currentState() != RunPaused {
		return apperrors.Invariant("scheduler", "single_step requires the scheduler to be paused")
	}
	select {
	case s.stepCh <- struct{}{}:
	default:
	}
	s.auditControl(ctx, "single_step", "")
	return nil
}

// QueueStatus reports the current run state and queue depth.
func (s *Scheduler) QueueStatus(ctx context.Context) (QueueStatus, error) {
	pending, err := s.queue.PendingOrderedByTaskPriority(ctx)
	if err != nil {
		return QueueStatus{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := QueueStatus{
		State:           s.state,
		PauseReason:     s.pauseReason,
		PendingThoughts: len(pending),
		RoundsCompleted: s.rounds,
	}
	if s.lastResult != nil {
		st.LastRoundThoughtID = s.lastResult.ThoughtID
		st.LastRoundAction = s.lastResult.FinalAction
		st.LastRoundGuardrailOK = !s.lastResult.GuardrailFail
	}
	return st, nil
}

// RequestStateTransition maps a requested target run state onto the
// pause/resume/shutdown primitives (spec.md §4.10: request_state_transition).
func (s *Scheduler) RequestStateTransition(ctx context.Context, target, reason string) error {
	switch RunState(target) {
	case RunPaused:
		s.Pause(ctx, reason)
		return nil
	case RunRunning:
		s.Resume(ctx)
		return nil
	case RunHalted:
		return s.Shutdown(ctx, reason)
	default:
		return apperrors.Validation("scheduler", "unknown target run state: "+target)
	}
}

// Shutdown halts the scheduler after its in-flight round completes and
// waits for Run to return.
func (s *Scheduler) Shutdown(ctx context.Context, reason string) error {
	s.mu.Lock()
	s.state = RunHalted
	s.haltReason = reason
	s.mu.Unlock()
	slog.Info("scheduler shutdown requested", "reason", reason)
	s.auditControl(ctx, "shutdown", reason)
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	return nil
}

// EmergencyShutdown verifies cmd's Ed25519 signature against an active
// root/authority WA certificate before halting (spec.md §4.10:
// "Emergency shutdown must verify the command's Ed25519 signature against
// an active root/authority key before acting").
func (s *Scheduler) EmergencyShutdown(ctx context.Context, cmd auth.SignedCommand) error {
	if err := auth.VerifyEmergencyCommand(ctx, s.authRepo, cmd); err != nil {
		return err
	}
	return s.Shutdown(ctx, "emergency_shutdown by "+cmd.SignerID)
}

func (s *Scheduler) auditControl(ctx context.Context, action, reason string) {
	if s.audit == nil {
		return
	}
	if _, err := s.audit.Append(ctx, models.EventRuntimeControl, "scheduler", map[string]any{
		"action": action, "reason": reason,
	}); err != nil {
		slog.Error("scheduler: failed to audit runtime control action", "action", action, "error", err)
	}
}
