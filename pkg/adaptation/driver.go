package adaptation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wisebound/sentinel/pkg/audit"
	"github.com/wisebound/sentinel/pkg/graph"
	"github.com/wisebound/sentinel/pkg/models"
)

// DefaultWindowSize is the trailing audit-entry count Driver hands to
// Observe each cycle absent an explicit override.
const DefaultWindowSize = 500

// DefaultSettlePeriod is how long Driver waits after Apply before taking the
// post-change measurement (spec.md §4.9 step 5: "after a fixed settle period").
const DefaultSettlePeriod = 15 * time.Minute

// Auditor is the narrow audit-append surface Driver needs to record each
// applied configuration change, satisfied by *audit.Chain.
type Auditor interface {
	Append(ctx context.Context, eventType models.AuditEventType, originatorID string, payload map[string]any) (*models.AuditEntry, error)
}

// Driver runs the Controller's Observe/Propose/Apply/Measure cycle on its
// own ticker, the same cooperative-background-task shape as
// graph.Consolidator (spec.md §5: "Consolidation and adaptation loops run
// as independent cooperative tasks on timers"). Without a Driver, a
// Controller is a state machine nobody ever advances.
type Driver struct {
	controller *Controller
	auditStore audit.Store
	mem        *graph.Memory
	auditor    Auditor

	windowSize int
	cadence    time.Duration
	settle     time.Duration

	mu      sync.Mutex
	current Vector // dotted field path -> value last proposed from, seeded from config at construction

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDriver builds a Driver. initial seeds the field values proposals are
// computed relative to (typically the process's resolved guardrail
// thresholds); it is kept up to date as the driver's own proposals apply.
func NewDriver(controller *Controller, auditStore audit.Store, mem *graph.Memory, auditor Auditor, initial Vector, cadence, settle time.Duration, windowSize int) *Driver {
	current := make(Vector, len(initial))
	for k, v := range initial {
		current[k] = v
	}
	return &Driver{
		controller: controller,
		auditStore: auditStore,
		mem:        mem,
		auditor:    auditor,
		windowSize: windowSize,
		cadence:    cadence,
		settle:     settle,
		current:    current,
	}
}

// Start records the identity baseline on first run and begins the periodic
// cycle. Safe to call once; a second call is a no-op (mirrors
// graph.Consolidator.Start).
func (d *Driver) Start(ctx context.Context) {
	if d.cancel != nil {
		return
	}
	if err := d.controller.EnsureBaseline(ctx, d.snapshot()); err != nil {
		slog.Error("adaptation driver: ensure baseline failed", "error", err)
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go d.run(ctx)
	slog.Info("adaptation driver started", "cadence", d.cadence.String())
}

// Stop cancels the cycle loop and blocks until it has exited (mirrors
// graph.Consolidator.Stop).
func (d *Driver) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	d.cancel = nil
	slog.Info("adaptation driver stopped")
}

func (d *Driver) run(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runCycle(ctx)
		}
	}
}

// runCycle advances whatever the controller is currently waiting on. A
// controller parked in REVIEWING needs an external Approve (pkg/api); one
// parked in HALTED needs an external Clear. Both are no-ops here.
func (d *Driver) runCycle(ctx context.Context) {
	switch state := d.controller.State(); state {
	case models.AdaptationLearning:
		d.observeAndPropose(ctx)
	case models.AdaptationAdapting:
		d.applyAndMeasure(ctx)
	case models.AdaptationReviewing:
		slog.Info("adaptation cycle skipped: pending approval")
	case models.AdaptationHalted:
		slog.Debug("adaptation cycle skipped: halted")
	default:
		slog.Warn("adaptation cycle skipped: unexpected state", "state", state)
	}
}

func (d *Driver) observeAndPropose(ctx context.Context) {
	signals, err := Observe(ctx, d.auditStore, d.mem, d.windowSize)
	if err != nil {
		slog.Error("adaptation observe failed", "error", err)
		return
	}
	if err := d.controller.Observe(ctx, signals); err != nil {
		slog.Error("adaptation observe transition failed", "error", err)
		return
	}

	if _, err := d.controller.Propose(ctx, d.proposeFromSignals(signals)); err != nil {
		slog.Error("adaptation propose failed", "error", err)
		return
	}

	if d.controller.State() == models.AdaptationAdapting {
		d.applyAndMeasure(ctx)
	}
}

func (d *Driver) applyAndMeasure(ctx context.Context) {
	if err := d.controller.Apply(ctx, func(change *models.ConfigurationChange) error {
		return d.auditApplied(ctx, change)
	}); err != nil {
		slog.Error("adaptation apply failed", "error", err)
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(d.settle):
	}

	post, err := Observe(ctx, d.auditStore, d.mem, d.windowSize)
	if err != nil {
		slog.Error("adaptation post-apply observe failed", "error", err)
		return
	}
	effective, err := d.controller.Measure(ctx, post)
	if err != nil {
		slog.Error("adaptation measure failed", "error", err)
		return
	}
	slog.Info("adaptation cycle measured", "effective", effective)
}

func (d *Driver) auditApplied(ctx context.Context, change *models.ConfigurationChange) error {
	d.mu.Lock()
	if newValue, ok := change.NewValue.(float64); ok {
		d.current[change.TargetPath] = newValue
	}
	d.mu.Unlock()

	if d.auditor == nil {
		return nil
	}
	_, err := d.auditor.Append(ctx, models.EventConfigChange, "adaptation.controller", map[string]any{
		"change_id":          change.ID,
		"target_path":        change.TargetPath,
		"old_value":          change.OldValue,
		"new_value":          change.NewValue,
		"estimated_variance": change.EstimatedVariance,
	})
	return err
}

func (d *Driver) snapshot() Vector {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(Vector, len(d.current))
	for k, v := range d.current {
		out[k] = v
	}
	return out
}

// minProposalSample is the minimum number of guardrail decisions in a
// window before VetoRate is trusted enough to drive a proposal.
const minProposalSample = 5

// targetVetoRate is the veto rate proposals try to bring the process back
// toward; sustained excess nudges the optimization-veto ratio looser.
const targetVetoRate = 0.25

// proposeFromSignals is the domain-defined Propose step (spec.md §4.9 step 2
// leaves proposal generation to the caller: "emit zero or more
// ConfigurationChange records"). It is deliberately conservative: small,
// single-field nudges rather than multi-field rewrites, so a single bad
// cycle never burns much of the variance ceiling.
func (d *Driver) proposeFromSignals(signals Signals) []Proposal {
	d.mu.Lock()
	defer d.mu.Unlock()

	var proposals []Proposal
	if signals.GuardrailDecisions >= minProposalSample && signals.VetoRate() > targetVetoRate {
		old := d.current["guardrails.optimization_veto_ratio"]
		proposals = append(proposals, Proposal{
			Scope:       models.ScopeChangeEnvironment,
			TargetPath:  "guardrails.optimization_veto_ratio",
			FieldWeight: 0.5,
			OldValue:    old,
			NewValue:    old * 1.05,
			Confidence:  0.6,
		})
	}
	if signals.WindowEntries > 0 && signals.HandlerFailures > 0 {
		old := d.current["guardrails.coherence_threshold"]
		proposals = append(proposals, Proposal{
			Scope:       models.ScopeChangeEnvironment,
			TargetPath:  "guardrails.coherence_threshold",
			FieldWeight: 1.0,
			OldValue:    old,
			NewValue:    old * 1.02,
			Confidence:  0.5,
		})
	}
	return proposals
}
