// Package adaptation implements the Adaptation Controller (spec.md §4.9):
// an Observe/Propose/Gate/Apply/Measure loop that changes process
// configuration under a variance ceiling from an identity baseline,
// driven by an explicit state machine grounded on
// itsneelabh-gomind/resilience/circuit_breaker.go's atomic-state,
// mutex-guarded-transition style.
package adaptation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/models"
)

// Proposal is a candidate configuration change surfaced by the caller's
// domain logic during the PROPOSING state (spec.md §4.9 step 2).
type Proposal struct {
	Scope        models.ConfigScope
	TargetPath   string
	FieldWeight  float64
	OldValue     float64
	NewValue     float64
	Confidence   float64
}

// Controller drives the LEARNING -> PROPOSING -> ADAPTING -> STABILIZING ->
// (LEARNING | REVIEWING) / HALTED state machine (spec.md §4.9).
type Controller struct {
	repo    Repository
	ceiling float64
	weights FieldWeights

	state          atomic.Value // models.AdaptationState
	stateChangedAt atomic.Value // time.Time
	now            func() time.Time

	mu         sync.Mutex
	lastSignal Signals
	pending    []*models.ConfigurationChange
}

// NewController builds a Controller gated by ceiling (the adaptation
// ceiling configuration field, spec.md §6.5 default 0.20) and starts it
// in LEARNING.
func NewController(repo Repository, ceiling float64, weights FieldWeights) *Controller {
	c := &Controller{repo: repo, ceiling: ceiling, weights: weights, now: func() time.Time { return time.Now().UTC() }}
	c.state.Store(models.AdaptationLearning)
	c.stateChangedAt.Store(c.now())
	return c
}

// State returns the controller's current state.
func (c *Controller) State() models.AdaptationState {
	return c.state.Load().(models.AdaptationState)
}

// EnsureBaseline records the identity baseline snapshot on first start if
// none exists yet (spec.md §4.9: "Maintains an identity baseline snapshot
// taken at first start").
func (c *Controller) EnsureBaseline(ctx context.Context, current Vector) error {
	_, ok, err := c.repo.Baseline(ctx)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return c.repo.SetBaseline(ctx, current)
}

// transitionLocked moves the controller into newState, logging the
// transition (mu must be held).
func (c *Controller) transitionLocked(newState models.AdaptationState, reason string) {
	old := c.State()
	if old == newState {
		return
	}
	c.state.Store(newState)
	c.stateChangedAt.Store(c.now())
	slog.Info("adaptation state transition", "from", old, "to", newState, "reason", reason)
}

// Observe runs the Observe step (spec.md §4.9 step 1), recording the
// analysis window. Valid only from LEARNING.
func (c *Controller) Observe(ctx context.Context, signals Signals) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != models.AdaptationLearning {
		return apperrors.Invariant("adaptation.controller", fmt.Sprintf("observe requires LEARNING, in %s", c.State()))
	}
	c.lastSignal = signals
	c.transitionLocked(models.AdaptationProposing, "signals observed")
	return nil
}

// Propose evaluates candidate proposals against the ceiling (spec.md §4.9
// steps 2-3: Propose then Gate). If the cumulative applied variance plus
// the proposals' estimated contributions stays within ceiling, the
// proposals are recorded as "proposed" and the controller advances to
// ADAPTING for Apply. Otherwise it transitions to REVIEWING and the
// proposals require external WA approval before anything applies.
func (c *Controller) Propose(ctx context.Context, proposals []Proposal) ([]*models.ConfigurationChange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != models.AdaptationProposing {
		return nil, apperrors.Invariant("adaptation.controller", fmt.Sprintf("propose requires PROPOSING, in %s", c.State()))
	}

	cumulative, err := c.repo.CumulativeAppliedVariance(ctx)
	if err != nil {
		return nil, err
	}

	changes := make([]*models.ConfigurationChange, 0, len(proposals))
	var proposedSum float64
	now := c.now()
	for _, p := range proposals {
		variance := EstimateVariance(p.FieldWeight, p.OldValue, p.NewValue)
		proposedSum += variance
		id, err := uuid.NewRandom()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindTransient, "adaptation.controller", "generating change id", err)
		}
		changes = append(changes, &models.ConfigurationChange{
			ID:                id.String(),
			Scope:             p.Scope,
			TargetPath:        p.TargetPath,
			OldValue:          p.OldValue,
			NewValue:          p.NewValue,
			EstimatedVariance: variance,
			Confidence:        p.Confidence,
			Status:            models.ChangeProposed,
			ProposedAt:        now,
		})
	}

	for _, change := range changes {
		if err := c.repo.Put(ctx, change); err != nil {
			return nil, err
		}
	}

	if cumulative+proposedSum <= c.ceiling {
		c.pending = changes
		c.transitionLocked(models.AdaptationAdapting, "within ceiling")
	} else {
		c.pending = changes
		c.transitionLocked(models.AdaptationReviewing, "exceeds ceiling, external approval required")
	}
	return changes, nil
}

// Approve applies externally-approved proposals from REVIEWING, moving the
// controller into ADAPTING. Called after a WA with the config-approval
// scope has reviewed the pending set (spec.md §4.9 step 3).
func (c *Controller) Approve(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != models.AdaptationReviewing {
		return apperrors.Invariant("adaptation.controller", fmt.Sprintf("approve requires REVIEWING, in %s", c.State()))
	}
	for _, change := range c.pending {
		change.Status = models.ChangeApproved
		if err := c.repo.Put(ctx, change); err != nil {
			return err
		}
	}
	c.transitionLocked(models.AdaptationAdapting, "externally approved")
	return nil
}

// Apply commits the pending, approved set within one logical unit of
// work, auditing each application via audit (spec.md §4.9 step 4). The
// caller supplies audit so Controller does not import pkg/audit's write
// surface directly (it already reads it in signals.go).
func (c *Controller) Apply(ctx context.Context, audit func(change *models.ConfigurationChange) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != models.AdaptationAdapting {
		return apperrors.Invariant("adaptation.controller", fmt.Sprintf("apply requires ADAPTING, in %s", c.State()))
	}

	now := c.now()
	for _, change := range c.pending {
		change.Status = models.ChangeApplied
		change.AppliedAt = &now
		if err := c.repo.Put(ctx, change); err != nil {
			return err
		}
		if audit != nil {
			if err := audit(change); err != nil {
				return err
			}
		}
	}
	c.transitionLocked(models.AdaptationStabilizing, "applied")
	return nil
}

// Measure compares post-change signals against the pre-change window
// after a settle period (spec.md §4.9 step 5). Effective changes keep their
// status; ineffective ones are marked rolled back (the status only: no
// configuration value is reverted here). It then returns the controller to
// LEARNING.
func (c *Controller) Measure(ctx context.Context, post Signals) (effective bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != models.AdaptationStabilizing {
		return false, apperrors.Invariant("adaptation.controller", fmt.Sprintf("measure requires STABILIZING, in %s", c.State()))
	}

	effective = post.VetoRate() <= c.lastSignal.VetoRate() && post.HandlerFailures <= c.lastSignal.HandlerFailures
	if !effective {
		for _, change := range c.pending {
			change.Status = models.ChangeRolledBack
			if err := c.repo.Put(ctx, change); err != nil {
				return false, err
			}
		}
	}
	c.pending = nil
	c.transitionLocked(models.AdaptationLearning, "measured")
	return effective, nil
}

// EmergencyStop forces the terminal HALTED state from any state (spec.md
// §4.9: "Emergency stop from any state forces a terminal HALTED that
// rejects further proposals until manually cleared").
func (c *Controller) EmergencyStop(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitionLocked(models.AdaptationHalted, reason)
}

// Clear manually clears a HALTED controller back to LEARNING. Only an
// operator with the config-approval scope should invoke this (enforced by
// the caller, typically pkg/api).
func (c *Controller) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != models.AdaptationHalted {
		return apperrors.Invariant("adaptation.controller", "clear requires HALTED")
	}
	c.transitionLocked(models.AdaptationLearning, "manually cleared")
	return nil
}
