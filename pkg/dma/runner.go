package dma

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/models"
)

// maxAttempts bounds the per-DMA retry count on transient failure, read from
// the Transient policy rather than hardcoded so pkg/apperrors stays the one
// source of truth for propagation policy (spec.md §7: "bounded exponential
// retry with jitter (default 3 attempts)").
var maxAttempts = apperrors.PolicyFor(apperrors.KindTransient).MaxAttempts

// backoffBase and backoffCap bound the exponential delay backoff computes
// before jitter is applied.
const (
	backoffBase = 25 * time.Millisecond
	backoffCap  = 1 * time.Second
)

// Runner fans out the Ethical, Common-Sense, and Domain-Specific DMAs
// concurrently against one thought and joins their results into a
// DmaTriple (spec.md §4.2). Grounded on
// pkg/agent/orchestrator/runner.go's SubAgentRunner: each DMA call runs in
// its own goroutine under a shared context, delivering onto a
// buffered, count-sized channel, joined with sync.WaitGroup
// (SPEC_FULL.md §4.2).
type Runner struct {
	Ethical     Ethical
	CommonSense CommonSense
	Domain      Domain
	sleep       func(time.Duration) // overridable for tests
}

// NewRunner builds a Runner over the three first-stage DMAs.
func NewRunner(ethical Ethical, commonSense CommonSense, domain Domain) *Runner {
	return &Runner{Ethical: ethical, CommonSense: commonSense, Domain: domain, sleep: time.Sleep}
}

type dmaResult struct {
	kind string
	err  error
}

// Run evaluates all three DMAs concurrently and returns the aggregated
// DmaTriple. The runner makes no ordering assumption among the three
// (spec.md §4.2: "Ordering is immaterial within the triple"). If any one
// DMA fails after bounded retries, Run returns a KindValidation-classified
// aggregate error naming every failing DMA and the caller fails the
// thought (spec.md §4.2: "the thought transitions to failed with the
// collected errors"). Cancelling ctx propagates to in-flight calls; any
// results racing the cancellation are discarded.
func (r *Runner) Run(ctx context.Context, th Thought) (models.DmaTriple, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	triple := models.DmaTriple{ThoughtID: th.ID}
	var mu sync.Mutex
	var wg sync.WaitGroup
	errCh := make(chan dmaResult, 3)

	wg.Add(3)

	go func() {
		defer wg.Done()
		res, err := retryEthical(ctx, r.Ethical, th, r.sleep)
		if err == nil {
			mu.Lock()
			triple.Ethical = res
			mu.Unlock()
		}
		errCh <- dmaResult{kind: "ethical", err: err}
	}()

	go func() {
		defer wg.Done()
		res, err := retryCommonSense(ctx, r.CommonSense, th, r.sleep)
		if err == nil {
			mu.Lock()
			triple.Common = res
			mu.Unlock()
		}
		errCh <- dmaResult{kind: "common_sense", err: err}
	}()

	go func() {
		defer wg.Done()
		res, err := retryDomain(ctx, r.Domain, th, r.sleep)
		if err == nil {
			mu.Lock()
			triple.Domain = res
			mu.Unlock()
		}
		errCh <- dmaResult{kind: "domain", err: err}
	}()

	wg.Wait()
	close(errCh)

	var failed []string
	var capacityErr error
	for res := range errCh {
		if res.err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", res.kind, res.err))
			if capacityErr == nil && apperrors.Is(res.err, apperrors.KindCapacity) {
				capacityErr = res.err
			}
			cancel() // every call has already returned; this only releases the derived context
		}
	}

	if len(failed) > 0 {
		// A capacity trip propagates as-is so the scheduler can apply its
		// back-pressure policy (spec.md §7) instead of failing the thought
		// outright; any other mix of failures collapses to one validation
		// error naming every failing DMA.
		if capacityErr != nil {
			return triple, capacityErr
		}
		return triple, apperrors.New(apperrors.KindValidation, "dma.runner",
			fmt.Sprintf("thought %s: %d of 3 DMAs failed: %v", th.ID, len(failed), failed))
	}
	return triple, nil
}

func retryEthical(ctx context.Context, d Ethical, th Thought, sleep func(time.Duration)) (models.EthicalDMAResult, error) {
	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return models.EthicalDMAResult{}, ctx.Err()
		}
		res, _, err := d.Evaluate(ctx, th)
		if err == nil {
			return res, nil
		}
		last = err
		if !apperrors.Is(err, apperrors.KindTransient) {
			return models.EthicalDMAResult{}, err
		}
		backoff(ctx, sleep, attempt)
	}
	return models.EthicalDMAResult{}, last
}

func retryCommonSense(ctx context.Context, d CommonSense, th Thought, sleep func(time.Duration)) (models.CommonSenseDMAResult, error) {
	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return models.CommonSenseDMAResult{}, ctx.Err()
		}
		res, _, err := d.Evaluate(ctx, th)
		if err == nil {
			return res, nil
		}
		last = err
		if !apperrors.Is(err, apperrors.KindTransient) {
			return models.CommonSenseDMAResult{}, err
		}
		backoff(ctx, sleep, attempt)
	}
	return models.CommonSenseDMAResult{}, last
}

func retryDomain(ctx context.Context, d Domain, th Thought, sleep func(time.Duration)) (models.DomainDMAResult, error) {
	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return models.DomainDMAResult{}, ctx.Err()
		}
		res, _, err := d.Evaluate(ctx, th)
		if err == nil {
			return res, nil
		}
		last = err
		if !apperrors.Is(err, apperrors.KindTransient) {
			return models.DomainDMAResult{}, err
		}
		backoff(ctx, sleep, attempt)
	}
	return models.DomainDMAResult{}, last
}

// backoff sleeps for a bounded exponential delay with full jitter between
// retry attempts (spec.md §7: "bounded exponential retry with jitter"),
// grounded on codeready-toolchain-tarsy/pkg/queue/worker.go's pollInterval
// jitter shape.
func backoff(ctx context.Context, sleep func(time.Duration), attempt int) {
	if sleep == nil || ctx.Err() != nil {
		return
	}
	delay := backoffBase << uint(attempt-1)
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}
	sleep(time.Duration(rand.Int64N(int64(delay))))
}
