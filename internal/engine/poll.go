package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// PollPolicy bounds the poll-until-terminal loop.
type PollPolicy struct {
	// InitialDelay is the wait before the first status check.
	InitialDelay time.Duration

	// MaxDelay caps the doubling delay.
	MaxDelay time.Duration

	// MaxAttempts is the number of status checks before giving up.
	MaxAttempts int

	// Jitter adds a random [0, delay/2) to each wait.
	Jitter bool
}

// DefaultPollPolicy returns the policy used when none is configured.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  30,
		Jitter:       true,
	}
}

// Validate rejects policies that would never check status.
func (p PollPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("poll policy: max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("poll policy: delays must not be negative")
	}
	return nil
}

// StatusFunc reports the status of ref.
type StatusFunc func(ctx context.Context, ref string) (StatusReport, error)

// Poller runs the poll-until-terminal protocol.
type Poller struct {
	policy PollPolicy
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(n int64) int64
}

// PollerOption customizes a Poller.
type PollerOption func(*Poller)

// WithSleep replaces the context-aware timer wait. Tests use it to record
// delays without waiting.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) PollerOption {
	return func(p *Poller) {
		p.sleep = sleep
	}
}

// WithJitterSource replaces the random source for jitter. fn returns a value
// in [0, n).
func WithJitterSource(fn func(n int64) int64) PollerOption {
	return func(p *Poller) {
		p.jitter = fn
	}
}

// NewPoller creates a Poller with the given policy.
func NewPoller(policy PollPolicy, opts ...PollerOption) *Poller {
	p := &Poller{
		policy: policy,
		sleep:  sleepContext,
		jitter: rand.Int64N,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the poller's policy.
func (p *Poller) Policy() PollPolicy {
	return p.policy
}

// Poll waits, checks status and repeats until a terminal state or until
// MaxAttempts checks were made. The delay starts at InitialDelay and doubles
// up to MaxDelay.
//
// A nil report with a nil error means attempts were exhausted; a warning is
// logged and the caller must treat the step as not complete.
func (p *Poller) Poll(ctx context.Context, ref string, status StatusFunc) (*StatusReport, error) {
	delay := p.policy.InitialDelay
	for attempt := 1; attempt <= p.policy.MaxAttempts; attempt++ {
		if err := p.sleep(ctx, p.withJitter(delay)); err != nil {
			return nil, fmt.Errorf("poll %s: %w", ref, err)
		}

		report, err := status(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("poll %s: attempt %d: %w", ref, attempt, err)
		}
		if report.State.Terminal() {
			return &report, nil
		}
		slog.Debug("step not terminal yet",
			"ref", ref,
			"state", report.State,
			"attempt", attempt,
			"max_attempts", p.policy.MaxAttempts,
		)

		delay = min(delay*2, p.policy.MaxDelay)
	}

	slog.Warn("polling exhausted without terminal state",
		"ref", ref,
		"attempts", p.policy.MaxAttempts,
	)
	return nil, nil
}

// Check makes a single status call without waiting. A non-terminal state
// yields a nil report.
func (p *Poller) Check(ctx context.Context, ref string, status StatusFunc) (*StatusReport, error) {
	report, err := status(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", ref, err)
	}
	if !report.State.Terminal() {
		return nil, nil
	}
	return &report, nil
}

func (p *Poller) withJitter(d time.Duration) time.Duration {
	if !p.policy.Jitter || d/2 <= 0 {
		return d
	}
	return d + time.Duration(p.jitter(int64(d/2)))
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
