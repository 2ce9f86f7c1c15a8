// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit paces outbound provider calls for a whole run. Each
// provider carries its own next-allowed timestamp and an escalating 429
// cooldown; a shared global cooldown backs every provider off when any one
// of them is throttled, since the free-tier APIs sit behind shared
// infrastructure budgets.
package ratelimit

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/bibfix/pkg/types"
)

// Fallbacks for providers without an explicit policy and for policies that
// omit the cooldown cap.
const (
	defaultMinInterval = time.Second
	defaultPenalty429  = 20 * time.Second
	defaultCooldownCap = 3 * time.Minute
	waitJitterMax      = 250 * time.Millisecond
)

// Stats is a snapshot of one provider's counters.
type Stats struct {
	Calls    int
	OK       int
	Err429   int
	ErrOther int
	Cooldown time.Duration
}

type state struct {
	nextAllowedAt time.Time
	cooldown      time.Duration
	stats         Stats
}

// Limiter owns the per-provider and global pacing state for one run. It is
// constructed per run and threaded through every provider call, never a
// package-level singleton, so concurrent runs in tests do not share state.
// Mutation is serial: the pipeline processes one record at a time.
type Limiter struct {
	policies      map[string]types.ProviderPolicy
	globalPenalty time.Duration
	jitterMax     time.Duration

	states            map[string]*state
	globalNextAllowed time.Time

	log zerolog.Logger

	// now, sleep, and jitter are injectable so tests run without real time.
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// New builds a limiter from the run configuration.
func New(cfg types.RateLimitConfig, log zerolog.Logger) *Limiter {
	l := &Limiter{
		policies:      cfg.Policies,
		globalPenalty: cfg.GlobalCooldown,
		jitterMax:     cfg.RetryJitter,
		states:        make(map[string]*state),
		log:           log,
		now:           time.Now,
		sleep:         sleepCtx,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
	if l.globalPenalty <= 0 {
		l.globalPenalty = defaultPenalty429
	}
	return l
}

// SetClock replaces the time source and sleeper, for tests.
func (l *Limiter) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	l.now = now
	l.sleep = sleep
	l.jitter = func(time.Duration) time.Duration { return 0 }
}

func (l *Limiter) policy(provider string) types.ProviderPolicy {
	p, ok := l.policies[provider]
	if !ok {
		p = types.ProviderPolicy{}
	}
	if p.MinInterval <= 0 {
		p.MinInterval = defaultMinInterval
	}
	if p.Penalty429 <= 0 {
		p.Penalty429 = defaultPenalty429
	}
	if p.CooldownCap <= 0 {
		p.CooldownCap = defaultCooldownCap
	}
	return p
}

func (l *Limiter) state(provider string) *state {
	s, ok := l.states[provider]
	if !ok {
		s = &state{}
		l.states[provider] = s
	}
	return s
}

// Wait blocks until the provider may fire its next call, honoring both the
// provider's own next-allowed timestamp and the global cooldown, then
// advances the provider's pacing window and counts the call.
func (l *Limiter) Wait(ctx context.Context, provider string) error {
	s := l.state(provider)
	p := l.policy(provider)

	deadline := s.nextAllowedAt
	if l.globalNextAllowed.After(deadline) {
		deadline = l.globalNextAllowed
	}
	if wait := deadline.Sub(l.now()); wait > 0 {
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}

	s.nextAllowedAt = l.now().Add(p.MinInterval + l.jitter(waitJitterMax))
	s.stats.Calls++
	return nil
}

// OnSuccess records a successful call and decays any standing cooldown
// multiplicatively so a throttled provider recovers gradually.
func (l *Limiter) OnSuccess(provider string) {
	s := l.state(provider)
	s.stats.OK++
	if s.cooldown > 0 {
		s.cooldown = s.cooldown * 7 / 10
	}
}

// On429 escalates the provider's cooldown (doubling from the policy's base
// penalty, capped), pushes its next-allowed timestamp out, and extends the
// global cross-provider cooldown.
func (l *Limiter) On429(provider string) {
	s := l.state(provider)
	p := l.policy(provider)
	s.stats.Err429++

	base := s.cooldown
	if base <= 0 {
		base = p.Penalty429
	}
	s.cooldown = base * 2
	if s.cooldown > p.CooldownCap {
		s.cooldown = p.CooldownCap
	}
	s.stats.Cooldown = s.cooldown

	until := l.now().Add(s.cooldown + l.jitter(l.jitterMax))
	if until.After(s.nextAllowedAt) {
		s.nextAllowedAt = until
	}
	globalUntil := l.now().Add(l.globalPenalty)
	if globalUntil.After(l.globalNextAllowed) {
		l.globalNextAllowed = globalUntil
	}

	l.log.Warn().
		Str("provider", provider).
		Dur("cooldown", s.cooldown).
		Dur("global_cooldown", l.globalPenalty).
		Msg("rate limited")
}

// OnError records a non-429 failure.
func (l *Limiter) OnError(provider string) {
	l.state(provider).stats.ErrOther++
}

// Stats returns a snapshot of the provider's counters.
func (l *Limiter) Stats(provider string) Stats {
	s := l.state(provider)
	snap := s.stats
	snap.Cooldown = s.cooldown
	return snap
}

// Providers returns the names seen so far, sorted, for reporting.
func (l *Limiter) Providers() []string {
	names := make([]string, 0, len(l.states))
	for name := range l.states {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GlobalDeadline exposes the cross-provider cooldown timestamp.
func (l *Limiter) GlobalDeadline() time.Time {
	return l.globalNextAllowed
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
