package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/bibfix/pkg/types"
)

// fakeClock advances on every sleep instead of blocking.
type fakeClock struct {
	t     time.Time
	slept []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
	return nil
}

func newTestLimiter(cfg types.RateLimitConfig) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := New(cfg, zerolog.Nop())
	l.SetClock(clock.now, clock.sleep)
	return l, clock
}

func testCfg() types.RateLimitConfig {
	return types.RateLimitConfig{
		Policies: map[string]types.ProviderPolicy{
			"openalex": {MinInterval: 2 * time.Second, Penalty429: 30 * time.Second},
			"semantic": {MinInterval: 1 * time.Second, Penalty429: 60 * time.Second, CooldownCap: 90 * time.Second},
		},
		GlobalCooldown: 20 * time.Second,
		MaxRetries:     4,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  8 * time.Second,
	}
}

func TestWaitPacesConsecutiveCalls(t *testing.T) {
	l, clock := newTestLimiter(testCfg())
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "openalex"))
	assert.Empty(t, clock.slept, "first call should not wait")

	require.NoError(t, l.Wait(ctx, "openalex"))
	require.Len(t, clock.slept, 1)
	assert.Equal(t, 2*time.Second, clock.slept[0])

	assert.Equal(t, 2, l.Stats("openalex").Calls)
}

func TestOn429EscalatesMonotonically(t *testing.T) {
	l, _ := newTestLimiter(testCfg())

	var cooldowns []time.Duration
	for i := 0; i < 3; i++ {
		l.On429("openalex")
		cooldowns = append(cooldowns, l.Stats("openalex").Cooldown)
	}

	// 30s base → 60s, 120s, then capped at 180s (default cap).
	assert.Equal(t, 60*time.Second, cooldowns[0])
	assert.Equal(t, 120*time.Second, cooldowns[1])
	assert.Equal(t, 180*time.Second, cooldowns[2])
	for i := 1; i < len(cooldowns); i++ {
		assert.Greater(t, cooldowns[i], cooldowns[i-1], "cooldown must strictly increase until the cap")
	}
	assert.Equal(t, 3, l.Stats("openalex").Err429)
}

func TestOn429RespectsPolicyCap(t *testing.T) {
	l, _ := newTestLimiter(testCfg())

	l.On429("semantic")
	l.On429("semantic")
	assert.Equal(t, 90*time.Second, l.Stats("semantic").Cooldown)
}

func TestOn429PushesGlobalCooldown(t *testing.T) {
	l, clock := newTestLimiter(testCfg())
	ctx := context.Background()

	before := l.GlobalDeadline()
	l.On429("openalex")
	require.True(t, l.GlobalDeadline().After(before), "global deadline must move forward")
	assert.Equal(t, clock.t.Add(20*time.Second), l.GlobalDeadline())

	// An unrelated provider must also wait out the global cooldown.
	require.NoError(t, l.Wait(ctx, "semantic"))
	require.Len(t, clock.slept, 1)
	assert.Equal(t, 20*time.Second, clock.slept[0])
}

func TestOnSuccessDecaysCooldown(t *testing.T) {
	l, _ := newTestLimiter(testCfg())

	l.On429("openalex")
	require.Equal(t, 60*time.Second, l.Stats("openalex").Cooldown)

	l.OnSuccess("openalex")
	assert.Equal(t, 42*time.Second, l.Stats("openalex").Cooldown)
	l.OnSuccess("openalex")
	assert.Less(t, l.Stats("openalex").Cooldown, 42*time.Second)
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	l, _ := newTestLimiter(testCfg())
	l.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Wait(ctx, "openalex"))
	cancel()
	assert.Error(t, l.Wait(ctx, "openalex"))
}

func TestUnknownProviderGetsDefaults(t *testing.T) {
	l, clock := newTestLimiter(testCfg())
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "mystery"))
	require.NoError(t, l.Wait(ctx, "mystery"))
	require.Len(t, clock.slept, 1)
	assert.Equal(t, time.Second, clock.slept[0])
}

func TestProvidersSorted(t *testing.T) {
	l, _ := newTestLimiter(testCfg())
	l.Wait(context.Background(), "semantic")
	l.Wait(context.Background(), "crossref")
	assert.Equal(t, []string{"crossref", "semantic"}, l.Providers())
}
