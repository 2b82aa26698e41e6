package governor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/prospect/internal/common"
	"github.com/ternarybob/prospect/internal/services/llm"
)

func newTestGovernor(t *testing.T) (*Governor, *time.Time) {
	t.Helper()

	config := common.NewDefaultConfig()
	config.Claude.RPM = 6000 // Effectively unmetered for unit tests
	config.Gemini.RPM = 6000
	g := New(config, []string{"claude", "gemini"}, arbor.NewLogger())

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	return g, &now
}

func rateLimited(after time.Duration) error {
	return &llm.Failure{
		Kind:       llm.FailureRateLimited,
		Provider:   "claude",
		RetryAfter: after,
		Err:        fmt.Errorf("429"),
	}
}

func TestReport_SuccessClearsBackoff(t *testing.T) {
	g, _ := newTestGovernor(t)

	g.Report("claude", rateLimited(0))
	state := g.providers["claude"]
	assert.Equal(t, 1, state.consecutiveFailures)
	assert.False(t, state.backoffUntil.IsZero())

	g.Report("claude", nil)
	assert.Equal(t, 0, state.consecutiveFailures)
	assert.True(t, state.backoffUntil.IsZero())
}

func TestReport_ExponentialBackoffWithCeiling(t *testing.T) {
	g, now := newTestGovernor(t)
	state := g.providers["claude"]

	// Defaults: initial 5s, multiplier 2, ceiling 120s
	wants := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second, 120 * time.Second, 120 * time.Second}
	for i, want := range wants {
		g.Report("claude", rateLimited(0))
		got := state.backoffUntil.Sub(*now)
		assert.Equal(t, want, got, "failure %d", i+1)
	}
}

func TestReport_APIRetryDelayOverridesShorterBackoff(t *testing.T) {
	g, now := newTestGovernor(t)

	g.Report("claude", rateLimited(45*time.Second))
	got := g.providers["claude"].backoffUntil.Sub(*now)
	assert.Equal(t, 45*time.Second, got)
}

func TestReport_MalformedDoesNotBackOff(t *testing.T) {
	g, _ := newTestGovernor(t)

	g.Report("claude", &llm.Failure{Kind: llm.FailureMalformedResponse, Provider: "claude", Err: fmt.Errorf("bad json")})
	state := g.providers["claude"]
	assert.Equal(t, 0, state.consecutiveFailures)
	assert.True(t, state.backoffUntil.IsZero())
}

func TestChooseProvider_PreferredWhenClear(t *testing.T) {
	g, _ := newTestGovernor(t)

	name, err := g.ChooseProvider("claude")
	require.NoError(t, err)
	assert.Equal(t, "claude", name)
}

func TestChooseProvider_SkipsBackedOffPreferred(t *testing.T) {
	g, _ := newTestGovernor(t)

	g.Report("claude", rateLimited(60*time.Second))
	name, err := g.ChooseProvider("claude")
	require.NoError(t, err)
	assert.Equal(t, "gemini", name)
}

func TestChooseProvider_QuotaExhaustedExcludedUntilNextDay(t *testing.T) {
	g, now := newTestGovernor(t)

	g.Report("gemini", &llm.Failure{Kind: llm.FailureQuotaExhausted, Provider: "gemini", Err: fmt.Errorf("quota exceeded per day")})
	// Even with claude backed off, gemini must not be chosen
	g.Report("claude", rateLimited(30*time.Second))

	name, err := g.ChooseProvider("gemini")
	require.NoError(t, err)
	assert.Equal(t, "claude", name)

	// Next day the quota window resets
	*now = now.Add(24 * time.Hour)
	g.Report("claude", nil)
	name, err = g.ChooseProvider("gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini", name)
}

func TestChooseProvider_ExclusionsRouteToAlternate(t *testing.T) {
	g, _ := newTestGovernor(t)

	// A caller that already failed on claude for this request skips it even
	// though the governor considers it healthy
	name, err := g.ChooseProvider("claude", "claude")
	require.NoError(t, err)
	assert.Equal(t, "gemini", name)

	_, err = g.ChooseProvider("claude", "claude", "gemini")
	assert.Error(t, err)
}

func TestChooseProvider_AllExhausted(t *testing.T) {
	g, _ := newTestGovernor(t)

	g.Report("claude", &llm.Failure{Kind: llm.FailureQuotaExhausted, Provider: "claude", Err: fmt.Errorf("credit balance")})
	g.Report("gemini", &llm.Failure{Kind: llm.FailureQuotaExhausted, Provider: "gemini", Err: fmt.Errorf("quota exceeded per day")})

	_, err := g.ChooseProvider("claude")
	assert.Error(t, err)
}

func TestAcquire_DailyCapRolls(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Claude.RPM = 6000
	config.Claude.DailyLimit = 2
	config.Gemini.RPM = 6000
	g := New(config, []string{"claude", "gemini"}, arbor.NewLogger())
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, g.Acquire(ctx, "claude"))
	require.NoError(t, g.Acquire(ctx, "claude"))

	// Cap reached: the chooser must route around claude
	name, err := g.ChooseProvider("claude")
	require.NoError(t, err)
	assert.Equal(t, "gemini", name)

	now = now.Add(24 * time.Hour)
	name, err = g.ChooseProvider("claude")
	require.NoError(t, err)
	assert.Equal(t, "claude", name)
}

func TestAcquire_ContextCancelledDuringBackoff(t *testing.T) {
	g, _ := newTestGovernor(t)
	g.now = time.Now // Real clock; backoff must block

	g.Report("claude", rateLimited(10*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := g.Acquire(ctx, "claude")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquire_UnknownProvider(t *testing.T) {
	g, _ := newTestGovernor(t)
	assert.Error(t, g.Acquire(context.Background(), "palm"))
}
