package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/prospect/internal/common"
	"github.com/ternarybob/prospect/internal/services/llm"
)

// Governor meters every paid provider call. It owns the per-provider token
// bucket, the daily counter and the failure backoff; callers never talk to a
// provider without an Acquire/Report pair around the call.
type Governor struct {
	mu        sync.Mutex
	providers map[string]*providerState
	config    *common.LLMConfig
	logger    arbor.ILogger
	now       func() time.Time
}

type providerState struct {
	limiter    *rate.Limiter
	dailyLimit int

	day      time.Time // Midnight of the day dayCount covers
	dayCount int

	backoffUntil        time.Time
	consecutiveFailures int
	quotaExhaustedUntil time.Time
}

// New creates a governor with one bucket per named provider. Only providers
// that actually came up get a bucket; the chooser never routes to a name it
// does not know.
func New(config *common.Config, providerNames []string, logger arbor.ILogger) *Governor {
	g := &Governor{
		providers: make(map[string]*providerState),
		config:    &config.LLM,
		logger:    logger,
		now:       time.Now,
	}
	for _, name := range providerNames {
		switch name {
		case "claude":
			g.register(name, config.Claude.RPM, config.Claude.DailyLimit)
		case "gemini":
			g.register(name, config.Gemini.RPM, config.Gemini.DailyLimit)
		}
	}
	return g
}

func (g *Governor) register(name string, rpm, dailyLimit int) {
	if rpm <= 0 {
		rpm = 1
	}
	g.providers[name] = &providerState{
		// Burst of 1: requests spread evenly across the minute
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		dailyLimit: dailyLimit,
	}
}

// Acquire blocks until the provider may be called: the backoff window has
// passed, the token bucket grants a slot and the daily cap is not exceeded.
// The only error it returns is the context's.
func (g *Governor) Acquire(ctx context.Context, provider string) error {
	state, err := g.state(provider)
	if err != nil {
		return err
	}

	for {
		g.mu.Lock()
		wait := state.backoffUntil.Sub(g.now())
		g.mu.Unlock()
		if wait <= 0 {
			break
		}
		g.logger.Debug().
			Str("provider", provider).
			Dur("wait", wait).
			Msg("Waiting out provider backoff")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	if err := state.limiter.Wait(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	g.rollDay(state)
	state.dayCount++
	g.mu.Unlock()
	return nil
}

// Report feeds a call outcome back. Success clears the failure streak; a
// rate-limit or transient failure opens an exponential backoff window; quota
// exhaustion sidelines the provider until the next day.
func (g *Governor) Report(provider string, callErr error) {
	state, err := g.state(provider)
	if err != nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if callErr == nil {
		state.consecutiveFailures = 0
		state.backoffUntil = time.Time{}
		return
	}

	kind := llm.KindOf(callErr)
	switch kind {
	case llm.FailureQuotaExhausted:
		state.quotaExhaustedUntil = nextMidnight(g.now())
		g.logger.Warn().
			Str("provider", provider).
			Str("until", state.quotaExhaustedUntil.Format(time.RFC3339)).
			Msg("Provider quota exhausted; sidelined for the day")
	case llm.FailureRateLimited, llm.FailureTransient:
		state.consecutiveFailures++
		backoff := g.backoffFor(state.consecutiveFailures)
		var f *llm.Failure
		if errors.As(callErr, &f) && f.RetryAfter > backoff {
			backoff = f.RetryAfter
		}
		state.backoffUntil = g.now().Add(backoff)
		g.logger.Debug().
			Str("provider", provider).
			Str("kind", string(kind)).
			Int("consecutive_failures", state.consecutiveFailures).
			Dur("backoff", backoff).
			Msg("Provider backing off")
	default:
		// Malformed responses say nothing about provider health
	}
}

// ChooseProvider picks the provider to use for the next L4 call: the
// preferred one when it is usable, otherwise the usable provider whose
// backoff ends soonest. Quota-exhausted and daily-capped providers are
// excluded entirely; callers pass additional exclusions for providers that
// already failed the current request.
func (g *Governor) ChooseProvider(preferred string, exclude ...string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	excluded := func(name string) bool {
		for _, e := range exclude {
			if e == name {
				return true
			}
		}
		return false
	}
	usable := func(s *providerState) bool {
		g.rollDay(s)
		if g.now().Before(s.quotaExhaustedUntil) {
			return false
		}
		if s.dailyLimit > 0 && s.dayCount >= s.dailyLimit {
			return false
		}
		return true
	}

	if s, ok := g.providers[preferred]; ok && !excluded(preferred) && usable(s) && !g.now().Before(s.backoffUntil) {
		return preferred, nil
	}

	var bestName string
	var bestUntil time.Time
	for name, s := range g.providers {
		if excluded(name) || !usable(s) {
			continue
		}
		if bestName == "" || s.backoffUntil.Before(bestUntil) {
			bestName = name
			bestUntil = s.backoffUntil
		}
	}
	if bestName == "" {
		return "", fmt.Errorf("no provider is currently usable")
	}
	return bestName, nil
}

func (g *Governor) state(provider string) (*providerState, error) {
	s, ok := g.providers[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
	return s, nil
}

// backoffFor computes the exponential backoff for the nth consecutive
// failure, capped at the configured ceiling.
func (g *Governor) backoffFor(failures int) time.Duration {
	backoff := float64(g.config.InitialBackoff())
	for i := 1; i < failures; i++ {
		backoff *= g.config.BackoffMultiplier
	}
	if ceiling := float64(g.config.MaxBackoff()); backoff > ceiling {
		backoff = ceiling
	}
	return time.Duration(backoff)
}

// rollDay resets the daily counter when the clock crosses midnight. Caller
// holds the mutex.
func (g *Governor) rollDay(s *providerState) {
	today := midnight(g.now())
	if !s.day.Equal(today) {
		s.day = today
		s.dayCount = 0
	}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func nextMidnight(t time.Time) time.Time {
	return midnight(t).Add(24 * time.Hour)
}
