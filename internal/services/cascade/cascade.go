package cascade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/prospect/internal/common"
	"github.com/ternarybob/prospect/internal/interfaces"
	"github.com/ternarybob/prospect/internal/models"
	"github.com/ternarybob/prospect/internal/phonetic"
	"github.com/ternarybob/prospect/internal/rules"
	"github.com/ternarybob/prospect/internal/services/governor"
	"github.com/ternarybob/prospect/internal/services/learning"
	"github.com/ternarybob/prospect/internal/services/llm"
)

// learnMinConfidence gates the async learning hand-off: only provider
// verdicts at or above it become patterns.
const learnMinConfidence = 0.80

// Result is one classification outcome. An unclassified name carries method
// none and zero confidence; that is a valid result, not an error.
type Result struct {
	Category   models.Category
	Confidence float64
	Method     models.Method
	Provider   string
	Cost       float64
	Retries    int
	Elapsed    time.Duration
}

// Cascade walks a name through the five layers, cheapest first, and stops at
// the first confident verdict.
type Cascade struct {
	config    *common.Config
	store     interfaces.StorageManager
	dict      *rules.Dictionary
	matcher   *phonetic.Matcher
	providers map[string]interfaces.Provider
	governor  *governor.Governor
	extractor *learning.Extractor
	logger    arbor.ILogger
	sessionID string

	mu          sync.Mutex
	sessionCost float64
	capLogged   bool

	learnWG sync.WaitGroup
}

// New builds a cascade for one job session. providers may be empty when the
// run is offline; the LLM layer then reports unclassified.
func New(config *common.Config, store interfaces.StorageManager, providers map[string]interfaces.Provider, gov *governor.Governor, sessionID string, logger arbor.ILogger) (*Cascade, error) {
	dict, err := rules.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load rule dictionary: %w", err)
	}

	return &Cascade{
		config:    config,
		store:     store,
		dict:      dict,
		matcher:   phonetic.NewMatcher(dict.Candidates(), config.Cascade.PhoneticSimilarityThreshold),
		providers: providers,
		governor:  gov,
		extractor: learning.NewExtractor(store, logger),
		logger:    logger,
		sessionID: sessionID,
	}, nil
}

// SessionCost returns the LLM spend accumulated by this cascade.
func (c *Cascade) SessionCost() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionCost
}

// Wait blocks until in-flight learning goroutines finish. Called once at the
// end of a run so derived patterns are durable before the process exits.
func (c *Cascade) Wait() {
	c.learnWG.Wait()
}

// Classify runs the full cascade for one lead. Errors are provider or store
// faults; an unclassifiable name is a normal Result.
func (c *Cascade) Classify(ctx context.Context, lead *models.Lead) (*Result, error) {
	start := time.Now()
	normalized := phonetic.Normalize(lead.DirectorName)
	if normalized == "" {
		return &Result{Method: models.MethodNone, Elapsed: time.Since(start)}, nil
	}

	// L0: exact hit on the LLM cache
	if r, err := c.fromCache(ctx, normalized); err != nil {
		return nil, err
	} else if r != nil {
		r.Elapsed = time.Since(start)
		return r, nil
	}

	// L1: curated rule dictionary
	if r := c.fromRules(lead.DirectorName); r != nil {
		r.Elapsed = time.Since(start)
		return r, nil
	}

	// L2: phonetic consensus against the curated names
	if r := c.fromPhonetic(lead.DirectorName); r != nil {
		r.Elapsed = time.Since(start)
		return r, nil
	}

	// L3: learned patterns
	if r, err := c.fromLearned(ctx, normalized); err != nil {
		return nil, err
	} else if r != nil {
		r.Elapsed = time.Since(start)
		return r, nil
	}

	// L4: paid provider call
	r, err := c.fromProvider(ctx, lead, normalized)
	if err != nil {
		return nil, err
	}
	r.Elapsed = time.Since(start)
	return r, nil
}

func (c *Cascade) fromCache(ctx context.Context, normalized string) (*Result, error) {
	cached, err := c.store.ClassificationStorage().GetClassification(ctx, normalized)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup failed: %w", err)
	}
	if cached.Confidence < c.config.Cascade.CacheMinConfidence {
		return nil, nil
	}
	return &Result{
		Category:   cached.Category,
		Confidence: cached.Confidence,
		Method:     models.MethodExactCache,
	}, nil
}

func (c *Cascade) fromRules(name string) *Result {
	resolution, ok := c.dict.Resolve(name)
	if !ok || resolution.Confidence < c.config.Cascade.RuleMinConfidence {
		return nil
	}
	return &Result{
		Category:   resolution.Category,
		Confidence: resolution.Confidence,
		Method:     models.MethodRule,
	}
}

func (c *Cascade) fromPhonetic(name string) *Result {
	match := c.matcher.Match(name)
	if match == nil {
		return nil
	}
	return &Result{
		Category:   match.Candidate.Category,
		Confidence: match.Confidence,
		Method:     models.MethodPhonetic,
	}
}

// fromLearned probes the learned layers in specificity order: phonetic
// code family first, then prefix/suffix/contains patterns, then structural
// features.
func (c *Cascade) fromLearned(ctx context.Context, normalized string) (*Result, error) {
	threshold := c.config.Cascade.LearnedPatternMinConfidence

	family, err := c.store.ClassificationStorage().GetPhoneticFamily(ctx, phonetic.Codes(normalized).Key())
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("phonetic family lookup failed: %w", err)
	}
	if family != nil && family.Confidence >= threshold {
		return &Result{
			Category:   family.Category,
			Confidence: family.Confidence,
			Method:     models.MethodLearned,
		}, nil
	}

	prefixes, suffixes, contains := learning.Probes(normalized)
	probes := []struct {
		kind   models.PatternKind
		values []string
	}{
		{models.PatternSuffix, suffixes},
		{models.PatternPrefix, prefixes},
		{models.PatternContains, contains},
		{models.PatternStructuralFeature, learning.FeatureValues(learning.Features(normalized))},
	}

	patterns := c.store.PatternStorage()
	var best *models.LearnedPattern
	var bestConf float64
	for _, probe := range probes {
		found, err := patterns.FindPatterns(ctx, probe.kind, probe.values)
		if err != nil {
			return nil, fmt.Errorf("pattern lookup failed: %w", err)
		}
		for _, p := range found {
			if conf := p.EffectiveConfidence(); conf > bestConf {
				best = p
				bestConf = conf
			}
		}
		if best != nil && bestConf >= threshold {
			break
		}
	}

	if best == nil || bestConf < threshold {
		return nil, nil
	}
	if err := patterns.IncrementUsage(ctx, best.ID); err != nil {
		c.logger.Warn().Err(err).Str("pattern_id", best.ID).Msg("Failed to count pattern usage")
	}
	return &Result{
		Category:   best.Category,
		Confidence: bestConf,
		Method:     models.MethodLearned,
	}, nil
}

// fromProvider performs the paid L4 call with retry, provider failover and
// the session cost cap. A sub-threshold verdict or a capped session yields
// an unclassified result.
func (c *Cascade) fromProvider(ctx context.Context, lead *models.Lead, normalized string) (*Result, error) {
	unclassified := &Result{Method: models.MethodNone}

	if len(c.providers) == 0 {
		return unclassified, nil
	}
	if c.capReached() {
		return unclassified, nil
	}

	var lastErr error
	var failedOver []string
	retries := 0
	attempts := 1 + c.config.LLM.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		name, err := c.governor.ChooseProvider(c.config.LLM.DefaultProvider, failedOver...)
		if err != nil {
			// Every provider is sidelined (quota, daily cap) or has already
			// failed this name; the lead stays unclassified rather than failed
			c.logger.Debug().
				Str("name", normalized).
				Err(lastErr).
				Msg("No usable provider; name left unclassified")
			unclassified.Retries = retries
			return unclassified, nil
		}
		provider, ok := c.providers[name]
		if !ok {
			return nil, fmt.Errorf("governor chose unconfigured provider %q", name)
		}

		if err := c.governor.Acquire(ctx, name); err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.config.LLM.PerRequestTimeout())
		verdict, err := provider.Classify(callCtx, &interfaces.ClassifyRequest{
			Name:           lead.DirectorName,
			SpatialContext: lead.SpatialContext(),
		})
		cancel()
		c.governor.Report(name, err)

		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			lastErr = err
			kind := llm.KindOf(err)
			switch {
			case kind == llm.FailureMalformedResponse:
				// Deterministic at fixed temperature; retrying the same
				// provider would reproduce the same broken response, so only
				// the alternate gets a shot
				failedOver = append(failedOver, name)
			case llm.Retryable(kind) || kind == llm.FailureQuotaExhausted:
				// The governor's backoff or sidelining paces the next attempt
			default:
				return nil, err
			}
			retries++
			continue
		}

		c.addCost(verdict.Cost)

		if verdict.Confidence >= learnMinConfidence {
			c.learnAsync(normalized, verdict)
		}

		if verdict.Confidence < c.config.Cascade.LLMMinConfidence {
			unclassified.Cost = verdict.Cost
			unclassified.Retries = retries
			return unclassified, nil
		}
		return &Result{
			Category:   verdict.Category,
			Confidence: verdict.Confidence,
			Method:     models.MethodLLM,
			Provider:   verdict.Provider,
			Cost:       verdict.Cost,
			Retries:    retries,
		}, nil
	}

	// Attempts exhausted. Malformed responses exhaust the providers, not the
	// lead: the name stays unclassified. Transient faults that outlived every
	// retry are real failures and surface as errors.
	if llm.KindOf(lastErr) == llm.FailureMalformedResponse {
		unclassified.Retries = retries
		return unclassified, nil
	}
	return nil, lastErr
}

func (c *Cascade) capReached() bool {
	limit := c.config.Pipeline.MaxLLMCostPerSession
	if limit <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionCost < limit {
		return false
	}
	if !c.capLogged {
		c.capLogged = true
		c.logger.Warn().
			Float64("session_cost", c.sessionCost).
			Float64("cap", limit).
			Msg("Session LLM cost cap reached; remaining names skip the provider layer")
	}
	return true
}

func (c *Cascade) addCost(cost float64) {
	c.mu.Lock()
	c.sessionCost += cost
	c.mu.Unlock()
}

// learnAsync hands a confident verdict to the extractor off the hot path.
// Failures are logged and dropped; learning never blocks or fails a
// classification.
func (c *Cascade) learnAsync(normalized string, verdict *interfaces.ClassifyResult) {
	classification := models.NewLLMClassification(normalized)
	classification.Category = verdict.Category
	classification.Confidence = verdict.Confidence
	classification.Provider = verdict.Provider
	classification.Cost = verdict.Cost
	classification.ProcessingTime = verdict.Latency.Milliseconds()
	classification.RawResponse = verdict.Raw
	classification.Codes = phonetic.Codes(normalized)
	classification.SessionID = c.sessionID

	c.learnWG.Add(1)
	common.SafeGo(c.logger, "learning-extractor", func() {
		defer c.learnWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.extractor.Learn(ctx, classification); err != nil {
			c.logger.Warn().Err(err).Str("name", normalized).Msg("Learning extraction failed")
		}
	})
}
