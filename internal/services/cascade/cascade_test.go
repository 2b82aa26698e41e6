package cascade

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/prospect/internal/common"
	"github.com/ternarybob/prospect/internal/interfaces"
	"github.com/ternarybob/prospect/internal/models"
	"github.com/ternarybob/prospect/internal/services/governor"
	"github.com/ternarybob/prospect/internal/services/llm"
	"github.com/ternarybob/prospect/internal/storage/sqlite"
)

// fakeProvider counts calls and replays scripted responses.
type fakeProvider struct {
	name    string
	calls   atomic.Int64
	verdict *interfaces.ClassifyResult
	errs    []error // Consumed one per call before verdict is returned
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Classify(ctx context.Context, req *interfaces.ClassifyRequest) (*interfaces.ClassifyResult, error) {
	n := f.calls.Add(1)
	if int(n) <= len(f.errs) {
		return nil, f.errs[n-1]
	}
	v := *f.verdict
	return &v, nil
}

func testConfig() *common.Config {
	config := common.NewDefaultConfig()
	config.Claude.RPM = 6000
	config.Gemini.RPM = 6000
	config.LLM.InitialBackoffSeconds = 1
	return config
}

func newTestCascade(t *testing.T, config *common.Config, fakes ...*fakeProvider) (*Cascade, interfaces.StorageManager) {
	t.Helper()

	store, err := sqlite.NewManager(arbor.NewLogger(), &common.SQLiteConfig{
		Path:          t.TempDir() + "/test.db",
		CacheSizeMB:   50,
		WALMode:       false,
		BusyTimeoutMS: 5000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	providers := map[string]interfaces.Provider{}
	for _, f := range fakes {
		if f != nil {
			providers[f.name] = f
		}
	}

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	c, err := New(config, store, providers, governor.New(config, names, arbor.NewLogger()), "job_test", arbor.NewLogger())
	require.NoError(t, err)
	return c, store
}

func lead(name string) *models.Lead {
	return &models.Lead{DirectorName: name, City: "Durban", Province: "KwaZulu-Natal"}
}

func TestClassify_KnownNameNeverReachesProvider(t *testing.T) {
	provider := &fakeProvider{name: "claude", verdict: &interfaces.ClassifyResult{
		Category: models.CategoryAfrican, Confidence: 0.9, Provider: "claude",
	}}
	c, _ := newTestCascade(t, testConfig(), provider)

	r, err := c.Classify(context.Background(), lead("Thabo Mthembu"))
	require.NoError(t, err)
	assert.Equal(t, models.CategoryAfrican, r.Category)
	assert.Equal(t, models.MethodRule, r.Method)
	assert.GreaterOrEqual(t, r.Confidence, 0.80)
	assert.Zero(t, provider.calls.Load())
	assert.Zero(t, r.Cost)
}

func TestClassify_PhoneticVariant(t *testing.T) {
	provider := &fakeProvider{name: "claude", verdict: &interfaces.ClassifyResult{
		Category: models.CategoryAfrican, Confidence: 0.9, Provider: "claude",
	}}
	c, _ := newTestCascade(t, testConfig(), provider)

	// Misspelled form of a curated name; the dictionary misses but the
	// phonetic codes agree
	r, err := c.Classify(context.Background(), lead("Bonganni"))
	require.NoError(t, err)
	assert.Equal(t, models.CategoryAfrican, r.Category)
	assert.Equal(t, models.MethodPhonetic, r.Method)
	assert.GreaterOrEqual(t, r.Confidence, 0.85)
	assert.LessOrEqual(t, r.Confidence, 0.95)
	assert.Zero(t, provider.calls.Load())
}

func TestClassify_UnknownNameUsesProviderThenCache(t *testing.T) {
	provider := &fakeProvider{name: "claude", verdict: &interfaces.ClassifyResult{
		Category: models.CategoryAfrican, Confidence: 0.92, Provider: "claude", Cost: 0.0004,
	}}
	c, store := newTestCascade(t, testConfig(), provider)
	ctx := context.Background()

	r, err := c.Classify(ctx, lead("Kpaxilor Vrenzuul"))
	require.NoError(t, err)
	assert.Equal(t, models.MethodLLM, r.Method)
	assert.Equal(t, models.CategoryAfrican, r.Category)
	assert.Equal(t, int64(1), provider.calls.Load())
	assert.InDelta(t, 0.0004, c.SessionCost(), 1e-9)

	// Wait for the async learning hand-off, then the same name must come
	// from the cache without another paid call
	c.Wait()
	cached, err := store.ClassificationStorage().GetClassification(ctx, "kpaxilor vrenzuul")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryAfrican, cached.Category)

	r2, err := c.Classify(ctx, lead("Kpaxilor Vrenzuul"))
	require.NoError(t, err)
	assert.Equal(t, models.MethodExactCache, r2.Method)
	assert.Equal(t, int64(1), provider.calls.Load())
}

func TestClassify_LowConfidenceVerdictIsUnclassified(t *testing.T) {
	provider := &fakeProvider{name: "claude", verdict: &interfaces.ClassifyResult{
		Category: models.CategoryWhite, Confidence: 0.5, Provider: "claude", Cost: 0.0004,
	}}
	c, store := newTestCascade(t, testConfig(), provider)

	r, err := c.Classify(context.Background(), lead("Zyzzyva Qwerty"))
	require.NoError(t, err)
	assert.Equal(t, models.MethodNone, r.Method)
	assert.Empty(t, r.Category)
	assert.Zero(t, r.Confidence)

	// Sub-threshold verdicts are never learned
	c.Wait()
	_, err = store.ClassificationStorage().GetClassification(context.Background(), "zyzzyva qwerty")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestClassify_SessionCostCapSkipsProvider(t *testing.T) {
	config := testConfig()
	config.Pipeline.MaxLLMCostPerSession = 0.0005
	provider := &fakeProvider{name: "claude", verdict: &interfaces.ClassifyResult{
		Category: models.CategoryIndian, Confidence: 0.9, Provider: "claude", Cost: 0.0004,
	}}
	c, _ := newTestCascade(t, config, provider)
	ctx := context.Background()

	// Names share no prefixes, suffixes or markers, so nothing learned from
	// one can short-circuit the next
	r, err := c.Classify(ctx, lead("Opqral Wverxun"))
	require.NoError(t, err)
	assert.Equal(t, models.MethodLLM, r.Method)

	r, err = c.Classify(ctx, lead("Ilfemast Bcdeyot"))
	require.NoError(t, err)
	assert.Equal(t, models.MethodLLM, r.Method)

	// Cap crossed: further unknown names stay unclassified without a call
	before := provider.calls.Load()
	r, err = c.Classify(ctx, lead("Ghuvkaf Rswelim"))
	require.NoError(t, err)
	assert.Equal(t, models.MethodNone, r.Method)
	assert.Equal(t, before, provider.calls.Load())
	c.Wait()
}

func TestClassify_TransientFailureRetriedThenSucceeds(t *testing.T) {
	config := testConfig()
	provider := &fakeProvider{
		name: "claude",
		errs: []error{&llm.Failure{Kind: llm.FailureTransient, Provider: "claude", Err: fmt.Errorf("503")}},
		verdict: &interfaces.ClassifyResult{
			Category: models.CategoryColoured, Confidence: 0.88, Provider: "claude", Cost: 0.0004,
		},
	}
	c, _ := newTestCascade(t, config, provider)

	start := time.Now()
	r, err := c.Classify(context.Background(), lead("Unusual Surnamius"))
	require.NoError(t, err)
	assert.Equal(t, models.MethodLLM, r.Method)
	assert.Equal(t, 1, r.Retries)
	assert.Equal(t, int64(2), provider.calls.Load())
	// The retry waited out the governor backoff
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	c.Wait()
}

func TestClassify_MalformedResponseFailsOverToAlternate(t *testing.T) {
	// At fixed temperature a broken response reproduces on retry, so the
	// first provider must not be asked again for this name
	claude := &fakeProvider{
		name: "claude",
		errs: []error{&llm.Failure{Kind: llm.FailureMalformedResponse, Provider: "claude", Err: fmt.Errorf("bad json")}},
		verdict: &interfaces.ClassifyResult{
			Category: models.CategoryWhite, Confidence: 0.9, Provider: "claude",
		},
	}
	gemini := &fakeProvider{name: "gemini", verdict: &interfaces.ClassifyResult{
		Category: models.CategoryWhite, Confidence: 0.85, Provider: "gemini", Cost: 0.0002,
	}}
	c, _ := newTestCascade(t, testConfig(), claude, gemini)

	r, err := c.Classify(context.Background(), lead("Unusual Surnamius"))
	require.NoError(t, err)
	assert.Equal(t, models.MethodLLM, r.Method)
	assert.Equal(t, "gemini", r.Provider)
	assert.Equal(t, models.CategoryWhite, r.Category)
	assert.Equal(t, 1, r.Retries)
	assert.Equal(t, int64(1), claude.calls.Load())
	assert.Equal(t, int64(1), gemini.calls.Load())
	c.Wait()
}

func TestClassify_AllProvidersMalformedLeavesUnclassified(t *testing.T) {
	malformed := func(name string) *fakeProvider {
		return &fakeProvider{
			name: name,
			errs: []error{&llm.Failure{Kind: llm.FailureMalformedResponse, Provider: name, Err: fmt.Errorf("bad json")}},
			verdict: &interfaces.ClassifyResult{
				Category: models.CategoryWhite, Confidence: 0.9, Provider: name,
			},
		}
	}
	claude := malformed("claude")
	gemini := malformed("gemini")
	c, _ := newTestCascade(t, testConfig(), claude, gemini)

	r, err := c.Classify(context.Background(), lead("Unusual Surnamius"))
	require.NoError(t, err)
	assert.Equal(t, models.MethodNone, r.Method)
	assert.Empty(t, r.Category)
	assert.Equal(t, int64(1), claude.calls.Load())
	assert.Equal(t, int64(1), gemini.calls.Load())
}

func TestClassify_RateLimitedFailsOverToAlternate(t *testing.T) {
	config := testConfig()
	claude := &fakeProvider{
		name: "claude",
		errs: []error{&llm.Failure{Kind: llm.FailureRateLimited, Provider: "claude", Err: fmt.Errorf("429")}},
		verdict: &interfaces.ClassifyResult{
			Category: models.CategoryIndian, Confidence: 0.9, Provider: "claude",
		},
	}
	gemini := &fakeProvider{name: "gemini", verdict: &interfaces.ClassifyResult{
		Category: models.CategoryIndian, Confidence: 0.87, Provider: "gemini", Cost: 0.0002,
	}}
	c, _ := newTestCascade(t, config, claude, gemini)

	// While claude waits out its backoff the alternate answers; no sleep
	start := time.Now()
	r, err := c.Classify(context.Background(), lead("Unusual Surnamius"))
	require.NoError(t, err)
	assert.Equal(t, models.MethodLLM, r.Method)
	assert.Equal(t, "gemini", r.Provider)
	assert.Equal(t, 1, r.Retries)
	assert.Equal(t, int64(1), claude.calls.Load())
	assert.Equal(t, int64(1), gemini.calls.Load())
	assert.Less(t, time.Since(start), time.Second)
	c.Wait()
}

func TestClassify_QuotaExhaustedEverywhereLeavesUnclassified(t *testing.T) {
	provider := &fakeProvider{
		name: "claude",
		errs: []error{&llm.Failure{Kind: llm.FailureQuotaExhausted, Provider: "claude", Err: fmt.Errorf("quota")}},
		verdict: &interfaces.ClassifyResult{
			Category: models.CategoryWhite, Confidence: 0.9, Provider: "claude",
		},
	}
	c, _ := newTestCascade(t, testConfig(), provider)

	r, err := c.Classify(context.Background(), lead("Unusual Surnamius"))
	require.NoError(t, err)
	assert.Equal(t, models.MethodNone, r.Method)
	assert.Empty(t, r.Category)
	assert.Equal(t, int64(1), provider.calls.Load())

	// The sidelining is global: the next unknown name never reaches the
	// provider at all
	r, err = c.Classify(context.Background(), lead("Zyzzyva Qwerty"))
	require.NoError(t, err)
	assert.Equal(t, models.MethodNone, r.Method)
	assert.Equal(t, int64(1), provider.calls.Load())
}

func TestClassify_PurgedCacheStillAnswersFromLearned(t *testing.T) {
	provider := &fakeProvider{name: "claude", verdict: &interfaces.ClassifyResult{
		Category: models.CategoryAfrican, Confidence: 0.92, Provider: "claude", Cost: 0.0004,
	}}
	c, store := newTestCascade(t, testConfig(), provider)
	ctx := context.Background()

	r, err := c.Classify(ctx, lead("Kpaxilor Vrenzuul"))
	require.NoError(t, err)
	assert.Equal(t, models.MethodLLM, r.Method)
	c.Wait()

	// With the exact cache gone the derived patterns still cover the name,
	// so it never costs a second call
	require.NoError(t, store.ClassificationStorage().PurgeClassifications(ctx))

	r2, err := c.Classify(ctx, lead("Kpaxilor Vrenzuul"))
	require.NoError(t, err)
	assert.Equal(t, models.MethodLearned, r2.Method)
	assert.Equal(t, models.CategoryAfrican, r2.Category)
	assert.Equal(t, int64(1), provider.calls.Load())
}

func TestClassify_EmptyNameUnclassified(t *testing.T) {
	c, _ := newTestCascade(t, testConfig(), nil)

	r, err := c.Classify(context.Background(), lead("   "))
	require.NoError(t, err)
	assert.Equal(t, models.MethodNone, r.Method)
}
