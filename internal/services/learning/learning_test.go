package learning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/prospect/internal/common"
	"github.com/ternarybob/prospect/internal/models"
	"github.com/ternarybob/prospect/internal/phonetic"
	"github.com/ternarybob/prospect/internal/storage/sqlite"
)

func TestMarkers(t *testing.T) {
	tests := []struct {
		name string
		want []string
	}{
		{"tshabalala", []string{"tsh"}},
		{"van der merwe", []string{"van ", "der "}},
		{"naidoo", []string{"oo"}},
		{"smith", nil},
	}
	for _, tt := range tests {
		got := Markers(tt.name)
		if len(got) != len(tt.want) {
			t.Errorf("Markers(%q) = %v, want %v", tt.name, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Markers(%q) = %v, want %v", tt.name, got, tt.want)
				break
			}
		}
	}
}

func TestFeatures(t *testing.T) {
	f := Features("bongani dlamini")
	assert.Equal(t, "2", f["token_count"])
	assert.Contains(t, []string{"low", "mid", "high"}, f["vowel_ratio"])

	f = Features("ndlovu")
	// "ndl" is a three-consonant run
	assert.Equal(t, "3", f["consonant_run"])
}

func TestProbes(t *testing.T) {
	prefixes, suffixes, contains := Probes("bongani dlamini")
	assert.Equal(t, []string{"bo", "bon"}, prefixes)
	assert.Equal(t, []string{"ni", "ini"}, suffixes)
	assert.Contains(t, contains, "ng")

	prefixes, suffixes, contains = Probes("")
	assert.Nil(t, prefixes)
	assert.Nil(t, suffixes)
	assert.Nil(t, contains)
}

func setupStore(t *testing.T) *sqlite.Manager {
	t.Helper()
	config := &common.SQLiteConfig{
		Path:          t.TempDir() + "/test.db",
		CacheSizeMB:   50,
		WALMode:       false,
		BusyTimeoutMS: 5000,
	}
	mgr, err := sqlite.NewManager(arbor.NewLogger(), config)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr.(*sqlite.Manager)
}

func TestLearn_DerivesPatternsAndFamily(t *testing.T) {
	store := setupStore(t)
	e := NewExtractor(store, arbor.NewLogger())
	ctx := context.Background()

	c := models.NewLLMClassification("bongani dlamini")
	c.Category = models.CategoryAfrican
	c.Confidence = 0.92
	c.Provider = "claude"
	c.Codes = phonetic.Codes("bongani dlamini")
	c.SessionID = "job_1"

	require.NoError(t, e.Learn(ctx, c))

	// Classification is cached
	cached, err := store.ClassificationStorage().GetClassification(ctx, "bongani dlamini")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryAfrican, cached.Category)

	// Phonetic family carries the verdict
	family, err := store.ClassificationStorage().GetPhoneticFamily(ctx, c.Codes.Key())
	require.NoError(t, err)
	assert.Equal(t, models.CategoryAfrican, family.Category)

	// Suffix pattern derived with discounted confidence
	p, err := store.PatternStorage().GetPattern(ctx, models.PatternSuffix, "ini")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryAfrican, p.Category)
	assert.InDelta(t, 0.92*derivedDiscount, p.Confidence, 1e-9)

	// Derivation is capped
	patterns, err := store.PatternStorage().PatternsForCategory(ctx, models.CategoryAfrican)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(patterns), maxPatternsPerName)
}

func TestLearn_SecondNameReinforcesSharedSuffix(t *testing.T) {
	store := setupStore(t)
	e := NewExtractor(store, arbor.NewLogger())
	ctx := context.Background()

	for _, name := range []string{"bongani", "sibongile bongani"} {
		c := models.NewLLMClassification(name)
		c.Category = models.CategoryAfrican
		c.Confidence = 0.9
		c.Provider = "claude"
		c.Codes = phonetic.Codes(name)
		require.NoError(t, e.Learn(ctx, c))
	}

	p, err := store.PatternStorage().GetPattern(ctx, models.PatternSuffix, "ani")
	require.NoError(t, err)
	assert.Equal(t, 2, p.UsageCount)
}

func TestReinforce_AgreementRaisesDisagreementDents(t *testing.T) {
	store := setupStore(t)
	e := NewExtractor(store, arbor.NewLogger())
	ctx := context.Background()

	c := models.NewLLMClassification("bongani")
	c.Category = models.CategoryAfrican
	c.Confidence = 0.9
	c.Provider = "claude"
	c.Codes = phonetic.Codes("bongani")
	require.NoError(t, e.Learn(ctx, c))

	before, err := store.PatternStorage().GetPattern(ctx, models.PatternSuffix, "ani")
	require.NoError(t, err)

	require.NoError(t, e.Reinforce(ctx, "bongani", models.CategoryAfrican))

	after, err := store.PatternStorage().GetPattern(ctx, models.PatternSuffix, "ani")
	require.NoError(t, err)
	assert.Equal(t, before.SuccessCount+1, after.SuccessCount)
	assert.GreaterOrEqual(t, after.Confidence, before.Confidence)
}
