package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/prospect/internal/common"
	"github.com/ternarybob/prospect/internal/models"
)

func TestNewProviders_NoCredentialsRunsOffline(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Claude.APIKey = ""
	config.Gemini.APIKey = ""

	providers, err := NewProviders(context.Background(), config, arbor.NewLogger())
	if err != nil {
		t.Fatalf("NewProviders without credentials errored: %v", err)
	}
	if len(providers) != 0 {
		t.Fatalf("expected no providers, got %d", len(providers))
	}
}

func TestParseVerdict_Valid(t *testing.T) {
	tests := []struct {
		raw      string
		category models.Category
		conf     float64
	}{
		{`{"category": "african", "confidence": 0.92}`, models.CategoryAfrican, 0.92},
		{`{"category": "White", "confidence": 1}`, models.CategoryWhite, 1},
		{" {\"category\": \"indian\", \"confidence\": 0.7}\n", models.CategoryIndian, 0.7},
		{"```json\n{\"category\": \"coloured\", \"confidence\": 0.8}\n```", models.CategoryColoured, 0.8},
	}
	for _, tt := range tests {
		category, conf, err := parseVerdict(tt.raw)
		if err != nil {
			t.Errorf("parseVerdict(%q) error: %v", tt.raw, err)
			continue
		}
		if category != tt.category || conf != tt.conf {
			t.Errorf("parseVerdict(%q) = (%s, %v), want (%s, %v)", tt.raw, category, conf, tt.category, tt.conf)
		}
	}
}

func TestParseVerdict_Malformed(t *testing.T) {
	tests := []string{
		``,
		`not json at all`,
		`{"category": "asian", "confidence": 0.9}`,
		`{"category": "african", "confidence": 1.5}`,
		`{"category": "african", "confidence": -0.1}`,
		`{"category": "african", "confidence": 0.9, "reasoning": "extra"}`,
		`{"confidence": 0.9}`,
	}
	for _, raw := range tests {
		if _, _, err := parseVerdict(raw); err == nil {
			t.Errorf("parseVerdict(%q) accepted malformed response", raw)
		}
	}
}

func TestClassifyError_Taxonomy(t *testing.T) {
	tests := []struct {
		err  error
		kind FailureKind
	}{
		{fmt.Errorf("Error 429, Message: rate limited. Please retry in 12s., Status: RESOURCE_EXHAUSTED"), FailureRateLimited},
		{fmt.Errorf("429 Too Many Requests"), FailureRateLimited},
		{fmt.Errorf("quota exceeded for metric generate_requests_per_model_per_day"), FailureQuotaExhausted},
		{fmt.Errorf("your credit balance is too low"), FailureQuotaExhausted},
		{fmt.Errorf("500 Internal Server Error"), FailureTransient},
		{fmt.Errorf("503 Service Unavailable"), FailureTransient},
		{fmt.Errorf("overloaded_error: Overloaded"), FailureTransient},
		{fmt.Errorf("connection reset by peer"), FailureTransient},
	}
	for _, tt := range tests {
		got := classifyError("claude", tt.err)
		if KindOf(got) != tt.kind {
			t.Errorf("classifyError(%v) kind = %s, want %s", tt.err, KindOf(got), tt.kind)
		}
	}
}

func TestClassifyError_RetryDelayExtracted(t *testing.T) {
	err := classifyError("gemini", fmt.Errorf("Error 429, Message: quota window. Please retry in 45.387061394s., Status: RESOURCE_EXHAUSTED"))
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure, got %T", err)
	}
	if f.Kind != FailureRateLimited {
		t.Fatalf("kind = %s, want rate-limited", f.Kind)
	}
	if f.RetryAfter < 45*time.Second || f.RetryAfter > 46*time.Second {
		t.Errorf("RetryAfter = %v, want ~45.4s", f.RetryAfter)
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(FailureTransient) || !Retryable(FailureRateLimited) {
		t.Error("transient and rate-limited failures should be retryable")
	}
	if Retryable(FailureQuotaExhausted) || Retryable(FailureMalformedResponse) {
		t.Error("quota and malformed failures should not be retryable")
	}
}

func TestRequestCost(t *testing.T) {
	p := priceFor(claudePrices, "claude-haiku-3-5-20241022")
	cost := requestCost(p, 200, 20)
	// 200 in at $0.80/M + 20 out at $4.00/M
	want := 200*0.80/1e6 + 20*4.00/1e6
	if diff := cost - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("cost = %v, want %v", cost, want)
	}
}

func TestPriceFor_UnknownModelFallsBackConservative(t *testing.T) {
	p := priceFor(claudePrices, "claude-experimental-9")
	if p.inputPerM < 3.00 {
		t.Errorf("unknown model should price as the most expensive sibling, got %v", p.inputPerM)
	}
}

func TestVerdictSchema_ClosedEnum(t *testing.T) {
	s := verdictSchema()
	enum := s.Properties["category"].Enum
	if len(enum) != len(models.CanonicalCategories) {
		t.Fatalf("enum has %d entries, want %d", len(enum), len(models.CanonicalCategories))
	}
	for _, code := range enum {
		if !models.IsCanonical(models.Category(code)) {
			t.Errorf("schema enum carries non-canonical code %q", code)
		}
	}
}
