package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/prospect/internal/models"
)

// systemPrompt pins the provider to the closed category set and a JSON-only
// response shape. Temperature is zero everywhere, so the same name yields the
// same answer.
const systemPrompt = `You classify South African personal names into demographic categories used for B-BBEE market analysis.

Respond with a single JSON object and nothing else:
{"category": "<category>", "confidence": <0.0-1.0>}

"category" must be exactly one of: african, coloured, indian, white.
"confidence" reflects how certain the name's linguistic and regional markers are.
Consider the location context when it is given; it is a weak signal only.`

// userPrompt renders one classification request.
func userPrompt(name, spatialContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Director name: %s\n", name)
	if spatialContext != "" {
		fmt.Fprintf(&b, "Location: %s\n", spatialContext)
	}
	return b.String()
}

// providerVerdict is the JSON shape both providers must return.
type providerVerdict struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// parseVerdict strictly validates a provider response. Anything outside the
// closed category set or the confidence range is a malformed response; no
// repair is attempted.
func parseVerdict(raw string) (models.Category, float64, error) {
	trimmed := strings.TrimSpace(raw)
	// Some models wrap JSON in a markdown fence despite instructions
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var v providerVerdict
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return "", 0, fmt.Errorf("response is not the expected JSON object: %w", err)
	}

	category := models.Category(strings.ToLower(strings.TrimSpace(v.Category)))
	if !models.IsCanonical(category) {
		return "", 0, fmt.Errorf("category %q is not in the canonical set", v.Category)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return "", 0, fmt.Errorf("confidence %v is outside [0,1]", v.Confidence)
	}
	return category, v.Confidence, nil
}
