package llm

import "strings"

// Per-million-token prices in USD. Unknown models fall back to the most
// expensive known sibling so cost caps stay conservative.
type modelPrice struct {
	inputPerM  float64
	outputPerM float64
}

var claudePrices = map[string]modelPrice{
	"claude-haiku-3-5": {inputPerM: 0.80, outputPerM: 4.00},
	"claude-haiku-3":   {inputPerM: 0.25, outputPerM: 1.25},
	"claude-sonnet-4":  {inputPerM: 3.00, outputPerM: 15.00},
}

var geminiPrices = map[string]modelPrice{
	"gemini-3-flash":   {inputPerM: 0.10, outputPerM: 0.40},
	"gemini-2.5-flash": {inputPerM: 0.15, outputPerM: 0.60},
	"gemini-2.5-pro":   {inputPerM: 1.25, outputPerM: 10.00},
}

// priceFor matches a model name against a price table by longest prefix.
func priceFor(table map[string]modelPrice, model string) modelPrice {
	var best string
	for prefix := range table {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return table[best]
	}
	// Unknown model: assume the priciest entry
	var max modelPrice
	for _, p := range table {
		if p.inputPerM > max.inputPerM {
			max = p
		}
	}
	return max
}

// requestCost converts a usage report into USD.
func requestCost(p modelPrice, inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)*p.inputPerM/1e6 + float64(outputTokens)*p.outputPerM/1e6
}
