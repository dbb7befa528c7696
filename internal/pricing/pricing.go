// Package pricing converts token counts into credit costs using a per-model
// rate table. Rates are expressed in credits per 1000 tokens and may be
// overridden at runtime through the DB-backed settings snapshot.
package pricing

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/flowchat/creditgate/internal/settings"
)

// TokenType selects which pricing tier applies to a token count.
type TokenType string

// Token type values.
const (
	// TokenTypeInput prices tokens at the input tier.
	TokenTypeInput TokenType = "input"
	// TokenTypeOutput prices tokens at the output tier.
	TokenTypeOutput TokenType = "output"
	// TokenTypeBoth splits the count 50/50 between input and output tiers.
	// This models the average cost of a streaming exchange whose true
	// input/output split is not separately known.
	TokenTypeBoth TokenType = "both"
)

// DefaultModelKey is the rate table fallback entry for unrecognized models.
const DefaultModelKey = "default"

// Rate holds credits-per-1000-tokens prices for one model.
type Rate struct {
	InputPer1K  float64 `json:"input"`
	OutputPer1K float64 `json:"output"`
}

// defaultRates is the built-in rate table used when no override is stored.
var defaultRates = map[string]Rate{
	"gpt-4":         {InputPer1K: 30, OutputPer1K: 60},
	"gpt-4o":        {InputPer1K: 5, OutputPer1K: 15},
	"gpt-4o-mini":   {InputPer1K: 1, OutputPer1K: 2},
	"gpt-3.5-turbo": {InputPer1K: 1, OutputPer1K: 2},
	DefaultModelKey: {InputPer1K: 2, OutputPer1K: 4},
}

// Calculator computes credit costs from token counts.
type Calculator struct{}

// NewCalculator constructs a Calculator.
func NewCalculator() *Calculator { return &Calculator{} }

// rateFor resolves the rate for a model id, falling back to the default
// entry. Pricing never fails on an unknown model; a missing table entry must
// not block an operation merely because a new model has not been added yet.
func (c *Calculator) rateFor(modelID string) Rate {
	table := c.table()
	modelID = strings.TrimSpace(modelID)
	if rate, ok := table[modelID]; ok {
		return rate
	}
	if rate, ok := table[DefaultModelKey]; ok {
		return rate
	}
	return defaultRates[DefaultModelKey]
}

// table returns the active rate table, preferring the settings override.
func (c *Calculator) table() map[string]Rate {
	raw, ok := settings.DBConfigValue(settings.RateTableKey)
	if !ok || raw == nil {
		return defaultRates
	}
	var override map[string]Rate
	if errUnmarshal := json.Unmarshal(raw, &override); errUnmarshal != nil || len(override) == 0 {
		return defaultRates
	}
	if _, hasDefault := override[DefaultModelKey]; !hasDefault {
		override[DefaultModelKey] = defaultRates[DefaultModelKey]
	}
	return override
}

// Cost returns the credit cost for a token count of the given type, rounded
// up to the next whole credit so the ledger never under-charges.
func (c *Calculator) Cost(modelID string, tokens int64, tokenType TokenType) int64 {
	if tokens <= 0 {
		return 0
	}
	rate := c.rateFor(modelID)

	var raw float64
	switch tokenType {
	case TokenTypeInput:
		raw = float64(tokens) / 1000 * rate.InputPer1K
	case TokenTypeOutput:
		raw = float64(tokens) / 1000 * rate.OutputPer1K
	default:
		half := float64(tokens) / 2
		raw = half/1000*rate.InputPer1K + half/1000*rate.OutputPer1K
	}
	return int64(math.Ceil(raw))
}

// CostSplit returns the cost for separately known input and output counts.
func (c *Calculator) CostSplit(modelID string, inputTokens, outputTokens int64) int64 {
	rate := c.rateFor(modelID)
	raw := 0.0
	if inputTokens > 0 {
		raw += float64(inputTokens) / 1000 * rate.InputPer1K
	}
	if outputTokens > 0 {
		raw += float64(outputTokens) / 1000 * rate.OutputPer1K
	}
	if raw <= 0 {
		return 0
	}
	return int64(math.Ceil(raw))
}

// FloorCost is the conservative pre-authorization estimate for one exchange:
// the cost of 1000 tokens at the model's blended rate, never below 1 credit.
func (c *Calculator) FloorCost(modelID string) int64 {
	cost := c.Cost(modelID, 1000, TokenTypeBoth)
	if cost < 1 {
		return 1
	}
	return cost
}
