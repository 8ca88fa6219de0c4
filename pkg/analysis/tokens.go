package analysis

import "strings"

// CharsPerToken is the fixed ratio EstimateTokens uses.
const CharsPerToken = 4

// DefaultTokenBudget applies to models without a known context limit.
const DefaultTokenBudget = 4096

var modelTokenLimits = map[string]int{
	"gpt-3.5-turbo": 4096,
	"gpt-4":         8192,
	"gpt-4-32k":     32768,
}

// EstimateTokens approximates the token count of text as one token per
// CharsPerToken bytes, rounded up. It is deterministic so splits are
// reproducible.
func EstimateTokens(text string) int {
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

// TokenBudgetForModel returns the context limit of a known model, or
// DefaultTokenBudget.
func TokenBudgetForModel(model string) int {
	if limit, ok := modelTokenLimits[strings.ToLower(strings.TrimSpace(model))]; ok {
		return limit
	}
	return DefaultTokenBudget
}
