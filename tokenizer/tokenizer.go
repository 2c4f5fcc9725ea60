// Package tokenizer provides token counting for the context manager's
// working-memory budget. A tiktoken-backed counter covers OpenAI-family
// encodings; a CJK-aware estimator serves as the fallback for everything else.
package tokenizer

// Counter is the unified token counting interface.
type Counter interface {
	// CountTokens returns the token count for the given text.
	CountTokens(text string) (int, error)

	// Name returns the counter's name.
	Name() string
}

// ForModel returns a tiktoken counter for the given model when an encoding
// is known, falling back to the generic estimator otherwise.
func ForModel(model string) Counter {
	if c, err := NewTiktokenCounter(model); err == nil {
		return c
	}
	return NewEstimatorCounter(model)
}
