package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenCounter adapts tiktoken for OpenAI-family models.
type TiktokenCounter struct {
	model    string
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// modelEncodings maps model names to their tiktoken encoding.
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// NewTiktokenCounter creates a tiktoken-backed counter for the given model.
// Returns an error for models with no known encoding so callers can fall
// back to the estimator.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	encoding, ok := modelEncodings[model]
	if !ok {
		// Prefix match, e.g. "gpt-4o-2024-08-06" matches "gpt-4o".
		for prefix, e := range modelEncodings {
			if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
				encoding = e
				ok = true
				break
			}
		}
	}
	if !ok {
		return nil, fmt.Errorf("no tiktoken encoding known for model: %s", model)
	}

	return &TiktokenCounter{model: model, encoding: encoding}, nil
}

// init lazily initializes the tiktoken encoding (may download data on first use).
func (t *TiktokenCounter) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens implements Counter.
func (t *TiktokenCounter) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

// Name implements Counter.
func (t *TiktokenCounter) Name() string {
	return "tiktoken/" + t.encoding
}
