package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimatorCounter_ASCII(t *testing.T) {
	t.Parallel()
	e := NewEstimatorCounter("any")

	n, err := e.CountTokens(strings.Repeat("a", 40))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestEstimatorCounter_Empty(t *testing.T) {
	t.Parallel()
	e := NewEstimatorCounter("any")

	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEstimatorCounter_CJKWeighting(t *testing.T) {
	t.Parallel()
	e := NewEstimatorCounter("any")

	ascii, err := e.CountTokens(strings.Repeat("a", 12))
	require.NoError(t, err)
	cjk, err := e.CountTokens(strings.Repeat("语", 12))
	require.NoError(t, err)
	assert.Greater(t, cjk, ascii)
}

func TestEstimatorCounter_ShortTextIsAtLeastOneToken(t *testing.T) {
	t.Parallel()
	e := NewEstimatorCounter("any")

	n, err := e.CountTokens("hi")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestForModel_FallsBackToEstimator(t *testing.T) {
	t.Parallel()
	c := ForModel("totally-unknown-model")
	assert.Equal(t, "estimator", c.Name())
}

func TestForModel_KnownModelUsesTiktoken(t *testing.T) {
	t.Parallel()
	c := ForModel("gpt-4o-mini")
	assert.Equal(t, "tiktoken/o200k_base", c.Name())
}
