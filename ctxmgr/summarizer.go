package ctxmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/velsin/swarmflow/types"
)

// Summarizer compresses a block of turns into a single summary string.
// Implementations may call an LLM; the extractive fallback is deterministic
// and never fails.
type Summarizer interface {
	Summarize(ctx context.Context, previousSummary string, turns []types.Turn) (string, error)
}

// ExtractiveSummarizer is the deterministic fallback summarizer. It keeps
// the first sentence of each turn, prefixed with the speaking role, and
// folds the previous summary in so nothing already condensed is lost.
type ExtractiveSummarizer struct {
	// MaxCharsPerTurn bounds the excerpt taken from each turn.
	MaxCharsPerTurn int
}

// NewExtractiveSummarizer returns the fallback summarizer with sane bounds.
func NewExtractiveSummarizer() *ExtractiveSummarizer {
	return &ExtractiveSummarizer{MaxCharsPerTurn: 120}
}

// Summarize implements Summarizer without calling out to any model.
func (s *ExtractiveSummarizer) Summarize(_ context.Context, previousSummary string, turns []types.Turn) (string, error) {
	var b strings.Builder
	if previousSummary != "" {
		b.WriteString(previousSummary)
		b.WriteString("\n")
	}
	for _, t := range turns {
		excerpt := firstSentence(t.Content, s.maxChars())
		if excerpt == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", t.Role, excerpt)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (s *ExtractiveSummarizer) maxChars() int {
	if s.MaxCharsPerTurn <= 0 {
		return 120
	}
	return s.MaxCharsPerTurn
}

// firstSentence returns the content up to the first sentence terminator,
// capped at max bytes on a rune boundary.
func firstSentence(content string, max int) string {
	content = strings.TrimSpace(content)
	if idx := strings.IndexAny(content, ".!?\n"); idx >= 0 {
		content = strings.TrimSpace(content[:idx+1])
	}
	if len(content) <= max {
		return content
	}
	cut := max
	for cut > 0 && content[cut]&0xC0 == 0x80 {
		cut--
	}
	return content[:cut]
}
