// Package llm generates answers to search queries from retrieved document chunks.
package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/models"
)

// ErrEmptyAnswer is returned when the model produced no usable text.
var ErrEmptyAnswer = errors.New("language model returned an empty answer")

// DefaultSystemPrompt instructs the model to stay within the retrieved context.
const DefaultSystemPrompt = `You are an assistant for a real estate company. You help analyse property documents such as rental agreements, purchase contracts and loan agreements.
Use ONLY the provided context to answer the question. If the answer is not in the context, say honestly that you do not know instead of speculating. Answer in the language of the question.`

// Generator produces an answer to query given the retrieved context.
type Generator interface {
	Generate(ctx context.Context, query, context string) (string, error)
}

// New returns the configured generator, or nil when generation is disabled.
func New(cfg *config.LLMConfig, logger *zap.Logger) (Generator, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		return NewOpenAIGenerator(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

var (
	thinkBlock = regexp.MustCompile(`(?is)<think>.*?</think>`)
	thinkOpen  = regexp.MustCompile(`(?is)<think>.*$`)
)

// CleanOutput removes reasoning blocks that some models emit before the answer.
// Text up to a stray closing tag is dropped too, as is an unterminated block.
func CleanOutput(text string) string {
	text = thinkBlock.ReplaceAllString(text, "")
	if i := strings.LastIndex(strings.ToLower(text), "</think>"); i >= 0 {
		text = text[i+len("</think>"):]
	}
	text = thinkOpen.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// BuildContext formats chunks as "[Document: name]" headed blocks separated by blank lines.
func BuildContext(chunks []*models.ScoredChunk) string {
	blocks := make([]string, 0, len(chunks))
	for _, c := range chunks {
		blocks = append(blocks, fmt.Sprintf("[Document: %s]\n%s", c.DocumentName, strings.TrimSpace(c.Text)))
	}
	return strings.Join(blocks, "\n\n")
}

// maxFallbackHits bounds how many raw hits a fallback answer lists.
const maxFallbackHits = 5

// FallbackAnswer lists the raw hits when no generated answer is available.
func FallbackAnswer(query string, chunks []*models.ScoredChunk, reason string) string {
	var b strings.Builder
	if reason != "" {
		fmt.Fprintf(&b, "%s\n\n", reason)
	}
	if len(chunks) == 0 {
		fmt.Fprintf(&b, "No relevant documents were found for %q.", query)
		return b.String()
	}
	b.WriteString("These are the relevant passages found, without AI analysis:\n\n")
	for i, c := range chunks {
		if i == maxFallbackHits {
			break
		}
		name := c.DocumentName
		if name == "" {
			name = "Unknown document"
		}
		fmt.Fprintf(&b, "**Document %d: %s**\n\n%s\n\n", i+1, name, strings.TrimSpace(c.Text))
	}
	return strings.TrimSpace(b.String())
}
