package rewriter

import (
	"fmt"
	"log/slog"
	"strings"
)

// PostProcessor turns raw generations into accepted rewrites
type PostProcessor struct {
	strategy  PromptStrategy
	wordLimit int
	metrics   *MetricsRecorder
}

// NewPostProcessor creates a post-processor. A non-positive word limit uses DefaultWordLimit.
func NewPostProcessor(strategy PromptStrategy, wordLimit int, metrics *MetricsRecorder) *PostProcessor {
	if wordLimit <= 0 {
		wordLimit = DefaultWordLimit
	}
	if metrics == nil {
		metrics = NewMetricsRecorder(false)
	}
	return &PostProcessor{strategy: strategy, wordLimit: wordLimit, metrics: metrics}
}

// Process extracts the rewrite from one generation and applies the word limit
func (p *PostProcessor) Process(prompt Prompt, gen Generation) (RewriteResult, error) {
	extracted, recovered, err := p.strategy.Extract(prompt, gen)
	if err != nil {
		return RewriteResult{}, fmt.Errorf("failed to extract rewrite for %q: %w", prompt.Pair.Answer, err)
	}

	original := prompt.Pair.Answer
	if recovered != original {
		slog.Warn("Recovered answer differs from submitted answer",
			"question", prompt.Pair.Question,
			"submitted", original,
			"recovered", recovered)
	}

	extracted = SanitizeContent(extracted)
	rewrite, accepted := AcceptRewrite(extracted, original, p.wordLimit)

	outcome := "accepted"
	switch {
	case accepted:
		p.metrics.RecordRewriteWords(WordCount(rewrite))
	case extracted == "":
		outcome = "fallback_empty"
	default:
		outcome = "fallback_word_limit"
	}
	p.metrics.RecordRewrite(outcome)

	slog.Debug("Answer rewritten",
		"question", prompt.Pair.Question,
		"answer", original,
		"extracted", extracted,
		"rewrite", rewrite,
		"outcome", outcome)

	return RewriteResult{
		Pair:      prompt.Pair,
		Raw:       gen,
		Extracted: extracted,
		Rewrite:   rewrite,
		Accepted:  accepted,
	}, nil
}

// AcceptRewrite keeps the extracted text when it is non-empty and has at most
// wordLimit words; otherwise it returns the original answer.
func AcceptRewrite(extracted, original string, wordLimit int) (string, bool) {
	words := WordCount(extracted)
	if words == 0 || words > wordLimit {
		return original, false
	}
	return extracted, true
}

func (chatStrategy) Extract(prompt Prompt, gen Generation) (string, string, error) {
	if len(gen.Turns) == 0 {
		return "", "", fmt.Errorf("%w: no turns", ErrMalformedGeneration)
	}
	last := gen.Turns[len(gen.Turns)-1]
	if last.Role != RoleAssistant {
		return "", "", fmt.Errorf("%w: final turn has role %q", ErrMalformedGeneration, last.Role)
	}

	// Cross-check the answer embedded in the user turn
	answer := prompt.Pair.Answer
	for _, turn := range gen.Turns {
		if turn.Role != RoleUser {
			continue
		}
		if recovered, ok := RecoverAnswer(turn.Content); ok {
			answer = recovered
		}
		break
	}

	return firstLine(last.Content), answer, nil
}

func (plainTextStrategy) Extract(prompt Prompt, gen Generation) (string, string, error) {
	slog.Debug("Plain-text generation", "generated_text", gen.Text)

	completion := strings.TrimPrefix(gen.Text, prompt.Text)
	answer := prompt.Pair.Answer
	if recovered, ok := RecoverAnswer(prompt.Text); ok {
		answer = recovered
	}

	return firstLine(completion), answer, nil
}

// firstLine returns the first non-empty line of model output, trimmed.
// Rewrites never span lines.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
