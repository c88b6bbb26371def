package rewriter

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Token counts use the cl100k_base encoding as an approximation of the served
// model's tokenizer, falling back to a character heuristic when the encoding
// cannot be loaded.
var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func tokenEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// CountTokens returns the token count of text
func CountTokens(text string) int {
	if enc := tokenEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

// estimateTokens returns max(runes/4, word_count)
func estimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	estimate := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}

// TruncateText cuts text to at most maxTokens tokens, keeping the head.
// It reports whether anything was removed.
func TruncateText(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return "", text != ""
	}
	if CountTokens(text) <= maxTokens {
		return text, false
	}

	if enc := tokenEncoding(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		return enc.Decode(tokens[:maxTokens]), true
	}

	// Heuristic path: keep roughly four runes per token and never more words than tokens
	runes := []rune(text)
	if limit := maxTokens * 4; len(runes) > limit {
		runes = runes[:limit]
	}
	words := strings.Fields(string(runes))
	if len(words) > maxTokens {
		words = words[:maxTokens]
	}
	return strings.Join(words, " "), true
}

// TruncatePrompt fits a prompt into contextWindow tokens, leaving room for
// maxNewTokens of output. Only the user turn (or the flat text) is cut.
func TruncatePrompt(p Prompt, contextWindow, maxNewTokens int) (Prompt, bool) {
	if contextWindow <= 0 {
		return p, false
	}
	budget := contextWindow - maxNewTokens

	switch p.Family {
	case FamilyChat:
		used := 0
		user := -1
		for i, turn := range p.Turns {
			if turn.Role == RoleUser && user < 0 {
				user = i
				continue
			}
			used += CountTokens(turn.Content)
		}
		if user < 0 {
			return p, false
		}
		content, truncated := TruncateText(p.Turns[user].Content, budget-used)
		if !truncated {
			return p, false
		}
		out := p
		out.Turns = append([]Turn(nil), p.Turns...)
		out.Turns[user].Content = content
		return out, true

	default:
		text, truncated := TruncateText(p.Text, budget)
		if !truncated {
			return p, false
		}
		out := p
		out.Text = text
		return out, true
	}
}
