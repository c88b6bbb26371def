package rewriter

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed prompts/*.txt
var promptFS embed.FS

// answerMarker precedes the original answer inside every user prompt
const answerMarker = "Answer: "

var (
	systemPrompt      string
	instructionPrompt string
	promptLoadError   error
)

func init() {
	// Load prompt text during package initialization
	system, err := promptFS.ReadFile("prompts/system_prompt.txt")
	if err != nil {
		promptLoadError = fmt.Errorf("failed to load system prompt: %w", err)
		return
	}
	instruction, err := promptFS.ReadFile("prompts/instruction_prompt.txt")
	if err != nil {
		promptLoadError = fmt.Errorf("failed to load instruction prompt: %w", err)
		return
	}
	systemPrompt = strings.TrimSpace(string(system))
	instructionPrompt = strings.TrimSpace(string(instruction))
}

// PromptStrategy pairs prompt construction with result extraction for one model family
type PromptStrategy interface {
	// Family reports the model family the strategy serves
	Family() ModelFamily

	// Build creates the prompt for a pair
	Build(pair QAPair) Prompt

	// Extract returns the model's rewrite and the original answer recovered from the prompt
	Extract(prompt Prompt, gen Generation) (extracted string, answer string, err error)
}

// StrategyFor returns the prompt strategy for a model family
func StrategyFor(family ModelFamily) (PromptStrategy, error) {
	if promptLoadError != nil {
		return nil, promptLoadError
	}
	switch family {
	case FamilyChat:
		return chatStrategy{}, nil
	case FamilyPlainText:
		return plainTextStrategy{}, nil
	default:
		return nil, fmt.Errorf("%w: no prompt strategy for %s", ErrInvalidConfig, family)
	}
}

// BuildPrompts builds one prompt per pair, preserving order
func BuildPrompts(strategy PromptStrategy, pairs []QAPair) []Prompt {
	prompts := make([]Prompt, len(pairs))
	for i, pair := range pairs {
		prompts[i] = strategy.Build(pair)
	}
	return prompts
}

// UserPrompt formats the question, answer and rewriting instruction
func UserPrompt(question, answer string) string {
	return fmt.Sprintf("Question: %s\n%s%s\n%s", question, answerMarker, answer, instructionPrompt)
}

// RecoverAnswer locates the answer line in a user prompt and returns its text
func RecoverAnswer(text string) (string, bool) {
	start := strings.Index(text, "\n"+answerMarker)
	if start >= 0 {
		start++
	} else if strings.HasPrefix(text, answerMarker) {
		start = 0
	} else {
		return "", false
	}
	rest := text[start+len(answerMarker):]
	if end := strings.IndexByte(rest, '\n'); end >= 0 {
		rest = rest[:end]
	}
	return rest, true
}

type chatStrategy struct{}

func (chatStrategy) Family() ModelFamily { return FamilyChat }

func (chatStrategy) Build(pair QAPair) Prompt {
	return Prompt{
		Family: FamilyChat,
		Turns: []Turn{
			{Role: RoleSystem, Content: systemPrompt},
			{Role: RoleUser, Content: UserPrompt(pair.Question, pair.Answer)},
		},
		Pair: pair,
	}
}

type plainTextStrategy struct{}

func (plainTextStrategy) Family() ModelFamily { return FamilyPlainText }

func (plainTextStrategy) Build(pair QAPair) Prompt {
	return Prompt{
		Family: FamilyPlainText,
		Text:   UserPrompt(pair.Question, pair.Answer),
		Pair:   pair,
	}
}
