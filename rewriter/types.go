package rewriter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
)

// ModelFamily selects how prompts are built and how generations are read back
type ModelFamily int

const (
	// FamilyChat models take role-tagged conversation turns
	FamilyChat ModelFamily = iota
	// FamilyPlainText models take a single flat prompt string
	FamilyPlainText
)

// String returns the family name used in logs and metric labels
func (f ModelFamily) String() string {
	switch f {
	case FamilyChat:
		return "chat"
	case FamilyPlainText:
		return "plain-text"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// Conversation roles
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Turn is one role-tagged message of a chat prompt
type Turn struct {
	Role    string
	Content string
}

// QAPair is one flattened (question, answer) pair and its position in the set
type QAPair struct {
	RecordIndex int    // Index of the record in AnnotationSet.Annotations
	AnswerIndex int    // Index of the answer within the record
	Question    string // Question text
	Answer      string // Stringified original answer
}

// Prompt is the model input built for one pair
type Prompt struct {
	Family ModelFamily
	Turns  []Turn // Set for FamilyChat
	Text   string // Set for FamilyPlainText
	Pair   QAPair // Pair the prompt was built from
}

// Generation is the raw model output for one prompt. Chat generations carry the
// input turns followed by the assistant turn; plain-text generations carry the
// prompt text followed by the completion.
type Generation struct {
	Turns        []Turn
	Text         string
	FinishReason string
}

// RewriteResult is the post-processed outcome for one pair
type RewriteResult struct {
	Pair      QAPair     // Source pair
	Raw       Generation // Raw model output
	Extracted string     // Text extracted from the raw output
	Rewrite   string     // Accepted rewrite or the original answer
	Accepted  bool       // False when the original answer was kept
}

// GenerateOptions controls a single generation call
type GenerateOptions struct {
	MaxNewTokens int  // Upper bound on generated tokens per prompt
	Truncate     bool // Truncate inputs that exceed the model context window
}

// Generator is the text-generation capability. Implementations return exactly one
// Generation per prompt, in submission order.
type Generator interface {
	// Generate runs one batch of prompts
	Generate(ctx context.Context, prompts []Prompt, opts GenerateOptions) ([]Generation, error)

	// Close releases the resources held by the generator
	Close() error
}

// HealthStatus represents the health state of the generator
type HealthStatus struct {
	Healthy bool                   // Overall health status
	Status  string                 // Human-readable status message
	Details map[string]interface{} // Additional health details
}

// HealthReporter is implemented by generators that can report their health
type HealthReporter interface {
	GetHealth(ctx context.Context) HealthStatus
}

// Config holds the configuration for a rewrite run
type Config struct {
	ModelName            string                // Model selector, see ModelNames (required)
	Token                string                // Access token for gated models
	BaseURL              string                // OpenAI-compatible endpoint base URL
	BatchSize            int                   // Prompts per generation call
	WordLimit            int                   // Maximum words in an accepted rewrite
	MaxNewTokens         int                   // Maximum generated tokens per prompt
	Truncate             bool                  // Truncate prompts to the context window
	EnableMetrics        bool                  // Record Prometheus metrics
	EnableCircuitBreaker bool                  // Enable circuit breaker pattern
	EnableRetry          bool                  // Enable retry with backoff
	Timeout              time.Duration         // HTTP request timeout
	CircuitBreakerConfig *CircuitBreakerConfig // Circuit breaker configuration
	RetryConfig          *RetryConfig          // Retry configuration
}

// CircuitBreakerConfig holds circuit breaker settings
type CircuitBreakerConfig struct {
	MaxRequests   uint32                                      // Max requests in half-open state
	Interval      time.Duration                               // Interval for closed state
	Timeout       time.Duration                               // Timeout for open state
	ReadyToTrip   func(counts gobreaker.Counts) bool          // Custom trip condition
	OnStateChange func(name string, from, to gobreaker.State) // State change callback
}

// RetryConfig holds retry settings
type RetryConfig struct {
	MaxAttempts  int           // Maximum number of attempts
	Strategy     RetryStrategy // Backoff strategy to use
	InitialDelay time.Duration // Initial delay between retries
	MaxDelay     time.Duration // Maximum delay between retries
}

// RetryStrategy defines the backoff strategy for retries
type RetryStrategy string

const (
	RetryStrategyExponential RetryStrategy = "exponential"
	RetryStrategyConstant    RetryStrategy = "constant"
	RetryStrategyFibonacci   RetryStrategy = "fibonacci"
)

// Run defaults. These are not exposed on the command line.
const (
	DefaultBatchSize    = 32
	DefaultWordLimit    = 8
	DefaultMaxNewTokens = 10
	DefaultBaseURL      = "http://localhost:8000/v1"
	DefaultTimeout      = 120 * time.Second
)

// MissingTokenMessage is the fixed message reported when a gated model has no token
const MissingTokenMessage = "Unable to login Hugging Face, please provide a HF token."

// OpenAIClient defines the subset of the OpenAI API used by the generator
type OpenAIClient interface {
	CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateCompletion(context.Context, openai.CompletionRequest) (openai.CompletionResponse, error)
}

// Error definitions
var (
	ErrMissingModel        = errors.New("model name is required")
	ErrUnknownModel        = errors.New("unknown model")
	ErrMissingToken        = errors.New(MissingTokenMessage)
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrMissingAnnotations  = errors.New("annotation file has no annotations key")
	ErrMissingAnswerField  = errors.New("answer entry has no answer field")
	ErrResultCountMismatch = errors.New("result count does not match submitted pairs")
	ErrResultOutOfOrder    = errors.New("result received out of submission order")
	ErrEmptyGeneration     = errors.New("generation returned no choices")
	ErrMalformedGeneration = errors.New("malformed generation output")
	ErrGeneratorClosed     = errors.New("generator is closed")
)
