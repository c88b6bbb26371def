package rewriter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
)

// openAIGenerator drives an OpenAI-compatible inference endpoint. Chat models go
// through the chat completions endpoint one conversation at a time; plain-text
// models send the whole batch in a single completions request.
type openAIGenerator struct {
	client  OpenAIClient
	model   ModelSpec
	metrics *MetricsRecorder
	breaker *CircuitBreakerWrapper
	http    *http.Client
	closed  bool
}

// GeneratorOption configures a generator built with NewGeneratorWithClient
type GeneratorOption func(*openAIGenerator)

// WithGeneratorMetrics sets the metrics recorder used by the generator
func WithGeneratorMetrics(metrics *MetricsRecorder) GeneratorOption {
	return func(g *openAIGenerator) {
		if metrics != nil {
			g.metrics = metrics
		}
	}
}

// NewGenerator validates cfg and connects a generator to the configured endpoint.
// The caller owns the returned handle and must Close it.
func NewGenerator(cfg Config) (Generator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	spec, err := cfg.Model()
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	clientCfg := openai.DefaultConfig(cfg.Token)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.HTTPClient = httpClient

	metrics := NewMetricsRecorder(cfg.EnableMetrics)
	var client OpenAIClient = openai.NewClientWithConfig(clientCfg)

	// Layer 1: retry (innermost)
	if cfg.EnableRetry {
		slog.Info("Enabling retry logic",
			"max_attempts", cfg.RetryConfig.MaxAttempts,
			"strategy", cfg.RetryConfig.Strategy)
		client = NewRetryWrapper(client, cfg.RetryConfig).WithMetrics(metrics)
	}

	// Layer 2: circuit breaker (wraps retry)
	var breaker *CircuitBreakerWrapper
	if cfg.EnableCircuitBreaker {
		slog.Info("Enabling circuit breaker",
			"max_requests", cfg.CircuitBreakerConfig.MaxRequests,
			"timeout", cfg.CircuitBreakerConfig.Timeout)

		cbConfig := *cfg.CircuitBreakerConfig
		onStateChange := cbConfig.OnStateChange
		cbConfig.OnStateChange = func(name string, from, to gobreaker.State) {
			metrics.RecordCircuitBreakerState(name, stateToInt(to))
			if to == gobreaker.StateOpen {
				metrics.RecordCircuitBreakerTrip(name)
			}
			if onStateChange != nil {
				onStateChange(name, from, to)
			}
		}
		breaker = NewCircuitBreakerWrapper(client, &cbConfig)
		client = breaker
	}

	slog.Info("Generator created",
		"model", spec.Name,
		"model_id", spec.ModelID,
		"family", spec.Family.String(),
		"base_url", cfg.BaseURL,
		"circuit_breaker", cfg.EnableCircuitBreaker,
		"retry", cfg.EnableRetry)

	return &openAIGenerator{
		client:  client,
		model:   spec,
		metrics: metrics,
		breaker: breaker,
		http:    httpClient,
	}, nil
}

// NewGeneratorWithClient creates a generator around an existing client
func NewGeneratorWithClient(client OpenAIClient, spec ModelSpec, opts ...GeneratorOption) Generator {
	g := &openAIGenerator{
		client:  client,
		model:   spec,
		metrics: NewMetricsRecorder(false),
	}
	if cb, ok := client.(*CircuitBreakerWrapper); ok {
		g.breaker = cb
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate runs one batch and returns one generation per prompt in order
func (g *openAIGenerator) Generate(ctx context.Context, prompts []Prompt, opts GenerateOptions) ([]Generation, error) {
	if g.closed {
		return nil, ErrGeneratorClosed
	}
	if len(prompts) == 0 {
		return nil, nil
	}

	maxTokens := opts.MaxNewTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxNewTokens
	}

	inputs := make([]Prompt, len(prompts))
	for i, p := range prompts {
		if p.Family != g.model.Family {
			return nil, fmt.Errorf("%w: %s prompt sent to %s model %s",
				ErrInvalidConfig, p.Family, g.model.Family, g.model.Name)
		}
		inputs[i] = p
		if !opts.Truncate {
			continue
		}
		if cut, truncated := TruncatePrompt(p, g.model.ContextWindow, maxTokens); truncated {
			slog.Warn("Prompt truncated to fit the context window",
				"question", p.Pair.Question,
				"context_window", g.model.ContextWindow)
			g.metrics.RecordTruncation()
			inputs[i] = cut
		}
	}

	var gens []Generation
	var err error
	switch g.model.Family {
	case FamilyChat:
		gens, err = g.generateChat(ctx, prompts, inputs, maxTokens)
	default:
		gens, err = g.generateText(ctx, prompts, inputs, maxTokens)
	}
	if err != nil {
		g.metrics.RecordRequest("error", g.model.ModelID)
		g.metrics.RecordError(classifyError(err))
		return nil, err
	}

	g.metrics.RecordRequest("success", g.model.ModelID)
	return gens, nil
}

func (g *openAIGenerator) generateChat(ctx context.Context, prompts, inputs []Prompt, maxTokens int) ([]Generation, error) {
	gens := make([]Generation, len(inputs))
	for i, p := range inputs {
		messages := make([]openai.ChatCompletionMessage, len(p.Turns))
		for j, turn := range p.Turns {
			messages[j] = openai.ChatCompletionMessage{Role: turn.Role, Content: turn.Content}
		}

		start := time.Now()
		resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:     g.model.ModelID,
			Messages:  messages,
			MaxTokens: maxTokens,
		})
		g.metrics.RecordAPICall("chat_completion", callStatus(err), time.Since(start).Seconds())
		if err != nil {
			return nil, fmt.Errorf("chat completion failed for prompt %d: %w", i, err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("chat completion for prompt %d: %w", i, ErrEmptyGeneration)
		}
		g.recordUsage(resp.Usage)

		choice := resp.Choices[0]
		turns := append(append([]Turn(nil), prompts[i].Turns...), Turn{
			Role:    RoleAssistant,
			Content: choice.Message.Content,
		})
		gens[i] = Generation{Turns: turns, FinishReason: string(choice.FinishReason)}
	}
	return gens, nil
}

func (g *openAIGenerator) generateText(ctx context.Context, prompts, inputs []Prompt, maxTokens int) ([]Generation, error) {
	texts := make([]string, len(inputs))
	for i, p := range inputs {
		texts[i] = p.Text
	}

	start := time.Now()
	resp, err := g.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:     g.model.ModelID,
		Prompt:    texts,
		MaxTokens: maxTokens,
	})
	g.metrics.RecordAPICall("completion", callStatus(err), time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("completion failed for batch of %d prompts: %w", len(texts), err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completion for batch of %d prompts: %w", len(texts), ErrEmptyGeneration)
	}
	if len(resp.Choices) != len(texts) {
		return nil, fmt.Errorf("completion returned %d choices for %d prompts: %w",
			len(resp.Choices), len(texts), ErrResultCountMismatch)
	}
	g.recordUsage(resp.Usage)

	choices := append([]openai.CompletionChoice(nil), resp.Choices...)
	sort.SliceStable(choices, func(a, b int) bool { return choices[a].Index < choices[b].Index })

	gens := make([]Generation, len(choices))
	for i, choice := range choices {
		if choice.Index != i {
			return nil, fmt.Errorf("completion choice indices are not 0..%d (found %d at position %d): %w",
				len(choices)-1, choice.Index, i, ErrResultCountMismatch)
		}
		gens[i] = Generation{
			Text:         prompts[i].Text + choice.Text,
			FinishReason: choice.FinishReason,
		}
	}
	return gens, nil
}

func (g *openAIGenerator) recordUsage(usage openai.Usage) {
	g.metrics.RecordTokensUsed("prompt", usage.PromptTokens)
	g.metrics.RecordTokensUsed("completion", usage.CompletionTokens)
	g.metrics.RecordTokensUsed("total", usage.TotalTokens)
}

// Close releases idle connections and rejects further batches
func (g *openAIGenerator) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	if g.http != nil {
		g.http.CloseIdleConnections()
	}
	slog.Debug("Generator closed", "model", g.model.Name)
	return nil
}

// GetHealth reports the circuit breaker state when one is configured
func (g *openAIGenerator) GetHealth(ctx context.Context) HealthStatus {
	health := HealthStatus{Healthy: true, Status: "ok", Details: map[string]interface{}{}}
	if g.breaker != nil {
		health = g.breaker.GetHealth()
	}
	if g.closed {
		health.Healthy = false
		health.Status = "closed"
	}

	health.Details["model"] = g.model.Name
	health.Details["model_id"] = g.model.ModelID
	health.Details["family"] = g.model.Family.String()
	return health
}

func callStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
