package rewriter

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerWrapper wraps an OpenAI client with circuit breaker functionality.
// Both endpoints share one breaker because they hit the same inference server.
type CircuitBreakerWrapper struct {
	client OpenAIClient
	cb     *gobreaker.CircuitBreaker[any]
}

// NewCircuitBreakerWrapper creates a new circuit breaker wrapper around an OpenAI client
func NewCircuitBreakerWrapper(client OpenAIClient, config *CircuitBreakerConfig) *CircuitBreakerWrapper {
	if config == nil {
		config = defaultCircuitBreakerConfig()
	}

	settings := gobreaker.Settings{
		Name:        "inference-api",
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: config.ReadyToTrip,
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())

			if config.OnStateChange != nil {
				config.OnStateChange(name, from, to)
			}
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Rate limits and timeouts are temporary and handled by retry
			return !ShouldTripCircuit(err)
		},
	}

	return &CircuitBreakerWrapper{
		client: client,
		cb:     gobreaker.NewCircuitBreaker[any](settings),
	}
}

// CreateChatCompletion executes the chat API call through the circuit breaker
func (w *CircuitBreakerWrapper) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	out, err := w.cb.Execute(func() (any, error) {
		resp, err := w.client.CreateChatCompletion(ctx, req)
		return resp, err
	})
	w.logFailure(err)

	resp, _ := out.(openai.ChatCompletionResponse)
	return resp, err
}

// CreateCompletion executes the completions API call through the circuit breaker
func (w *CircuitBreakerWrapper) CreateCompletion(ctx context.Context, req openai.CompletionRequest) (openai.CompletionResponse, error) {
	out, err := w.cb.Execute(func() (any, error) {
		resp, err := w.client.CreateCompletion(ctx, req)
		return resp, err
	})
	w.logFailure(err)

	resp, _ := out.(openai.CompletionResponse)
	return resp, err
}

func (w *CircuitBreakerWrapper) logFailure(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, gobreaker.ErrOpenState) {
		slog.Debug("Circuit breaker is open, request rejected",
			"error", err)
	} else if errors.Is(err, gobreaker.ErrTooManyRequests) {
		slog.Debug("Circuit breaker in half-open state, too many requests",
			"error", err)
	} else {
		slog.Debug("Request failed through circuit breaker",
			"error", err,
			"should_trip", ShouldTripCircuit(err))
	}
}

// State returns the current state of the circuit breaker
func (w *CircuitBreakerWrapper) State() gobreaker.State {
	return w.cb.State()
}

// Counts returns the current counts of the circuit breaker
func (w *CircuitBreakerWrapper) Counts() gobreaker.Counts {
	return w.cb.Counts()
}

// GetHealth returns the health status of the circuit breaker
func (w *CircuitBreakerWrapper) GetHealth() HealthStatus {
	state := w.cb.State()
	counts := w.cb.Counts()

	var healthy bool
	var status string

	switch state {
	case gobreaker.StateClosed:
		healthy = true
		status = "closed"
	case gobreaker.StateHalfOpen:
		healthy = true // Degraded but operational
		status = "half-open"
	case gobreaker.StateOpen:
		healthy = false
		status = "open"
	default:
		status = "unknown"
	}

	return HealthStatus{
		Healthy: healthy,
		Status:  status,
		Details: map[string]interface{}{
			"state":                 state.String(),
			"requests":              counts.Requests,
			"total_successes":       counts.TotalSuccesses,
			"total_failures":        counts.TotalFailures,
			"consecutive_failures":  counts.ConsecutiveFailures,
			"consecutive_successes": counts.ConsecutiveSuccesses,
		},
	}
}

// ShouldTripCircuit determines if an error should cause the circuit to trip
func ShouldTripCircuit(err error) bool {
	if err == nil {
		return false
	}

	if status, ok := httpStatus(err); ok {
		switch {
		case status == 429: // Rate limit - don't trip, this is expected
			return false
		case status >= 400:
			return true
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	// Unknown errors should trip the circuit
	return true
}

// stateToInt converts circuit breaker state to int for metrics
func stateToInt(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
