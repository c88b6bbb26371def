package rewriter

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-retry"
)

// RetryWrapper wraps an OpenAI client with retry logic
type RetryWrapper struct {
	client  OpenAIClient
	config  *RetryConfig
	metrics *MetricsRecorder
}

// NewRetryWrapper creates a new retry wrapper around an OpenAI client
func NewRetryWrapper(client OpenAIClient, config *RetryConfig) *RetryWrapper {
	if config == nil {
		config = defaultRetryConfig()
	}

	return &RetryWrapper{
		client:  client,
		config:  config,
		metrics: NewMetricsRecorder(false),
	}
}

// WithMetrics attaches a metrics recorder to the wrapper
func (w *RetryWrapper) WithMetrics(metrics *MetricsRecorder) *RetryWrapper {
	if metrics != nil {
		w.metrics = metrics
	}
	return w
}

// CreateChatCompletion executes the chat API call with retry logic
func (w *RetryWrapper) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return withRetry(ctx, w, "chat_completion", func() (openai.ChatCompletionResponse, error) {
		return w.client.CreateChatCompletion(ctx, req)
	})
}

// CreateCompletion executes the completions API call with retry logic
func (w *RetryWrapper) CreateCompletion(ctx context.Context, req openai.CompletionRequest) (openai.CompletionResponse, error) {
	return withRetry(ctx, w, "completion", func() (openai.CompletionResponse, error) {
		return w.client.CreateCompletion(ctx, req)
	})
}

func withRetry[T any](ctx context.Context, w *RetryWrapper, endpoint string, call func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	var attempts int

	backoff := w.getBackoffStrategy()
	defer func() { w.metrics.RecordRetryAttempt(attempts) }()

	for {
		attempts++

		resp, err := call()
		if err == nil {
			if attempts > 1 {
				slog.Info("Request succeeded after retry",
					"endpoint", endpoint,
					"attempts", attempts)
			}
			return resp, nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			slog.Debug("Non-retryable error, giving up",
				"endpoint", endpoint,
				"error", err,
				"attempts", attempts)
			return zero, err
		}

		if attempts >= w.config.MaxAttempts {
			slog.Warn("Max retry attempts reached",
				"endpoint", endpoint,
				"attempts", attempts,
				"error", lastErr)
			return zero, lastErr
		}

		delay, stop := backoff.Next()
		if stop {
			slog.Warn("Backoff strategy stopped",
				"endpoint", endpoint,
				"attempts", attempts,
				"error", lastErr)
			return zero, lastErr
		}

		w.metrics.RecordRetry(classifyError(err))
		slog.Debug("Retrying request after delay",
			"endpoint", endpoint,
			"attempt", attempts,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// getBackoffStrategy returns the appropriate backoff strategy
func (w *RetryWrapper) getBackoffStrategy() retry.Backoff {
	switch w.config.Strategy {
	case RetryStrategyConstant:
		return retry.WithMaxRetries(
			uint64(w.config.MaxAttempts),
			retry.BackoffFunc(func() (time.Duration, bool) {
				// Add jitter to prevent thundering herd
				jitter := time.Duration(rand.Int63n(int64(w.config.InitialDelay/10) + 1))
				return w.config.InitialDelay + jitter, false
			}),
		)

	case RetryStrategyFibonacci:
		return retry.WithMaxRetries(
			uint64(w.config.MaxAttempts),
			retry.WithCappedDuration(
				w.config.MaxDelay,
				retry.WithJitter(
					w.config.InitialDelay/10,
					retry.NewFibonacci(w.config.InitialDelay),
				),
			),
		)

	case RetryStrategyExponential:
		fallthrough
	default:
		return retry.WithMaxRetries(
			uint64(w.config.MaxAttempts),
			retry.WithCappedDuration(
				w.config.MaxDelay,
				retry.WithJitter(
					w.config.InitialDelay/10,
					retry.NewExponential(w.config.InitialDelay),
				),
			),
		)
	}
}

// IsRetryableError determines if an error should trigger a retry
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if status, ok := httpStatus(err); ok {
		switch status {
		case 429: // Rate limit - definitely retry
			return true
		case 500, 502, 503, 504: // Server errors - retry
			return true
		case 400, 401, 403, 404: // Client errors - don't retry
			return false
		default:
			return status >= 500
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	// Malformed output will not improve on a second attempt
	if errors.Is(err, ErrResultCountMismatch) || errors.Is(err, ErrMalformedGeneration) {
		return false
	}

	// Network errors might be retryable
	return true
}

// httpStatus extracts the HTTP status carried by an OpenAI client error
func httpStatus(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}
