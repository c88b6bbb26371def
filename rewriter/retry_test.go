package rewriter_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sashabaranov/go-openai"

	"github.com/JohnPlummer/answer-rewriter/rewriter"
)

// Retry covers transient failure handling around both inference endpoints:
// error classification, attempt limits, backoff strategies and cancellation.
var _ = Describe("Retry", func() {
	var (
		wrapper *rewriter.RetryWrapper
		mockAPI *mockAPIClient
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockAPI = &mockAPIClient{}

		config := rewriter.RetryConfig{
			MaxAttempts:  3,
			Strategy:     rewriter.RetryStrategyExponential,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
		}

		wrapper = rewriter.NewRetryWrapper(mockAPI, &config)
	})

	Describe("Successful Requests", func() {
		It("should not retry on successful requests", func() {
			mockAPI.chatResponse = chatReply("azure")

			resp, err := wrapper.CreateChatCompletion(ctx, openai.ChatCompletionRequest{})

			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Choices[0].Message.Content).To(Equal("azure"))
			Expect(mockAPI.calls).To(Equal(1))
		})
	})

	Describe("Retryable Errors", func() {
		It("should retry rate limited chat requests", func() {
			rateLimit := &openai.APIError{Code: "rate_limit_exceeded", Message: "Rate limit exceeded", HTTPStatusCode: 429}
			mockAPI.errors = []error{rateLimit, rateLimit, nil}
			mockAPI.chatResponse = chatReply("success after retry")

			start := time.Now()
			resp, err := wrapper.CreateChatCompletion(ctx, openai.ChatCompletionRequest{})
			duration := time.Since(start)

			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Choices[0].Message.Content).To(Equal("success after retry"))
			Expect(mockAPI.calls).To(Equal(3))
			// ~10ms + ~20ms
			Expect(duration).To(BeNumerically(">=", 25*time.Millisecond))
		})

		It("should retry completion requests on server errors", func() {
			mockAPI.errors = []error{&openai.APIError{Message: "Bad gateway", HTTPStatusCode: 502}, nil}
			mockAPI.completionResponse = openai.CompletionResponse{
				Choices: []openai.CompletionChoice{{Text: " azure"}},
			}

			resp, err := wrapper.CreateCompletion(ctx, openai.CompletionRequest{})

			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Choices[0].Text).To(Equal(" azure"))
			Expect(mockAPI.calls).To(Equal(2))
			Expect(mockAPI.completionRequests).To(HaveLen(2))
		})

		It("should retry on timeout errors", func() {
			mockAPI.errors = []error{context.DeadlineExceeded, nil}
			mockAPI.chatResponse = chatReply("ok")

			_, err := wrapper.CreateChatCompletion(ctx, openai.ChatCompletionRequest{})

			Expect(err).ToNot(HaveOccurred())
			Expect(mockAPI.calls).To(Equal(2))
		})
	})

	Describe("Non-Retryable Errors", func() {
		It("should not retry on authentication errors", func() {
			mockAPI.errors = []error{&openai.APIError{Code: "invalid_api_key", HTTPStatusCode: 401}}

			_, err := wrapper.CreateChatCompletion(ctx, openai.ChatCompletionRequest{})

			Expect(err).To(HaveOccurred())
			Expect(mockAPI.calls).To(Equal(1))
		})

		It("should not retry malformed output", func() {
			mockAPI.errors = []error{fmt.Errorf("choices: %w", rewriter.ErrResultCountMismatch)}

			_, err := wrapper.CreateCompletion(ctx, openai.CompletionRequest{})

			Expect(err).To(MatchError(rewriter.ErrResultCountMismatch))
			Expect(mockAPI.calls).To(Equal(1))
		})
	})

	Describe("Max Attempts", func() {
		It("should return the last error after max attempts", func() {
			lastErr := errors.New("final error")
			mockAPI.errors = []error{errors.New("error 1"), errors.New("error 2"), lastErr, errors.New("unreached")}

			_, err := wrapper.CreateChatCompletion(ctx, openai.ChatCompletionRequest{})

			Expect(err).To(Equal(lastErr))
			Expect(mockAPI.calls).To(Equal(3))
		})
	})

	Describe("Backoff Strategies", func() {
		DescribeTable("should recover with each strategy",
			func(strategy rewriter.RetryStrategy) {
				config := rewriter.RetryConfig{
					MaxAttempts:  3,
					Strategy:     strategy,
					InitialDelay: 5 * time.Millisecond,
					MaxDelay:     20 * time.Millisecond,
				}
				wrapper = rewriter.NewRetryWrapper(mockAPI, &config)
				mockAPI.errors = []error{errors.New("error 1"), errors.New("error 2"), nil}
				mockAPI.chatResponse = chatReply("ok")

				start := time.Now()
				_, err := wrapper.CreateChatCompletion(ctx, openai.ChatCompletionRequest{})

				Expect(err).ToNot(HaveOccurred())
				Expect(mockAPI.calls).To(Equal(3))
				Expect(time.Since(start)).To(BeNumerically(">=", 8*time.Millisecond))
			},
			Entry("exponential", rewriter.RetryStrategyExponential),
			Entry("constant", rewriter.RetryStrategyConstant),
			Entry("fibonacci", rewriter.RetryStrategyFibonacci),
		)
	})

	Describe("Context Cancellation", func() {
		It("should stop retrying when the context is cancelled", func() {
			config := rewriter.RetryConfig{
				MaxAttempts:  5,
				Strategy:     rewriter.RetryStrategyConstant,
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     time.Second,
			}
			wrapper = rewriter.NewRetryWrapper(mockAPI, &config)
			mockAPI.err = errors.New("connection refused")

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			_, err := wrapper.CreateChatCompletion(ctx, openai.ChatCompletionRequest{})

			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(mockAPI.calls).To(Equal(1))
		})
	})

	Describe("Error Classification", func() {
		It("should classify errors correctly", func() {
			Expect(rewriter.IsRetryableError(&openai.APIError{HTTPStatusCode: 429})).To(BeTrue())
			Expect(rewriter.IsRetryableError(&openai.APIError{HTTPStatusCode: 503})).To(BeTrue())
			Expect(rewriter.IsRetryableError(&openai.RequestError{HTTPStatusCode: 504, Err: errors.New("gateway")})).To(BeTrue())
			Expect(rewriter.IsRetryableError(context.DeadlineExceeded)).To(BeTrue())
			Expect(rewriter.IsRetryableError(errors.New("connection reset"))).To(BeTrue())

			Expect(rewriter.IsRetryableError(nil)).To(BeFalse())
			Expect(rewriter.IsRetryableError(&openai.APIError{HTTPStatusCode: 400})).To(BeFalse())
			Expect(rewriter.IsRetryableError(&openai.RequestError{HTTPStatusCode: 404, Err: errors.New("no route")})).To(BeFalse())
			Expect(rewriter.IsRetryableError(context.Canceled)).To(BeFalse())
			Expect(rewriter.IsRetryableError(rewriter.ErrMalformedGeneration)).To(BeFalse())
		})
	})
})
