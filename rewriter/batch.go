package rewriter

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ProgressFunc receives the number of prompts processed so far after each batch
type ProgressFunc func(done, total int)

// BatchSink receives each batch's results, in order, before the next batch starts
type BatchSink func(results []RewriteResult) error

// Runner slices pairs into fixed-size batches and drives them through a Generator
type Runner struct {
	generator Generator
	strategy  PromptStrategy
	post      *PostProcessor
	batchSize int
	wordLimit int
	opts      GenerateOptions
	metrics   *MetricsRecorder
	progress  ProgressFunc
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithBatchSize sets the number of prompts per generation call
func WithBatchSize(size int) RunnerOption {
	return func(r *Runner) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// WithWordLimit sets the maximum word count of an accepted rewrite
func WithWordLimit(limit int) RunnerOption {
	return func(r *Runner) {
		if limit > 0 {
			r.wordLimit = limit
		}
	}
}

// WithGenerateOptions sets the options passed to every generation call
func WithGenerateOptions(opts GenerateOptions) RunnerOption {
	return func(r *Runner) {
		r.opts = opts
	}
}

// WithProgress sets the progress callback
func WithProgress(fn ProgressFunc) RunnerOption {
	return func(r *Runner) {
		r.progress = fn
	}
}

// WithRunnerMetrics sets the metrics recorder
func WithRunnerMetrics(metrics *MetricsRecorder) RunnerOption {
	return func(r *Runner) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// NewRunner creates a batch runner. The generator stays owned by the caller.
func NewRunner(generator Generator, strategy PromptStrategy, opts ...RunnerOption) *Runner {
	r := &Runner{
		generator: generator,
		strategy:  strategy,
		batchSize: DefaultBatchSize,
		wordLimit: DefaultWordLimit,
		opts:      GenerateOptions{MaxNewTokens: DefaultMaxNewTokens, Truncate: true},
		metrics:   NewMetricsRecorder(false),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.post = NewPostProcessor(strategy, r.wordLimit, r.metrics)
	return r
}

// BatchCount returns how many batches n prompts occupy
func (r *Runner) BatchCount(n int) int {
	return (n + r.batchSize - 1) / r.batchSize
}

// Run rewrites every pair. Results come back in submission order, one per pair.
// A generation failure stops the run; batches already handed to sink stay written.
func (r *Runner) Run(ctx context.Context, pairs []QAPair, sink BatchSink) ([]RewriteResult, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	results := make([]RewriteResult, 0, len(pairs))

	for i := 0; i < len(pairs); i += r.batchSize {
		end := i + r.batchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		start := time.Now()

		batch := BuildPrompts(r.strategy, pairs[i:end])

		slog.Info("Processing batch of prompts",
			"batch_start", i,
			"batch_end", end-1,
			"batch_size", len(batch))
		r.metrics.RecordBatch(len(batch))

		gens, err := r.generator.Generate(ctx, batch, r.opts)
		if err != nil {
			return results, fmt.Errorf("generation failed in batch %d-%d: %w", i, end-1, err)
		}
		if len(gens) != len(batch) {
			return results, fmt.Errorf("batch %d-%d returned %d generations for %d prompts: %w",
				i, end-1, len(gens), len(batch), ErrResultCountMismatch)
		}

		batchResults := make([]RewriteResult, len(batch))
		for j, prompt := range batch {
			res, err := r.post.Process(prompt, gens[j])
			if err != nil {
				return results, fmt.Errorf("post-processing failed in batch %d-%d: %w", i, end-1, err)
			}
			batchResults[j] = res
		}

		if sink != nil {
			if err := sink(batchResults); err != nil {
				return results, fmt.Errorf("failed to write batch %d-%d: %w", i, end-1, err)
			}
		}
		results = append(results, batchResults...)
		r.metrics.RecordBatchDuration(time.Since(start).Seconds())

		slog.Info("Batch rewriting completed",
			"batch_start", i,
			"batch_end", end-1,
			"answers_rewritten", len(batchResults))

		if r.progress != nil {
			r.progress(end, len(pairs))
		}
	}

	slog.Info("All answers rewritten",
		"total_answers", len(pairs),
		"total_batches", r.BatchCount(len(pairs)))

	return results, nil
}
