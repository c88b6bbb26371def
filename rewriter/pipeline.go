package rewriter

import (
	"context"
	"log/slog"
	"time"
)

// Summary describes a finished rewrite run
type Summary struct {
	Records   int
	Pairs     int
	Batches   int
	Accepted  int
	Fallbacks int
	LogPath   string
	Duration  time.Duration
	Results   []RewriteResult
}

// Rewrites returns the accepted rewrite for every pair in submission order
func (s *Summary) Rewrites() []string {
	return Rewrites(s.Results)
}

// Pipeline runs loader output through prompt building, batching, post-processing
// and the log writer for one annotation set.
type Pipeline struct {
	config    Config
	generator Generator
	strategy  PromptStrategy
	metrics   *MetricsRecorder
	progress  ProgressFunc
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithPipelineProgress sets the progress callback passed to the batch runner
func WithPipelineProgress(fn ProgressFunc) PipelineOption {
	return func(p *Pipeline) {
		p.progress = fn
	}
}

// NewPipeline selects the prompt strategy for the configured model. The generator
// is borrowed: the caller keeps ownership and closes it.
func NewPipeline(cfg Config, generator Generator, opts ...PipelineOption) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	spec, err := cfg.Model()
	if err != nil {
		return nil, err
	}
	strategy, err := StrategyFor(spec.Family)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		config:    cfg,
		generator: generator,
		strategy:  strategy,
		metrics:   NewMetricsRecorder(cfg.EnableMetrics),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run rewrites every answer of set and appends the results to a fresh log at logPath.
// set itself is never modified.
func (p *Pipeline) Run(ctx context.Context, set *AnnotationSet, logPath string) (*Summary, error) {
	start := time.Now()

	log, err := CreateLogWriter(logPath, set)
	if err != nil {
		return nil, err
	}

	pairs := set.Pairs()
	runner := NewRunner(p.generator, p.strategy,
		WithBatchSize(p.config.BatchSize),
		WithWordLimit(p.config.WordLimit),
		WithGenerateOptions(GenerateOptions{
			MaxNewTokens: p.config.MaxNewTokens,
			Truncate:     p.config.Truncate,
		}),
		WithProgress(p.progress),
		WithRunnerMetrics(p.metrics),
	)

	slog.Info("Starting rewrite run",
		"model", p.config.ModelName,
		"family", p.strategy.Family().String(),
		"records", len(set.Annotations),
		"answers", len(pairs),
		"batch_size", p.config.BatchSize,
		"word_limit", p.config.WordLimit)

	results, err := runner.Run(ctx, pairs, log.Append)
	if err != nil {
		p.metrics.RecordError(classifyError(err))
		return nil, err
	}
	if err := log.Finish(); err != nil {
		return nil, err
	}

	summary := &Summary{
		Records:  len(set.Annotations),
		Pairs:    len(pairs),
		Batches:  runner.BatchCount(len(pairs)),
		LogPath:  log.Path(),
		Duration: time.Since(start),
		Results:  results,
	}
	for _, res := range results {
		if res.Accepted {
			summary.Accepted++
		} else {
			summary.Fallbacks++
		}
	}

	slog.Info("Rewrite run finished",
		"answers", summary.Pairs,
		"accepted", summary.Accepted,
		"fallbacks", summary.Fallbacks,
		"duration", summary.Duration)

	return summary, nil
}
