// Package rewriter batch-rewrites visual question answering annotations by asking
// a pretrained language model for a short synonym or rephrasing of every answer.
//
// The library loads an annotation file, flattens it into (question, answer) pairs,
// builds a prompt per pair for the selected model family, drives the prompts through
// an OpenAI-compatible inference endpoint in fixed-size batches and keeps a rewrite
// only when it is short enough. Rewrites are appended to a human-readable log and can
// be re-inserted into a copy of the original annotation set.
//
// Features:
//   - Batch processing (32 prompts per batch by default)
//   - Chat-style and plain-text model families selected at configuration time
//   - Word-limit acceptance rule with fallback to the original answer
//   - Input truncation to the model context window
//   - Circuit breaker pattern for resilience
//   - Retry logic with exponential backoff
//   - Prometheus metrics integration
//
// Basic usage:
//
//	cfg := rewriter.NewDefaultConfig("llama3.1:8b").WithToken(os.Getenv("HF_TOKEN"))
//	gen, err := rewriter.NewGenerator(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer gen.Close()
//	p, err := rewriter.NewPipeline(cfg, gen)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	summary, err := p.Run(ctx, set, "output/values/train_values.txt")
package rewriter
