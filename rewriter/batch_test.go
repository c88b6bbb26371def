package rewriter_test

import (
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JohnPlummer/answer-rewriter/rewriter"
)

var _ = Describe("Runner", func() {
	var (
		ctx      context.Context
		gen      *fakeGenerator
		strategy rewriter.PromptStrategy
	)

	BeforeEach(func() {
		ctx = context.Background()
		gen = &fakeGenerator{}
		var err error
		strategy, err = rewriter.StrategyFor(rewriter.FamilyChat)
		Expect(err).ToNot(HaveOccurred())
	})

	It("should split pairs into fixed-size batches", func() {
		pairs := makeSet(35, 2).Pairs()
		runner := rewriter.NewRunner(gen, strategy)

		results, err := runner.Run(ctx, pairs, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(results).To(HaveLen(70))
		Expect(gen.batchSizes()).To(Equal([]int{32, 32, 6}))
		Expect(runner.BatchCount(70)).To(Equal(3))
	})

	It("should return one result per pair in submission order", func() {
		pairs := makeSet(5, 3).Pairs()
		gen.reply = func(p rewriter.Prompt) string { return strings.ToUpper(p.Pair.Answer) }
		runner := rewriter.NewRunner(gen, strategy, rewriter.WithBatchSize(4))

		results, err := runner.Run(ctx, pairs, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(results).To(HaveLen(len(pairs)))
		for i, res := range results {
			Expect(res.Pair).To(Equal(pairs[i]))
			Expect(res.Rewrite).To(Equal(strings.ToUpper(pairs[i].Answer)))
		}
	})

	It("should pass the generation options to every call", func() {
		opts := rewriter.GenerateOptions{MaxNewTokens: 4, Truncate: false}
		runner := rewriter.NewRunner(gen, strategy, rewriter.WithBatchSize(2), rewriter.WithGenerateOptions(opts))

		_, err := runner.Run(ctx, makeSet(3, 1).Pairs(), nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(gen.opts).To(HaveLen(2))
		Expect(gen.opts).To(HaveEach(opts))
	})

	It("should default to ten new tokens with truncation", func() {
		runner := rewriter.NewRunner(gen, strategy)
		_, err := runner.Run(ctx, makeSet(1, 1).Pairs(), nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(gen.opts[0]).To(Equal(rewriter.GenerateOptions{MaxNewTokens: 10, Truncate: true}))
	})

	It("should report progress after each batch", func() {
		var seen [][2]int
		runner := rewriter.NewRunner(gen, strategy,
			rewriter.WithBatchSize(4),
			rewriter.WithProgress(func(done, total int) { seen = append(seen, [2]int{done, total}) }))

		_, err := runner.Run(ctx, makeSet(10, 1).Pairs(), nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(seen).To(Equal([][2]int{{4, 10}, {8, 10}, {10, 10}}))
	})

	It("should hand each batch to the sink before the next one starts", func() {
		var sinkSizes []int
		var callsAtSink []int
		runner := rewriter.NewRunner(gen, strategy, rewriter.WithBatchSize(3))

		_, err := runner.Run(ctx, makeSet(7, 1).Pairs(), func(results []rewriter.RewriteResult) error {
			sinkSizes = append(sinkSizes, len(results))
			callsAtSink = append(callsAtSink, len(gen.calls))
			return nil
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(sinkSizes).To(Equal([]int{3, 3, 1}))
		Expect(callsAtSink).To(Equal([]int{1, 2, 3}))
	})

	It("should fall back to the original for long replies", func() {
		gen.reply = func(rewriter.Prompt) string { return twelveWordRamble }
		runner := rewriter.NewRunner(gen, strategy)

		results, err := runner.Run(ctx, []rewriter.QAPair{{Question: "What color is the sky?", Answer: "blue"}}, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(results[0].Rewrite).To(Equal("blue"))
		Expect(results[0].Accepted).To(BeFalse())
	})

	It("should honor a custom word limit", func() {
		gen.reply = func(rewriter.Prompt) string { return "two words" }
		runner := rewriter.NewRunner(gen, strategy, rewriter.WithWordLimit(1))

		results, err := runner.Run(ctx, makeSet(1, 1).Pairs(), nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(results[0].Rewrite).To(Equal("answer 0-0"))
	})

	It("should stop on a generation failure and keep earlier batches", func() {
		gen.err = errors.New("backend down")
		gen.failOnCall = 2
		var written int
		runner := rewriter.NewRunner(gen, strategy, rewriter.WithBatchSize(2))

		results, err := runner.Run(ctx, makeSet(6, 1).Pairs(), func(results []rewriter.RewriteResult) error {
			written += len(results)
			return nil
		})
		Expect(err).To(MatchError(ContainSubstring("generation failed in batch 2-3")))
		Expect(err).To(MatchError(gen.err))
		Expect(results).To(HaveLen(2))
		Expect(written).To(Equal(2))
		Expect(gen.calls).To(HaveLen(2))
	})

	It("should stop when the sink fails", func() {
		sinkErr := errors.New("disk full")
		runner := rewriter.NewRunner(gen, strategy, rewriter.WithBatchSize(2))

		_, err := runner.Run(ctx, makeSet(4, 1).Pairs(), func([]rewriter.RewriteResult) error { return sinkErr })
		Expect(err).To(MatchError(sinkErr))
		Expect(gen.calls).To(HaveLen(1))
	})

	It("should detect a generation count mismatch", func() {
		short := &shortGenerator{}
		runner := rewriter.NewRunner(short, strategy)

		_, err := runner.Run(ctx, makeSet(3, 1).Pairs(), nil)
		Expect(err).To(MatchError(rewriter.ErrResultCountMismatch))
	})

	It("should make no calls for empty input", func() {
		runner := rewriter.NewRunner(gen, strategy)
		results, err := runner.Run(ctx, nil, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(results).To(BeEmpty())
		Expect(gen.calls).To(BeEmpty())
	})
})

// shortGenerator drops the last generation of every batch
type shortGenerator struct{}

func (shortGenerator) Generate(_ context.Context, prompts []rewriter.Prompt, _ rewriter.GenerateOptions) ([]rewriter.Generation, error) {
	return make([]rewriter.Generation, len(prompts)-1), nil
}

func (shortGenerator) Close() error { return nil }
