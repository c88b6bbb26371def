package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JohnPlummer/answer-rewriter/rewriter"
)

// outputDir holds the per-split value logs
var outputDir = filepath.Join("output", "values")

// maxReportedIssues caps how many validation issues are logged individually
const maxReportedIssues = 10

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

type options struct {
	modelName        string
	root             string
	split            string
	limit            int
	writeAnnotations bool
	configFile       string
	verbose          bool
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "rewrite-answers",
		Short: "rewrite VQA answers into short synonyms with a language model",
		Long: `Loads an OK-VQA style annotation file, asks a language model for a one-word
synonym or short rephrasing of every answer and writes "question answer --> rewrite"
lines to output/values/<split>_values.txt.`,
		Version:       rewriter.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(v, opts.configFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v, opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.modelName, "model_name", "",
		fmt.Sprintf("model to use (%s)", strings.Join(rewriter.ModelNames(), ", ")))
	flags.StringVar(&opts.root, "root", "./okvqa", "path to the OK-VQA annotation files")
	flags.String("token", "", "Hugging Face access token for gated models (env HF_TOKEN)")
	flags.StringVar(&opts.split, "split", "train", "dataset split to rewrite")
	flags.IntVar(&opts.limit, "limit", 0, "only rewrite the first N questions (0 = all)")
	flags.BoolVar(&opts.writeAnnotations, "write-annotations", false,
		"also write <root>/<split>/annotations_<split>_.json with rewritten answers")
	flags.String("base-url", rewriter.DefaultBaseURL, "OpenAI-compatible inference endpoint")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file path")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	_ = cmd.MarkFlagRequired("model_name")

	_ = v.BindPFlag("token", flags.Lookup("token"))
	_ = v.BindPFlag("base_url", flags.Lookup("base-url"))
	_ = v.BindPFlag("metrics_addr", flags.Lookup("metrics-addr"))

	v.SetDefault("timeout", rewriter.DefaultTimeout)
	v.SetDefault("retry.enabled", true)
	v.SetDefault("retry.strategy", string(rewriter.RetryStrategyExponential))
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("circuit_breaker.enabled", true)

	return cmd
}

// loadConfig layers .env, REWRITE_* environment variables and an optional config file
func loadConfig(v *viper.Viper, file string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	v.SetEnvPrefix("REWRITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("token", "REWRITE_TOKEN", "HF_TOKEN")

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}
	return nil
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func buildConfig(v *viper.Viper, modelName string) (rewriter.Config, error) {
	if _, err := rewriter.LookupModel(modelName); err != nil {
		return rewriter.Config{}, err
	}

	timeout := v.GetDuration("timeout")
	if timeout < 0 {
		return rewriter.Config{}, fmt.Errorf("%w: timeout must be positive", rewriter.ErrInvalidConfig)
	}

	cfg := rewriter.NewDefaultConfig(modelName).
		WithToken(v.GetString("token")).
		WithBaseURL(v.GetString("base_url")).
		WithTimeout(timeout)

	if v.GetBool("retry.enabled") {
		cfg = cfg.WithRetryStrategy(
			rewriter.RetryStrategy(v.GetString("retry.strategy")),
			v.GetInt("retry.max_attempts"))
	}
	if v.GetBool("circuit_breaker.enabled") {
		cfg = cfg.WithCircuitBreaker()
	}

	return cfg, cfg.Validate()
}

func run(ctx context.Context, v *viper.Viper, opts *options, out io.Writer) error {
	setupLogging(opts.verbose)
	info := rewriter.GetVersion()
	slog.Debug("Starting", "name", info.Name, "version", info.Version)

	cfg, err := buildConfig(v, opts.modelName)
	if err != nil {
		return err
	}

	if addr := v.GetString("metrics_addr"); addr != "" {
		stop := serveMetrics(addr)
		defer stop()
	}

	path := rewriter.AnnotationPath(opts.root, opts.split)
	loaded, err := rewriter.LoadAnnotations(path)
	if err != nil {
		return err
	}
	set := loaded.Head(opts.limit)

	report := rewriter.ValidateAnnotations(set, cfg.WordLimit)
	for i, issue := range report.Issues {
		if i == maxReportedIssues {
			slog.Warn("More annotation issues not shown", "remaining", len(report.Issues)-i)
			break
		}
		slog.Warn("Annotation issue", "issue", issue.String())
	}

	generator, err := rewriter.NewGenerator(cfg)
	if err != nil {
		return err
	}
	defer generator.Close()

	fmt.Fprintf(out, "%s %s (%d questions, %d answers)\n",
		bold("Rewriting"), path, report.Records, report.Pairs)

	progress := newProgressPrinter(out)
	pipeline, err := rewriter.NewPipeline(cfg, generator, rewriter.WithPipelineProgress(progress.update))
	if err != nil {
		return err
	}

	logPath := filepath.Join(outputDir, fmt.Sprintf("%s_values.txt", opts.split))
	summary, err := pipeline.Run(ctx, set, logPath)
	progress.finish()
	if err != nil {
		return err
	}

	if opts.writeAnnotations {
		rewritten, err := rewriter.ReplaceAnswers(set, summary.Rewrites())
		if err != nil {
			return err
		}
		dest := rewriter.RewrittenAnnotationPath(opts.root, opts.split)
		if err := rewriter.WriteAnnotations(dest, rewritten); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s\n", gray("annotations written to"), dest)
	}

	if reporter, ok := generator.(rewriter.HealthReporter); ok {
		health := reporter.GetHealth(ctx)
		slog.Debug("Generator health", "healthy", health.Healthy, "status", health.Status)
	}

	fmt.Fprintf(out, "%s %s\n", gray("values written to"), summary.LogPath)
	if summary.Fallbacks > 0 {
		fmt.Fprintf(out, "%s %d of %d answers kept unchanged\n",
			yellow("!"), summary.Fallbacks, summary.Pairs)
	}
	fmt.Fprintln(out, green(fmt.Sprintf("%s set finished!", titleCase(opts.split))))
	return nil
}

func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rewriter.GetMetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server stopped", "addr", addr, "error", err)
		}
	}()
	slog.Info("Serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
