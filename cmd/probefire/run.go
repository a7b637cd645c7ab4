package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/probefire/internal/config"
	"github.com/torosent/probefire/internal/flow"
	"github.com/torosent/probefire/internal/history"
	"github.com/torosent/probefire/internal/logging"
	"github.com/torosent/probefire/internal/metrics"
	"github.com/torosent/probefire/internal/output"
	"github.com/torosent/probefire/internal/runner"
	"github.com/torosent/probefire/internal/threshold"
	"github.com/torosent/probefire/internal/tracing"
	"github.com/torosent/probefire/internal/transport"
)

const shutdownTimeout = 5 * time.Second

// errChecksFailed marks runs that completed but did not pass.
var errChecksFailed = errors.New("probe run did not pass")

func newRunCommand(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "run --catalog <path> [flags]",
		Short: "Run the probes, batches and flows of a catalog",
		// Flags are parsed by config.Loader so catalog values and flags share
		// one precedence order.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader().Load(args)
			if err != nil {
				if errors.Is(err, config.ErrHelpRequested) {
					return nil
				}
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runCatalog(ctx, cfg, stdout, stderr)
		},
	}
}

// runCatalog validates cfg, runs every batch and then every flow, and prints
// the report. It returns errChecksFailed when a probe, flow or threshold
// failed.
func runCatalog(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	plan, err := cfg.Build()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	httpTransport := transport.NewHTTP(transport.WithTracing(provider))
	prober := runner.NewProber(httpTransport,
		runner.WithLogger(logger),
		runner.WithTracer(provider.Tracer()),
	)

	run := metrics.NewRun()
	scheduler := runner.NewScheduler(prober)
	for _, batch := range plan.Batches {
		logger.Info("running batch", "batch", batch.Name, "probes", len(batch.Specs),
			"concurrency", batch.Options.Concurrency, "rate", batch.Options.RatePerSecond)
		result := scheduler.RunBatch(ctx, batch.Name, batch.Specs, batch.Options)
		if result.BudgetExceeded {
			logger.Warn("batch exceeded budget", "batch", batch.Name,
				"elapsed", result.Elapsed(), "budget", result.Budget)
		}
		run = run.Add(result)
	}

	flows := make([]flow.Result, 0, len(plan.Flows))
	flowRunner := flow.NewRunner(prober, logger)
	for _, f := range plan.Flows {
		flows = append(flows, flowRunner.Run(ctx, f, nil))
	}

	summary := metrics.Summarize(run)
	results := threshold.NewEvaluator(plan.Thresholds).Evaluate(summary)

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, run, summary, results, flows); err != nil {
			return err
		}
	} else {
		output.PrintReport(stdout, run, summary, results, flows)
	}

	if cfg.HistoryPath != "" {
		if err := saveHistory(ctx, cfg.HistoryPath, run); err != nil {
			return err
		}
		logger.Debug("run recorded", "run", summary.RunID, "history", cfg.HistoryPath)
	}

	if !output.Passed(run, results, flows) {
		return fmt.Errorf("%w: %d failed, %d errored, %d flows failed, %d thresholds failed",
			errChecksFailed, run.FailCount, run.ErrorCount, failedFlows(flows), failedThresholds(results))
	}
	return nil
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{Level: level, Format: format, Output: w}), nil
}

func saveHistory(ctx context.Context, path string, run metrics.RunResult) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Save(ctx, run); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

func failedFlows(flows []flow.Result) int {
	n := 0
	for _, f := range flows {
		if !f.OK() {
			n++
		}
	}
	return n
}

func failedThresholds(results []threshold.Result) int {
	n := 0
	for _, r := range results {
		if !r.Pass {
			n++
		}
	}
	return n
}
