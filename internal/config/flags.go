package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/torosent/probefire/internal/runner"
	"github.com/torosent/probefire/internal/tracing"
	"github.com/torosent/probefire/internal/transport"
)

// RegisterFlags registers the run flags on a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all run flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "probefire run",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all run flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.String("catalog", "", "Path to the endpoint catalog (YAML or JSON)")

	// Request flags
	flags.StringSlice("header", nil, "Header added to every probe in key=value form (repeatable)")
	flags.StringSlice("param", nil, "Placeholder value for every probe in key=value form (repeatable)")
	flags.Duration("timeout", transport.DefaultTimeout, "Per-request timeout for probes that do not set one")

	// Load control flags
	flags.IntP("concurrency", "c", runner.DefaultConcurrency, "Maximum probes in flight per batch")
	flags.Int("budget-ms", 0, "Wall-clock budget per batch in milliseconds (0 means none)")
	flags.IntP("rate", "r", 0, "Probes per second per batch (0 means unlimited)")
	flags.String("arrival-model", string(runner.ArrivalModelUniform), "Arrival model used when pacing probes (uniform or poisson)")

	// Output flags
	flags.Bool("json", false, "Emit the report as JSON")
	flags.String("history", "", "SQLite database that records every run")
	flags.StringSlice("threshold", nil, "Run threshold (repeatable, e.g. 'probe_duration:p95 < 500')")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "text", "Log format: text or json")

	// Tracing flags
	flags.String("trace-endpoint", "", "OTLP collector endpoint (host:port)")
	flags.String("trace-protocol", "", "OTLP protocol: grpc or http")
	flags.String("trace-service-name", "", "Service name reported on spans")
	flags.Float64("trace-sample-rate", 0, "Trace sample rate between 0 and 1 (0 samples everything)")
	flags.Bool("trace-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Bool("trace-propagate", true, "Inject W3C trace context into probe requests")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s [flags]\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config,
// overriding values from the catalog. Load settings also override the
// matching batch settings.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("concurrency") {
		val, err := fs.GetInt("concurrency")
		if err != nil {
			return err
		}
		cfg.Concurrency = val
		for i := range cfg.Batches {
			cfg.Batches[i].Concurrency = val
		}
	}
	if fs.Changed("budget-ms") {
		val, err := fs.GetInt("budget-ms")
		if err != nil {
			return err
		}
		cfg.BudgetMs = val
		for i := range cfg.Batches {
			cfg.Batches[i].Budget = time.Duration(val) * time.Millisecond
		}
	}
	if fs.Changed("rate") {
		val, err := fs.GetInt("rate")
		if err != nil {
			return err
		}
		cfg.Rate = val
		for i := range cfg.Batches {
			cfg.Batches[i].Rate = val
		}
	}
	if fs.Changed("arrival-model") {
		val, err := fs.GetString("arrival-model")
		if err != nil {
			return err
		}
		cfg.Arrival = runner.ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
		for i := range cfg.Batches {
			cfg.Batches[i].Arrival = cfg.Arrival
		}
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Defaults.Timeout = val
	}

	headers, err := keyValueFlag(fs, "header")
	if err != nil {
		return err
	}
	if len(headers) > 0 {
		if cfg.Defaults.Headers == nil {
			cfg.Defaults.Headers = map[string]string{}
		}
		for key, value := range headers {
			cfg.Defaults.Headers[http.CanonicalHeaderKey(key)] = value
		}
	}

	params, err := keyValueFlag(fs, "param")
	if err != nil {
		return err
	}
	if len(params) > 0 {
		if cfg.Defaults.Params == nil {
			cfg.Defaults.Params = map[string]string{}
		}
		for key, value := range params {
			cfg.Defaults.Params[key] = value
		}
		// Command-line params also beat values written on individual probes.
		for i := range cfg.Probes {
			for key, value := range params {
				if _, ok := cfg.Probes[i].Params[key]; ok {
					cfg.Probes[i].Params[key] = value
				}
			}
		}
	}

	if fs.Changed("json") {
		val, err := fs.GetBool("json")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("history") {
		val, err := fs.GetString("history")
		if err != nil {
			return err
		}
		cfg.HistoryPath = strings.TrimSpace(val)
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = val
	}
	if fs.Changed("log-format") {
		val, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		cfg.LogFormat = val
	}

	return applyTracingFlags(&cfg.Tracing, fs)
}

func applyTracingFlags(tc *tracing.Config, fs *pflag.FlagSet) error {
	if fs.Changed("trace-endpoint") {
		val, err := fs.GetString("trace-endpoint")
		if err != nil {
			return err
		}
		tc.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("trace-protocol") {
		val, err := fs.GetString("trace-protocol")
		if err != nil {
			return err
		}
		tc.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("trace-service-name") {
		val, err := fs.GetString("trace-service-name")
		if err != nil {
			return err
		}
		tc.ServiceName = strings.TrimSpace(val)
	}
	if fs.Changed("trace-sample-rate") {
		val, err := fs.GetFloat64("trace-sample-rate")
		if err != nil {
			return err
		}
		tc.SampleRate = val
	}
	if fs.Changed("trace-insecure") {
		val, err := fs.GetBool("trace-insecure")
		if err != nil {
			return err
		}
		tc.Insecure = val
	}
	if fs.Changed("trace-propagate") {
		val, err := fs.GetBool("trace-propagate")
		if err != nil {
			return err
		}
		tc.Propagate = &val
	}
	return nil
}

func keyValueFlag(fs *pflag.FlagSet, name string) (map[string]string, error) {
	vals, err := fs.GetStringSlice(name)
	if err != nil {
		return nil, err
	}
	result := make(map[string]string, len(vals))
	for _, entry := range vals {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%s must be in key=value format: %s", name, entry)
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			return nil, fmt.Errorf("%s key cannot be empty", name)
		}
		result[key] = strings.TrimSpace(parts[1])
	}
	return result, nil
}
