// Package config loads probe catalogs and run settings for probefire.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/torosent/probefire/internal/extractor"
	"github.com/torosent/probefire/internal/runner"
	"github.com/torosent/probefire/internal/tracing"
)

// Config is a loaded catalog plus the run settings that apply to it.
type Config struct {
	CatalogFile string `mapstructure:"-"`

	Defaults   Defaults        `mapstructure:"defaults"`
	Probes     []EndpointEntry `mapstructure:"probes"`
	Batches    []BatchEntry    `mapstructure:"batches"`
	Flows      []FlowEntry     `mapstructure:"flows"`
	Thresholds []string        `mapstructure:"thresholds"`

	Concurrency int                 `mapstructure:"concurrency"`
	BudgetMs    int                 `mapstructure:"budget_ms"`
	Rate        int                 `mapstructure:"rate"`
	Arrival     runner.ArrivalModel `mapstructure:"arrival_model"`
	JSONOutput  bool                `mapstructure:"json"`
	HistoryPath string              `mapstructure:"history"`
	LogLevel    string              `mapstructure:"log_level"`
	LogFormat   string              `mapstructure:"log_format"`

	Tracing tracing.Config `mapstructure:"tracing"`
}

// Defaults are merged into every probe. Probe values win.
type Defaults struct {
	Headers map[string]string `mapstructure:"headers"`
	Params  map[string]string `mapstructure:"params"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Retry   *RetryEntry       `mapstructure:"retry"`
}

// EndpointEntry is one probe as written in the catalog.
type EndpointEntry struct {
	ID               string            `mapstructure:"id" yaml:"id" json:"id"`
	Method           string            `mapstructure:"method" yaml:"method,omitempty" json:"method,omitempty"`
	URL              string            `mapstructure:"url" yaml:"url" json:"url"`
	Params           map[string]string `mapstructure:"params" yaml:"params,omitempty" json:"params,omitempty"`
	Query            map[string]string `mapstructure:"query" yaml:"query,omitempty" json:"query,omitempty"`
	Headers          map[string]string `mapstructure:"headers" yaml:"headers,omitempty" json:"headers,omitempty"`
	Body             any               `mapstructure:"body" yaml:"body,omitempty" json:"body,omitempty"`
	RawBody          string            `mapstructure:"raw_body" yaml:"raw_body,omitempty" json:"raw_body,omitempty"`
	ExpectedStatuses []int             `mapstructure:"expected_statuses" yaml:"expected_statuses,omitempty" json:"expected_statuses,omitempty"`
	Assertions       []AssertionEntry  `mapstructure:"assertions" yaml:"assertions,omitempty" json:"assertions,omitempty"`
	Retry            *RetryEntry       `mapstructure:"retry" yaml:"retry,omitempty" json:"retry,omitempty"`
	// Timeout is written by hand; generated catalogs leave it to defaults.
	Timeout time.Duration `mapstructure:"timeout" yaml:"-" json:"-"`
}

// AssertionEntry is a single-key assertion map such as {status_in: [200]}.
type AssertionEntry struct {
	Kind  string
	Value any
}

// MarshalYAML writes the entry back in its single-key form.
func (a AssertionEntry) MarshalYAML() (any, error) {
	return map[string]any{a.Kind: a.Value}, nil
}

// RetryEntry configures soft-failure retries.
type RetryEntry struct {
	TriggerStatuses []int         `mapstructure:"trigger_statuses" yaml:"trigger_statuses,omitempty" json:"trigger_statuses,omitempty"`
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	Backoff         time.Duration `mapstructure:"backoff" yaml:"-" json:"-"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff" yaml:"-" json:"-"`
	Strategy        string        `mapstructure:"strategy" yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Jitter          bool          `mapstructure:"jitter" yaml:"jitter,omitempty" json:"jitter,omitempty"`
	RetryErrors     []string      `mapstructure:"retry_errors" yaml:"retry_errors,omitempty" json:"retry_errors,omitempty"`
}

// Backoff strategies accepted in RetryEntry.Strategy.
const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// BatchEntry groups probes by id for one RunBatch call.
type BatchEntry struct {
	Name        string              `mapstructure:"name"`
	Probes      []string            `mapstructure:"probes"`
	Repeat      int                 `mapstructure:"repeat"`
	Concurrency int                 `mapstructure:"concurrency"`
	Budget      time.Duration       `mapstructure:"budget"`
	Rate        int                 `mapstructure:"rate"`
	Arrival     runner.ArrivalModel `mapstructure:"arrival_model"`
	// Feed is a CSV or JSON file; each row binds one copy of every probe.
	Feed string `mapstructure:"feed"`
}

// FlowEntry is a named sequence of stages.
type FlowEntry struct {
	Name   string       `mapstructure:"name"`
	Stages []StageEntry `mapstructure:"stages"`
}

// StageEntry references a probe by id and lists what to extract from it.
type StageEntry struct {
	Probe   string           `mapstructure:"probe"`
	Extract []extractor.Rule `mapstructure:"extract"`
}

// ValidationError collects every problem found in a configuration.
type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks the run settings and the catalog. Every issue is reported.
func (c Config) Validate() error {
	_, err := c.Build()
	return err
}

func (c Config) runIssues() []string {
	var issues []string
	if c.Concurrency < 0 {
		issues = append(issues, "concurrency must be >= 0")
	}
	if c.BudgetMs < 0 {
		issues = append(issues, "budget-ms must be >= 0")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}
	issues = append(issues, validateArrival("arrival_model", c.Arrival)...)
	if err := validateLogging(c.LogLevel, c.LogFormat); err != nil {
		issues = append(issues, err.Error())
	}
	issues = append(issues, validateTracing(c.Tracing)...)
	if c.Defaults.Timeout < 0 {
		issues = append(issues, "defaults.timeout must be >= 0")
	}
	return issues
}

func validateArrival(field string, model runner.ArrivalModel) []string {
	switch model {
	case "", runner.ArrivalModelUniform, runner.ArrivalModelPoisson:
		return nil
	default:
		return []string{fmt.Sprintf("%s must be uniform or poisson", field)}
	}
}

func validateTracing(cfg tracing.Config) []string {
	var issues []string
	switch strings.ToLower(strings.TrimSpace(cfg.Protocol)) {
	case "", "grpc", "http":
	default:
		issues = append(issues, "tracing.protocol must be grpc or http")
	}
	if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
		issues = append(issues, "tracing.sample_rate must be between 0 and 1")
	}
	return issues
}
