package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/torosent/probefire/internal/extractor"
	"github.com/torosent/probefire/internal/runner"
	"github.com/torosent/probefire/internal/tracing"
)

// Loader handles loading configuration from catalog files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses run arguments and the catalog they name. Flags override
// values read from the catalog.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	catalogPath := strings.TrimSpace(flagSet.Lookup("catalog").Value.String())
	if len(args) == 0 && catalogPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	cfg := newConfig(catalogPath)
	if catalogPath != "" {
		if err := loadCatalog(cfg, catalogPath); err != nil {
			return nil, err
		}
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a catalog with no flag overrides.
func (Loader) LoadFile(path string) (*Config, error) {
	cfg := newConfig(path)
	if err := loadCatalog(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newConfig(path string) *Config {
	return &Config{
		CatalogFile: path,
		Concurrency: runner.DefaultConcurrency,
		Arrival:     runner.ArrivalModelUniform,
	}
}

// loadCatalog reads run settings through viper and the catalog sections
// from the raw document. Viper lower-cases nested keys, which would corrupt
// params, query names, headers and bodies.
func loadCatalog(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	if err := applyRunSettings(cfg, v.AllSettings()); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	var doc map[string]interface{}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}
	return applyCatalogSettings(cfg, doc)
}

// applyRunSettings applies top-level run settings from the catalog file.
func applyRunSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "concurrency"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("concurrency: %w", err)
		}
		cfg.Concurrency = val
	}

	if raw, ok := lookupSetting(settings, "budget_ms", "budgetms", "budget-ms"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("budget_ms: %w", err)
		}
		cfg.BudgetMs = val
	}

	if raw, ok := lookupSetting(settings, "rate"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		cfg.Rate = val
	}

	if raw, ok := lookupSetting(settings, "arrival_model", "arrivalmodel", "arrival-model"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("arrival_model: %w", err)
		}
		if model := strings.ToLower(strings.TrimSpace(val)); model != "" {
			cfg.Arrival = runner.ArrivalModel(model)
		}
	}

	if raw, ok := lookupSetting(settings, "json", "json_output", "jsonoutput"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("json: %w", err)
		}
		cfg.JSONOutput = val
	}

	if raw, ok := lookupSetting(settings, "history"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		cfg.HistoryPath = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "log_level", "loglevel", "log-level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
		cfg.LogLevel = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "log_format", "logformat", "log-format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("log_format: %w", err)
		}
		cfg.LogFormat = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tc, err := parseTracing(raw)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tc
	}

	return nil
}

func parseTracing(value interface{}) (tracing.Config, error) {
	var tc tracing.Config
	if value == nil {
		return tc, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return tc, err
	}
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return tc, fmt.Errorf("endpoint: %w", err)
		}
		tc.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return tc, fmt.Errorf("protocol: %w", err)
		}
		tc.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "service_name", "servicename", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return tc, fmt.Errorf("service_name: %w", err)
		}
		tc.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "sample_rate", "samplerate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return tc, fmt.Errorf("sample_rate: %w", err)
		}
		tc.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return tc, fmt.Errorf("insecure: %w", err)
		}
		tc.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return tc, fmt.Errorf("propagate: %w", err)
		}
		tc.Propagate = &val
	}
	return tc, nil
}

// applyCatalogSettings applies the defaults, probes, batches and flows
// sections. Only the section names are case-insensitive.
func applyCatalogSettings(cfg *Config, doc map[string]interface{}) error {
	if len(doc) == 0 {
		return nil
	}
	settings, err := toStringKeyMap(doc)
	if err != nil {
		return err
	}

	if raw, ok := lookupSetting(settings, "defaults"); ok {
		defaults, err := parseDefaults(raw)
		if err != nil {
			return fmt.Errorf("defaults: %w", err)
		}
		cfg.Defaults = defaults
	}

	if raw, ok := lookupSetting(settings, "probes", "endpoints"); ok {
		probes, err := parseProbes(raw)
		if err != nil {
			return fmt.Errorf("probes: %w", err)
		}
		cfg.Probes = probes
	}

	if raw, ok := lookupSetting(settings, "batches"); ok {
		batches, err := parseBatches(raw)
		if err != nil {
			return fmt.Errorf("batches: %w", err)
		}
		cfg.Batches = batches
	}

	if raw, ok := lookupSetting(settings, "flows"); ok {
		flows, err := parseFlows(raw)
		if err != nil {
			return fmt.Errorf("flows: %w", err)
		}
		cfg.Flows = flows
	}

	return nil
}

func parseDefaults(value interface{}) (Defaults, error) {
	var d Defaults
	if value == nil {
		return d, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return d, err
	}
	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return d, fmt.Errorf("headers: %w", err)
		}
		d.Headers = hdrs
	}
	if raw, ok := lookupSetting(settings, "params"); ok {
		params, err := asStringMap(raw)
		if err != nil {
			return d, fmt.Errorf("params: %w", err)
		}
		d.Params = params
	}
	if raw, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return d, fmt.Errorf("timeout: %w", err)
		}
		d.Timeout = dur
	}
	if raw, ok := lookupSetting(settings, "retry"); ok {
		retry, err := parseRetry(raw)
		if err != nil {
			return d, fmt.Errorf("retry: %w", err)
		}
		d.Retry = retry
	}
	return d, nil
}

var probeFields = map[string]struct{}{
	"id": {}, "method": {}, "url": {}, "params": {}, "query": {}, "headers": {},
	"body": {}, "raw_body": {}, "expected_statuses": {}, "expected_status": {},
	"assertions": {}, "retry": {}, "timeout": {},
}

func parseProbes(value interface{}) ([]EndpointEntry, error) {
	if value == nil {
		return nil, nil
	}
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	probes := make([]EndpointEntry, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		probe, err := buildEndpointEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		probes = append(probes, probe)
	}
	return probes, nil
}

func buildEndpointEntry(settings map[string]interface{}) (EndpointEntry, error) {
	var entry EndpointEntry
	for key := range settings {
		if _, ok := probeFields[key]; !ok {
			return EndpointEntry{}, fmt.Errorf("unknown field %q", key)
		}
	}
	if raw, ok := lookupSetting(settings, "id"); ok {
		val, err := asString(raw)
		if err != nil {
			return EndpointEntry{}, fmt.Errorf("id: %w", err)
		}
		entry.ID = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "method"); ok {
		val, err := asString(raw)
		if err != nil {
			return EndpointEntry{}, fmt.Errorf("method: %w", err)
		}
		entry.Method = strings.ToUpper(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "url"); ok {
		val, err := asString(raw)
		if err != nil {
			return EndpointEntry{}, fmt.Errorf("url: %w", err)
		}
		entry.URL = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "params"); ok {
		params, err := asStringMap(raw)
		if err != nil {
			return EndpointEntry{}, fmt.Errorf("params: %w", err)
		}
		entry.Params = params
	}
	if raw, ok := lookupSetting(settings, "query"); ok {
		query, err := asStringMap(raw)
		if err != nil {
			return EndpointEntry{}, fmt.Errorf("query: %w", err)
		}
		entry.Query = query
	}
	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return EndpointEntry{}, fmt.Errorf("headers: %w", err)
		}
		entry.Headers = hdrs
	}
	if raw, ok := lookupSetting(settings, "body"); ok && raw != nil {
		entry.Body = jsonCompatible(raw)
	}
	if raw, ok := lookupSetting(settings, "raw_body"); ok {
		val, err := asString(raw)
		if err != nil {
			return EndpointEntry{}, fmt.Errorf("raw_body: %w", err)
		}
		entry.RawBody = val
	}
	if raw, ok := lookupSetting(settings, "expected_statuses", "expected_status"); ok {
		statuses, err := asIntSlice(raw)
		if err != nil {
			return EndpointEntry{}, fmt.Errorf("expected_statuses: %w", err)
		}
		entry.ExpectedStatuses = statuses
	}
	if raw, ok := lookupSetting(settings, "assertions"); ok {
		asserts, err := parseAssertions(raw)
		if err != nil {
			return EndpointEntry{}, fmt.Errorf("assertions: %w", err)
		}
		entry.Assertions = asserts
	}
	if raw, ok := lookupSetting(settings, "retry"); ok {
		retry, err := parseRetry(raw)
		if err != nil {
			return EndpointEntry{}, fmt.Errorf("retry: %w", err)
		}
		entry.Retry = retry
	}
	if raw, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return EndpointEntry{}, fmt.Errorf("timeout: %w", err)
		}
		entry.Timeout = dur
	}
	return entry, nil
}

// parseAssertions reads single-key maps. The key is validated later so that
// unknown kinds are reported together with other issues.
func parseAssertions(value interface{}) ([]AssertionEntry, error) {
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	asserts := make([]AssertionEntry, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		if len(entry) != 1 {
			return nil, fmt.Errorf("index %d: expected a single-key map, got %d keys", idx, len(entry))
		}
		for kind, val := range entry {
			asserts = append(asserts, AssertionEntry{Kind: kind, Value: val})
		}
	}
	return asserts, nil
}

func parseRetry(value interface{}) (*RetryEntry, error) {
	if value == nil {
		return nil, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return nil, err
	}
	retry := &RetryEntry{}
	if raw, ok := lookupSetting(settings, "trigger_statuses", "triggerstatuses", "statuses"); ok {
		statuses, err := asIntSlice(raw)
		if err != nil {
			return nil, fmt.Errorf("trigger_statuses: %w", err)
		}
		retry.TriggerStatuses = statuses
	}
	if raw, ok := lookupSetting(settings, "max_attempts", "maxattempts"); ok {
		val, err := asInt(raw)
		if err != nil {
			return nil, fmt.Errorf("max_attempts: %w", err)
		}
		retry.MaxAttempts = val
	}
	if raw, ok := lookupSetting(settings, "backoff"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("backoff: %w", err)
		}
		retry.Backoff = dur
	}
	if raw, ok := lookupSetting(settings, "max_backoff", "maxbackoff"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("max_backoff: %w", err)
		}
		retry.MaxBackoff = dur
	}
	if raw, ok := lookupSetting(settings, "strategy"); ok {
		val, err := asString(raw)
		if err != nil {
			return nil, fmt.Errorf("strategy: %w", err)
		}
		retry.Strategy = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "jitter"); ok {
		val, err := asBool(raw)
		if err != nil {
			return nil, fmt.Errorf("jitter: %w", err)
		}
		retry.Jitter = val
	}
	if raw, ok := lookupSetting(settings, "retry_errors", "retryerrors"); ok {
		kinds, err := asStringSlice(raw)
		if err != nil {
			return nil, fmt.Errorf("retry_errors: %w", err)
		}
		retry.RetryErrors = kinds
	}
	return retry, nil
}

func parseBatches(value interface{}) ([]BatchEntry, error) {
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	batches := make([]BatchEntry, 0, len(items))
	for idx, item := range items {
		settings, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		var b BatchEntry
		if raw, ok := lookupSetting(settings, "name"); ok {
			val, err := asString(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d name: %w", idx, err)
			}
			b.Name = strings.TrimSpace(val)
		}
		if raw, ok := lookupSetting(settings, "probes"); ok {
			ids, err := asStringSlice(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d probes: %w", idx, err)
			}
			b.Probes = ids
		}
		if raw, ok := lookupSetting(settings, "repeat"); ok {
			val, err := asInt(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d repeat: %w", idx, err)
			}
			b.Repeat = val
		}
		if raw, ok := lookupSetting(settings, "concurrency"); ok {
			val, err := asInt(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d concurrency: %w", idx, err)
			}
			b.Concurrency = val
		}
		if raw, ok := lookupSetting(settings, "budget"); ok {
			dur, err := asDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d budget: %w", idx, err)
			}
			b.Budget = dur
		} else if raw, ok := lookupSetting(settings, "budget_ms"); ok {
			dur, err := asMillisDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d budget_ms: %w", idx, err)
			}
			b.Budget = dur
		}
		if raw, ok := lookupSetting(settings, "rate"); ok {
			val, err := asInt(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d rate: %w", idx, err)
			}
			b.Rate = val
		}
		if raw, ok := lookupSetting(settings, "arrival_model"); ok {
			val, err := asString(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d arrival_model: %w", idx, err)
			}
			b.Arrival = runner.ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
		}
		if raw, ok := lookupSetting(settings, "feed"); ok {
			val, err := asString(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d feed: %w", idx, err)
			}
			b.Feed = strings.TrimSpace(val)
		}
		batches = append(batches, b)
	}
	return batches, nil
}

func parseFlows(value interface{}) ([]FlowEntry, error) {
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	flows := make([]FlowEntry, 0, len(items))
	for idx, item := range items {
		settings, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		var f FlowEntry
		if raw, ok := lookupSetting(settings, "name"); ok {
			val, err := asString(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d name: %w", idx, err)
			}
			f.Name = strings.TrimSpace(val)
		}
		if raw, ok := lookupSetting(settings, "stages"); ok {
			stages, err := parseStages(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d stages: %w", idx, err)
			}
			f.Stages = stages
		}
		flows = append(flows, f)
	}
	return flows, nil
}

func parseStages(value interface{}) ([]StageEntry, error) {
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	stages := make([]StageEntry, 0, len(items))
	for idx, item := range items {
		if id, ok := item.(string); ok {
			stages = append(stages, StageEntry{Probe: strings.TrimSpace(id)})
			continue
		}
		settings, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		var s StageEntry
		if raw, ok := lookupSetting(settings, "probe"); ok {
			val, err := asString(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d probe: %w", idx, err)
			}
			s.Probe = strings.TrimSpace(val)
		}
		if raw, ok := lookupSetting(settings, "extract", "extractors"); ok {
			rules, err := parseExtractRules(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d extract: %w", idx, err)
			}
			s.Extract = rules
		}
		stages = append(stages, s)
	}
	return stages, nil
}

func parseExtractRules(value interface{}) ([]extractor.Rule, error) {
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	rules := make([]extractor.Rule, 0, len(items))
	for idx, item := range items {
		settings, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		var rule extractor.Rule
		fields := []struct {
			dst  *string
			keys []string
		}{
			{&rule.Var, []string{"var", "variable"}},
			{&rule.JSONPath, []string{"json_path", "jsonpath"}},
			{&rule.Regex, []string{"regex"}},
			{&rule.Header, []string{"header"}},
		}
		for _, field := range fields {
			if raw, ok := lookupSetting(settings, field.keys...); ok {
				val, err := asString(raw)
				if err != nil {
					return nil, fmt.Errorf("index %d %s: %w", idx, field.keys[0], err)
				}
				*field.dst = strings.TrimSpace(val)
			}
		}
		if raw, ok := lookupSetting(settings, "optional"); ok {
			val, err := asBool(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d optional: %w", idx, err)
			}
			rule.Optional = val
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
