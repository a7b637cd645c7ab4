package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/torosent/probefire/internal/assertion"
	"github.com/torosent/probefire/internal/endpoint"
	"github.com/torosent/probefire/internal/feeder"
	"github.com/torosent/probefire/internal/flow"
	"github.com/torosent/probefire/internal/logging"
	"github.com/torosent/probefire/internal/runner"
	"github.com/torosent/probefire/internal/threshold"
	"github.com/torosent/probefire/internal/transport"
)

// DefaultBatchName names the batch used when the catalog declares none.
const DefaultBatchName = "default"

// Plan is a validated catalog ready to run.
type Plan struct {
	Specs      []*endpoint.Spec // catalog order
	Batches    []Batch
	Flows      []flow.Flow
	Thresholds []threshold.Threshold

	byID map[string]*endpoint.Spec
}

// Batch is one scheduler call.
type Batch struct {
	Name    string
	Specs   []*endpoint.Spec
	Options runner.BatchOptions
}

// Spec returns the probe with the given id.
func (p *Plan) Spec(id string) (*endpoint.Spec, bool) {
	s, ok := p.byID[id]
	return s, ok
}

// Build validates the configuration and turns the catalog into specs,
// batches and flows. Every issue found is returned in one ValidationError.
func (c Config) Build() (*Plan, error) {
	issues := c.runIssues()
	plan := &Plan{byID: make(map[string]*endpoint.Spec, len(c.Probes))}

	if len(c.Probes) == 0 {
		issues = append(issues, "catalog must declare at least one probe")
	}
	for i, entry := range c.Probes {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			issues = append(issues, fmt.Sprintf("probes[%d]: id is required", i))
			continue
		}
		if _, dup := plan.byID[id]; dup {
			issues = append(issues, fmt.Sprintf("probe %s: duplicate id", id))
			continue
		}
		spec, errs := c.buildSpec(entry)
		if len(errs) > 0 {
			for _, e := range errs {
				issues = append(issues, fmt.Sprintf("probe %s: %s", id, e))
			}
			continue
		}
		plan.byID[id] = spec
		plan.Specs = append(plan.Specs, spec)
	}

	flows, flowOnly, flowIssues := c.buildFlows(plan.byID)
	issues = append(issues, flowIssues...)
	plan.Flows = flows

	batches, fed, batchIssues := c.buildBatches(plan, flowOnly)
	plan.Batches = batches

	for _, spec := range plan.Specs {
		if _, ok := flowOnly[spec.ID()]; ok {
			continue
		}
		if _, ok := fed[spec.ID()]; ok {
			continue
		}
		if missing := spec.Unresolved(); len(missing) > 0 {
			issues = append(issues, fmt.Sprintf("probe %s: unresolved placeholders %s", spec.ID(), strings.Join(missing, ", ")))
		}
	}
	issues = append(issues, batchIssues...)

	thresholds, err := threshold.ParseMultiple(c.Thresholds)
	if err != nil {
		issues = append(issues, err.Error())
	}
	plan.Thresholds = thresholds

	if len(issues) > 0 {
		return nil, ValidationError{issues: issues}
	}
	return plan, nil
}

func (c Config) buildSpec(entry EndpointEntry) (*endpoint.Spec, []string) {
	var issues []string

	headers := maps.Clone(c.Defaults.Headers)
	if headers == nil {
		headers = map[string]string{}
	}
	maps.Copy(headers, entry.Headers)

	params := maps.Clone(c.Defaults.Params)
	if params == nil {
		params = map[string]string{}
	}
	maps.Copy(params, entry.Params)

	timeout := entry.Timeout
	if timeout == 0 {
		timeout = c.Defaults.Timeout
	}
	if timeout == 0 {
		timeout = transport.DefaultTimeout
	}

	retryEntry := entry.Retry
	if retryEntry == nil {
		retryEntry = c.Defaults.Retry
	}
	retry, retryIssues := buildRetry(retryEntry)
	issues = append(issues, retryIssues...)

	asserts := make([]assertion.Assertion, 0, len(entry.Assertions))
	for i, a := range entry.Assertions {
		built, err := c.buildAssertion(a)
		if err != nil {
			issues = append(issues, fmt.Sprintf("assertions[%d]: %v", i, err))
			continue
		}
		asserts = append(asserts, built)
	}

	if len(issues) > 0 {
		return nil, issues
	}

	spec, err := endpoint.New(endpoint.Options{
		ID:               entry.ID,
		Method:           entry.Method,
		URL:              entry.URL,
		Params:           params,
		Query:            entry.Query,
		Headers:          headers,
		Body:             entry.Body,
		RawBody:          entry.RawBody,
		ExpectedStatuses: entry.ExpectedStatuses,
		Assertions:       asserts,
		Retry:            retry,
		Timeout:          timeout,
	})
	if err != nil {
		return nil, []string{strings.TrimPrefix(err.Error(), "endpoint "+strings.TrimSpace(entry.ID)+": ")}
	}
	return spec, nil
}

func buildRetry(entry *RetryEntry) (endpoint.RetryPolicy, []string) {
	if entry == nil {
		return endpoint.NoRetry(), nil
	}
	var issues []string
	policy := endpoint.RetryPolicy{
		TriggerStatuses: slices.Clone(entry.TriggerStatuses),
		MaxAttempts:     entry.MaxAttempts,
	}
	if entry.MaxAttempts < 0 {
		issues = append(issues, "retry.max_attempts must be >= 1")
	}
	for _, status := range entry.TriggerStatuses {
		if status < 100 || status > 599 {
			issues = append(issues, fmt.Sprintf("retry.trigger_statuses: %d out of range", status))
		}
	}
	if entry.Backoff < 0 || entry.MaxBackoff < 0 {
		issues = append(issues, "retry backoff must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(entry.Strategy)) {
	case "", BackoffConstant:
		policy.Backoff = endpoint.ConstantBackoff(entry.Backoff)
	case BackoffExponential:
		policy.Backoff = endpoint.ExponentialBackoff(entry.Backoff, entry.MaxBackoff, entry.Jitter)
	default:
		issues = append(issues, fmt.Sprintf("retry.strategy %q must be constant or exponential", entry.Strategy))
	}

	for _, label := range entry.RetryErrors {
		kind, err := transport.ParseErrorKind(label)
		if err != nil {
			issues = append(issues, "retry.retry_errors: "+err.Error())
			continue
		}
		policy.RetryTransportErrors = append(policy.RetryTransportErrors, kind)
	}
	return policy, issues
}

func (c Config) buildAssertion(entry AssertionEntry) (assertion.Assertion, error) {
	switch assertion.Kind(entry.Kind) {
	case assertion.KindStatusIn:
		codes, err := asIntSlice(entry.Value)
		if err != nil {
			return assertion.Assertion{}, fmt.Errorf("status_in: %w", err)
		}
		if len(codes) == 0 {
			return assertion.Assertion{}, fmt.Errorf("status_in: at least one status is required")
		}
		return assertion.StatusIn(codes...), nil

	case assertion.KindHeaderPresent:
		name, err := asString(entry.Value)
		if err != nil || strings.TrimSpace(name) == "" {
			return assertion.Assertion{}, fmt.Errorf("header_present: header name is required")
		}
		return assertion.HeaderPresent(strings.TrimSpace(name)), nil

	case assertion.KindHeaderEquals:
		fields, err := toStringKeyMap(entry.Value)
		if err != nil {
			return assertion.Assertion{}, fmt.Errorf("header_equals: %w", err)
		}
		name, _ := lookupSetting(fields, "name")
		value, _ := lookupSetting(fields, "value")
		nameStr, _ := asString(name)
		valueStr, _ := asString(value)
		if strings.TrimSpace(nameStr) == "" {
			return assertion.Assertion{}, fmt.Errorf("header_equals: name is required")
		}
		return assertion.HeaderEquals(strings.TrimSpace(nameStr), valueStr), nil

	case assertion.KindBodyHasKeys:
		keys, err := asStringSlice(entry.Value)
		if err != nil {
			return assertion.Assertion{}, fmt.Errorf("body_has_keys: %w", err)
		}
		if len(keys) == 0 {
			return assertion.Assertion{}, fmt.Errorf("body_has_keys: at least one key is required")
		}
		return assertion.BodyHasKeys(keys...), nil

	case assertion.KindBodyKeyEquals:
		fields, err := toStringKeyMap(entry.Value)
		if err != nil {
			return assertion.Assertion{}, fmt.Errorf("body_key_equals: %w", err)
		}
		key, _ := lookupSetting(fields, "key")
		keyStr, _ := asString(key)
		if strings.TrimSpace(keyStr) == "" {
			return assertion.Assertion{}, fmt.Errorf("body_key_equals: key is required")
		}
		value, ok := lookupSetting(fields, "value")
		if !ok {
			return assertion.Assertion{}, fmt.Errorf("body_key_equals: value is required")
		}
		return assertion.BodyKeyEquals(strings.TrimSpace(keyStr), value), nil

	case assertion.KindResponseTimeUnder:
		limit, err := asMillisDuration(entry.Value)
		if err != nil {
			return assertion.Assertion{}, fmt.Errorf("response_time_under: %w", err)
		}
		if limit <= 0 {
			return assertion.Assertion{}, fmt.Errorf("response_time_under: limit must be > 0")
		}
		return assertion.ResponseTimeUnder(limit), nil

	case assertion.KindBodyContains:
		text, err := asString(entry.Value)
		if err != nil || text == "" {
			return assertion.Assertion{}, fmt.Errorf("body_contains: text is required")
		}
		return assertion.BodyContains(text), nil

	case assertion.KindBodyMatchesSchema:
		schema, err := c.loadSchema(entry.Value)
		if err != nil {
			return assertion.Assertion{}, fmt.Errorf("body_matches_schema: %w", err)
		}
		return assertion.BodyMatchesSchema(schema)

	default:
		return assertion.Assertion{}, fmt.Errorf("unknown assertion %q", entry.Kind)
	}
}

// resolvePath resolves relative paths against the catalog's directory.
func (c Config) resolvePath(path string) string {
	path = strings.TrimSpace(path)
	if !filepath.IsAbs(path) && c.CatalogFile != "" {
		return filepath.Join(filepath.Dir(c.CatalogFile), path)
	}
	return path
}

// loadSchema accepts an inline schema object or {file: path}. Relative paths
// are resolved against the catalog's directory.
func (c Config) loadSchema(value any) ([]byte, error) {
	fields, err := toStringKeyMap(value)
	if err != nil {
		return nil, err
	}
	if raw, ok := fields["file"]; ok && len(fields) == 1 {
		path, err := asString(raw)
		if err != nil || strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("file path is required")
		}
		data, err := os.ReadFile(c.resolvePath(path))
		if err != nil {
			return nil, err
		}
		return data, nil
	}
	return json.Marshal(jsonCompatible(value))
}

// buildFlows resolves stage references. flowOnly holds probes that only make
// sense inside a flow because they need values extracted by earlier stages.
func (c Config) buildFlows(specs map[string]*endpoint.Spec) ([]flow.Flow, map[string]struct{}, []string) {
	var issues []string
	flowOnly := map[string]struct{}{}
	flows := make([]flow.Flow, 0, len(c.Flows))
	names := map[string]struct{}{}

	for i, entry := range c.Flows {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			issues = append(issues, fmt.Sprintf("flows[%d]: name is required", i))
			continue
		}
		if _, dup := names[name]; dup {
			issues = append(issues, fmt.Sprintf("flow %s: duplicate name", name))
			continue
		}
		names[name] = struct{}{}
		if len(entry.Stages) == 0 {
			issues = append(issues, fmt.Sprintf("flow %s: at least one stage is required", name))
			continue
		}

		f := flow.Flow{Name: name, Stages: make([]flow.Stage, 0, len(entry.Stages))}
		known := map[string]string{}
		for j, stage := range entry.Stages {
			id := strings.TrimSpace(stage.Probe)
			spec, ok := specs[id]
			if !ok {
				issues = append(issues, fmt.Sprintf("flow %s stage %d: unknown probe %q", name, j, stage.Probe))
				continue
			}
			if j > 0 && len(spec.Unresolved()) > 0 {
				flowOnly[id] = struct{}{}
			}
			if missing := spec.Bind(known).Unresolved(); len(missing) > 0 {
				issues = append(issues, fmt.Sprintf("flow %s stage %d (%s): unresolved placeholders %s", name, j, id, strings.Join(missing, ", ")))
			}
			for _, rule := range stage.Extract {
				if err := rule.Validate(); err != nil {
					issues = append(issues, fmt.Sprintf("flow %s stage %d (%s): extract: %v", name, j, id, err))
					continue
				}
				known[rule.Var] = rule.Var
			}
			f.Stages = append(f.Stages, flow.Stage{Spec: spec, Extract: slices.Clone(stage.Extract)})
		}
		flows = append(flows, f)
	}
	return flows, flowOnly, issues
}

// buildBatches expands batch entries into specs. fed holds probes whose
// placeholders are bound by a batch feed.
func (c Config) buildBatches(plan *Plan, flowOnly map[string]struct{}) ([]Batch, map[string]struct{}, []string) {
	fed := map[string]struct{}{}
	entries := c.Batches
	if len(entries) == 0 {
		ids := make([]string, 0, len(plan.Specs))
		for _, spec := range plan.Specs {
			if _, ok := flowOnly[spec.ID()]; !ok {
				ids = append(ids, spec.ID())
			}
		}
		if len(ids) == 0 {
			return nil, fed, nil
		}
		entries = []BatchEntry{{Name: DefaultBatchName, Probes: ids}}
	}

	var issues []string
	batches := make([]Batch, 0, len(entries))
	names := map[string]struct{}{}
	for i, entry := range entries {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			issues = append(issues, fmt.Sprintf("batches[%d]: name is required", i))
			continue
		}
		if _, dup := names[name]; dup {
			issues = append(issues, fmt.Sprintf("batch %s: duplicate name", name))
			continue
		}
		names[name] = struct{}{}

		var batchIssues []string
		if len(entry.Probes) == 0 {
			batchIssues = append(batchIssues, "at least one probe is required")
		}
		if entry.Repeat < 0 {
			batchIssues = append(batchIssues, "repeat must be >= 0")
		}
		if entry.Concurrency < 0 {
			batchIssues = append(batchIssues, "concurrency must be >= 0")
		}
		if entry.Budget < 0 {
			batchIssues = append(batchIssues, "budget must be >= 0")
		}
		if entry.Rate < 0 {
			batchIssues = append(batchIssues, "rate must be >= 0")
		}
		batchIssues = append(batchIssues, validateArrival("arrival_model", entry.Arrival)...)

		var records []feeder.Record
		if entry.Feed != "" {
			var err error
			records, err = feeder.Load(c.resolvePath(entry.Feed))
			if err != nil {
				batchIssues = append(batchIssues, fmt.Sprintf("feed: %v", err))
			}
		}

		repeat := max(entry.Repeat, 1)
		specs := make([]*endpoint.Spec, 0, len(entry.Probes)*repeat*max(len(records), 1))
		for _, id := range entry.Probes {
			id = strings.TrimSpace(id)
			spec, ok := plan.byID[id]
			if !ok {
				batchIssues = append(batchIssues, fmt.Sprintf("unknown probe %q", id))
				continue
			}
			if len(records) == 0 {
				if _, ok := flowOnly[id]; ok {
					batchIssues = append(batchIssues, fmt.Sprintf("probe %s needs values extracted by a flow", id))
					continue
				}
				specs = append(specs, runner.Repeat(spec, repeat)...)
				continue
			}
			if missing := unresolvedAfterFeed(spec, records); len(missing) > 0 {
				batchIssues = append(batchIssues, fmt.Sprintf("probe %s: feed does not bind %s", id, strings.Join(missing, ", ")))
				continue
			}
			if len(spec.Unresolved()) > 0 {
				fed[id] = struct{}{}
			}
			for _, record := range records {
				specs = append(specs, runner.Repeat(spec.Bind(record), repeat)...)
			}
		}
		for _, issue := range batchIssues {
			issues = append(issues, fmt.Sprintf("batch %s: %s", name, issue))
		}
		if len(batchIssues) > 0 {
			continue
		}

		batches = append(batches, Batch{Name: name, Specs: specs, Options: c.batchOptions(entry)})
	}
	return batches, fed, issues
}

// unresolvedAfterFeed lists placeholders left open by at least one record.
func unresolvedAfterFeed(spec *endpoint.Spec, records []feeder.Record) []string {
	seen := map[string]struct{}{}
	var missing []string
	for _, record := range records {
		for _, name := range spec.Bind(record).Unresolved() {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				missing = append(missing, name)
			}
		}
	}
	sort.Strings(missing)
	return missing
}

func (c Config) batchOptions(entry BatchEntry) runner.BatchOptions {
	opts := runner.BatchOptions{
		Concurrency:   entry.Concurrency,
		Budget:        entry.Budget,
		RatePerSecond: entry.Rate,
		ArrivalModel:  entry.Arrival,
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = c.Concurrency
	}
	if opts.Budget == 0 {
		opts.Budget = time.Duration(c.BudgetMs) * time.Millisecond
	}
	if opts.RatePerSecond == 0 {
		opts.RatePerSecond = c.Rate
	}
	if opts.ArrivalModel == "" {
		opts.ArrivalModel = c.Arrival
	}
	return opts
}

func validateLogging(level, format string) error {
	if _, err := logging.ParseLevel(level); err != nil {
		return err
	}
	if _, err := logging.ParseFormat(format); err != nil {
		return err
	}
	return nil
}
