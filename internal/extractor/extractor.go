// Package extractor pulls values out of responses by JSON path, regex or
// header name so later flow stages can reference them.
package extractor

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/torosent/probefire/internal/transport"
)

// ErrNotFound is returned when a required rule matches nothing.
var ErrNotFound = errors.New("extraction not found")

// Rule defines a single extraction. Exactly one of JSONPath, Regex or Header is set.
type Rule struct {
	// Var is the variable name the extracted value is stored under.
	Var string `mapstructure:"var" yaml:"var" json:"var"`

	// JSONPath is a gjson path; a leading "$." is accepted and "$" is the whole document.
	JSONPath string `mapstructure:"json_path" yaml:"json_path,omitempty" json:"json_path,omitempty"`

	// Regex is matched against the raw body; the first capture group wins when present.
	Regex string `mapstructure:"regex" yaml:"regex,omitempty" json:"regex,omitempty"`

	// Header names a response header.
	Header string `mapstructure:"header" yaml:"header,omitempty" json:"header,omitempty"`

	// Optional rules that match nothing are skipped instead of failing.
	Optional bool `mapstructure:"optional" yaml:"optional,omitempty" json:"optional,omitempty"`
}

// Validate checks that the rule names a variable and exactly one source.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Var) == "" {
		return errors.New("var is required")
	}
	sources := 0
	for _, s := range []string{r.JSONPath, r.Regex, r.Header} {
		if strings.TrimSpace(s) != "" {
			sources++
		}
	}
	if sources != 1 {
		return fmt.Errorf("%s: exactly one of json_path, regex or header is required", r.Var)
	}
	if r.Regex != "" {
		if _, err := regexp.Compile(r.Regex); err != nil {
			return fmt.Errorf("%s: invalid regex: %w", r.Var, err)
		}
	}
	return nil
}

// Extract applies every rule to resp. All rules are attempted; values that
// were found are returned even when a required rule fails, in which case the
// error wraps ErrNotFound and names the missing variables.
func Extract(resp *transport.Response, rules []Rule, logger *slog.Logger) (map[string]string, error) {
	result := make(map[string]string, len(rules))
	if len(rules) == 0 {
		return result, nil
	}

	var missing []string
	for _, rule := range rules {
		value, ok := extractOne(resp, rule, logger)
		if !ok {
			if !rule.Optional {
				missing = append(missing, rule.Var)
			}
			continue
		}
		result[rule.Var] = value
	}

	if len(missing) > 0 {
		return result, fmt.Errorf("%w: %s", ErrNotFound, strings.Join(missing, ", "))
	}
	return result, nil
}

func extractOne(resp *transport.Response, rule Rule, logger *slog.Logger) (string, bool) {
	if resp == nil {
		return "", false
	}
	switch {
	case rule.JSONPath != "":
		return findJSONPath(resp.Body, rule.JSONPath, logger)
	case rule.Regex != "":
		return findRegex(resp.Body, rule.Regex, logger)
	case rule.Header != "":
		v, ok := resp.Header(rule.Header)
		if !ok && logger != nil {
			logger.Warn("header not found", "header", rule.Header)
		}
		return v, ok
	default:
		return "", false
	}
}
