package extractor

import (
	"log/slog"
	"regexp"
)

// findRegex returns the first capture group, or the full match when the
// pattern has no groups.
func findRegex(body []byte, pattern string, logger *slog.Logger) (string, bool) {
	regex, err := regexp.Compile(pattern)
	if err != nil {
		if logger != nil {
			logger.Warn("invalid regex pattern", "pattern", pattern, "error", err)
		}
		return "", false
	}

	match := regex.FindSubmatch(body)
	if match == nil {
		if logger != nil {
			logger.Warn("regex pattern not found", "pattern", pattern)
		}
		return "", false
	}

	if len(match) > 1 {
		return string(match[1]), true
	}
	return string(match[0]), true
}
