package extractor

import (
	"log/slog"

	"github.com/tidwall/gjson"
)

// NormalizePath converts $.field and field syntax to a gjson path.
func NormalizePath(path string) string {
	if len(path) > 0 && path[0] == '$' {
		if len(path) > 1 && path[1] == '.' {
			return path[2:]
		} else if len(path) == 1 {
			// Bare "$" means the whole document.
			return "@this"
		}
	}
	return path
}

// LookupJSON resolves path against body.
func LookupJSON(body []byte, path string) gjson.Result {
	return gjson.GetBytes(body, NormalizePath(path))
}

func findJSONPath(body []byte, path string, logger *slog.Logger) (string, bool) {
	result := LookupJSON(body, path)
	if !result.Exists() {
		if logger != nil {
			logger.Warn("json path not found", "path", path)
		}
		return "", false
	}
	return result.String(), true
}
