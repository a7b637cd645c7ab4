package metrics

import "strings"

var friendlyKinds = map[string]string{
	"timeout":            "Timeout",
	"connection_refused": "Connection refused",
	"dns_failure":        "DNS failure",
	"canceled":           "Canceled",
	"other":              "Other error",
}

// FriendlyErrorKind returns a report label for a transport error kind.
func FriendlyErrorKind(kind string) string {
	cleaned := strings.TrimSpace(kind)
	if cleaned == "" {
		return "Unknown error"
	}
	if alias, ok := friendlyKinds[cleaned]; ok {
		return alias
	}
	words := strings.Fields(strings.ReplaceAll(cleaned, "_", " "))
	if len(words) == 0 {
		return "Unknown error"
	}
	words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
	return strings.Join(words, " ")
}
