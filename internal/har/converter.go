package har

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/torosent/probefire/internal/config"
)

var staticExtensions = []string{
	".js", ".css", ".png", ".jpg", ".jpeg", ".gif", ".svg",
	".woff", ".woff2", ".ttf", ".eot", ".ico", ".map",
}

// skippedHeaders are hop-by-hop headers plus those the transport sets itself.
var skippedHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"host":                true,
	"content-length":      true,
}

// Convert turns HAR entries into catalog probe entries with optional filtering.
// Probe ids are derived from method and path and made unique in entry order.
func Convert(doc *HAR, opts ConvertOptions) ([]config.EndpointEntry, error) {
	if doc == nil || doc.Log == nil {
		return nil, ErrMissingLog
	}

	var entries []config.EndpointEntry
	seen := make(map[string]int)

	for i, entry := range doc.Log.Entries {
		if !shouldIncludeEntry(entry, opts) {
			continue
		}
		probe, err := entryToProbe(entry, opts)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		seen[probe.ID]++
		if n := seen[probe.ID]; n > 1 {
			probe.ID = probe.ID + "-" + strconv.Itoa(n)
		}
		entries = append(entries, probe)
	}

	return entries, nil
}

// shouldIncludeEntry applies the host, method and static asset filters.
func shouldIncludeEntry(entry *Entry, opts ConvertOptions) bool {
	if entry == nil || entry.Request == nil {
		return false
	}
	req := entry.Request

	parsedURL, err := url.Parse(req.URL)
	if err != nil {
		return false
	}
	if len(opts.IncludeHosts) > 0 && !containsFold(opts.IncludeHosts, parsedURL.Host) {
		return false
	}
	if containsFold(opts.ExcludeHosts, parsedURL.Host) {
		return false
	}
	if len(opts.IncludeMethods) > 0 && !containsFold(opts.IncludeMethods, req.Method) {
		return false
	}
	if opts.ExcludeStatic && isStaticAsset(parsedURL.Path) {
		return false
	}
	return true
}

func entryToProbe(entry *Entry, opts ConvertOptions) (config.EndpointEntry, error) {
	req := entry.Request

	parsedURL, err := url.Parse(req.URL)
	if err != nil {
		return config.EndpointEntry{}, fmt.Errorf("parse url: %w", err)
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = "GET"
	}

	probe := config.EndpointEntry{
		ID:     probeID(method, parsedURL.Path),
		Method: method,
	}

	if query := parsedURL.Query(); len(query) > 0 {
		probe.Query = make(map[string]string, len(query))
		for key, values := range query {
			probe.Query[key] = values[len(values)-1]
		}
	}
	parsedURL.RawQuery = ""
	parsedURL.Fragment = ""
	probe.URL = parsedURL.String()

	if opts.IncludeHeaders && len(req.Headers) > 0 {
		probe.Headers = extractHeaders(req.Headers)
	}

	if req.PostData != nil && req.PostData.Text != "" {
		probe.Body, probe.RawBody = requestBody(req.PostData)
	}

	if opts.ExpectRecordedStatus {
		// Entries without a recorded response (aborted requests) expect 200.
		probe.ExpectedStatuses = []int{http.StatusOK}
		if entry.Response != nil && entry.Response.Status > 0 {
			probe.ExpectedStatuses = []int{entry.Response.Status}
		}
	}

	return probe, nil
}

// requestBody decodes JSON bodies so the catalog stays readable; anything
// else is kept verbatim.
func requestBody(data *PostData) (any, string) {
	text := data.Text
	if strings.Contains(strings.ToLower(data.MimeType), "json") || json.Valid([]byte(text)) {
		var decoded any
		if err := json.Unmarshal([]byte(text), &decoded); err == nil {
			return decoded, ""
		}
	}
	return nil, text
}

// probeID builds an id such as "post-api-users" from method and path.
func probeID(method, path string) string {
	slug := strings.FieldsFunc(strings.ToLower(path), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	return strings.Join(append([]string{strings.ToLower(method)}, slug...), "-")
}

// isStaticAsset checks whether a path points to a static asset.
func isStaticAsset(path string) bool {
	lowerPath := strings.ToLower(path)
	for _, ext := range staticExtensions {
		if strings.HasSuffix(lowerPath, ext) {
			return true
		}
	}
	return false
}

// extractHeaders copies request headers, dropping hop-by-hop headers and
// HTTP/2 pseudo-headers.
func extractHeaders(headers []*Header) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		if header == nil || strings.HasPrefix(header.Name, ":") {
			continue
		}
		if skippedHeaders[strings.ToLower(header.Name)] {
			continue
		}
		result[header.Name] = header.Value
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}
