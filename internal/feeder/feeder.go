// Package feeder loads data rows that bind probe placeholders. A batch with a
// feed runs one bound copy of each probe per row.
package feeder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Record is a single row of data keyed by column name.
type Record map[string]string

// ErrEmpty is returned for feeds without data rows.
var ErrEmpty = errors.New("feed has no records")

// Load reads a CSV or JSON feed, chosen by file extension.
func Load(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(file)
	case ".json":
		return ReadJSON(file)
	default:
		return nil, fmt.Errorf("unsupported feed format %q (use .csv or .json)", filepath.Ext(path))
	}
}

// Columns returns the sorted union of column names across records.
func Columns(records []Record) []string {
	seen := map[string]struct{}{}
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
