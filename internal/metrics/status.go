package metrics

import "sort"

// StatusBucket is the count of failed probes for a spec/status pair.
type StatusBucket struct {
	Spec   string `json:"spec"`
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// FlattenStatusBuckets converts a nested spec->status map into rows sorted by
// descending count, then by spec and status for stability.
func FlattenStatusBuckets(buckets map[string]map[string]int) []StatusBucket {
	if len(buckets) == 0 {
		return nil
	}
	rows := make([]StatusBucket, 0)
	for spec, codes := range buckets {
		for code, count := range codes {
			rows = append(rows, StatusBucket{Spec: spec, Status: code, Count: count})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			if rows[i].Spec == rows[j].Spec {
				return rows[i].Status < rows[j].Status
			}
			return rows[i].Spec < rows[j].Spec
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
