// Package metrics folds batch results into run totals and latency summaries.
//
// [Fold], [RunResult.Add] and [RunResult.Merge] are associative: folding
// batches incrementally or all at once yields identical counts.
//
//	run := metrics.Fold(batchA, batchB)
//	run = run.Add(batchC)
//	summary := metrics.Summarize(run)
//
// [Summarize] records the elapsed time of each probe's final response in an
// HDR histogram and reports p50/p90/p95/p99 alongside per-spec and
// per-error-kind breakdowns.
package metrics
