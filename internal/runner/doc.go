// Package runner executes probes.
//
// A [Prober] drives the retry state machine for a single [endpoint.Spec]:
//
//	pending -> attempting -> success | soft_fail_retry | hard_fail | transport_error
//
// Soft failures (a trigger status, or a transport error kind the policy lists)
// sleep for the policy backoff and attempt again until MaxAttempts is reached.
// The verdict is scored on the last attempt only.
//
// A [Scheduler] runs a batch of specs through one Prober with a bounded worker
// pool:
//
//	sched := runner.NewScheduler(runner.NewProber(transport.NewHTTP()))
//	batch := sched.RunBatch(ctx, "offers", runner.Repeat(spec, 100), runner.BatchOptions{
//		Concurrency:   10,
//		Budget:        5 * time.Second,
//		RatePerSecond: 50,
//	})
//
// Outcomes are returned in submission order. The budget only sets
// BudgetExceeded; probes are never aborted because of it.
package runner
