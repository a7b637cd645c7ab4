// Package transport performs single HTTP calls for probes.
//
// A [Transport] executes exactly one request and reports either a [Response]
// or a classified [Error]. Retrying is the caller's concern. [HTTP] is the
// production implementation; tests usually substitute a [Func].
package transport
