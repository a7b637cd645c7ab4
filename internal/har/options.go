package har

// ConvertOptions controls which HAR entries become probes.
type ConvertOptions struct {
	// IncludeHosts keeps only these hosts (empty = all hosts).
	IncludeHosts []string
	// ExcludeHosts drops these hosts.
	ExcludeHosts []string
	// IncludeMethods keeps only these methods (empty = all methods).
	IncludeMethods []string
	// ExcludeStatic drops static assets (.js, .css, images, fonts).
	ExcludeStatic bool
	// IncludeHeaders copies recorded request headers onto the probes.
	IncludeHeaders bool
	// ExpectRecordedStatus sets each probe's expected status to the recorded one.
	ExpectRecordedStatus bool
}

// DefaultOptions returns ConvertOptions with sensible defaults.
func DefaultOptions() ConvertOptions {
	return ConvertOptions{
		ExcludeStatic:        true,
		IncludeHeaders:       true,
		ExpectRecordedStatus: true,
	}
}
