// Package progress carries run, batch, and page events from a summarization
// run to pluggable sinks. A Hub buffers events on a background goroutine and
// never blocks the pipeline; a Reporter translates one run's lifecycle into
// events.
package progress
