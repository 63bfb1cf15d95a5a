// Package summary defines the core types shared across the summarization
// pipeline: the page record, fetch request/response envelopes, and the
// collaborator interfaces the processor is composed from.
package summary
