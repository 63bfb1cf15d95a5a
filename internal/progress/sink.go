package progress

import "context"

// Sink receives batches from a Hub. Calls to one sink never overlap, but
// different sinks see the same batch concurrently and must not modify it.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts single events; Reporter writes to one.
type Emitter interface {
	Emit(evt Event)
}
