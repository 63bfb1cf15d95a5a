package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
)

// Config controls buffering and batching. Zero values take defaults: a
// 1024-event buffer, batches of up to 256 events or 500ms, and a 10s
// deadline per sink call.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	Logger         *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub batches events and hands each batch to every sink. Emit never blocks:
// when the buffer is full the event is dropped and counted, so a slow sink
// cannot stall a run.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stop   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	dropped  atomic.Int64
	dropWarn rate.Sometimes
	closed   atomic.Bool
	stopOnce sync.Once
}

// NewHub starts the delivery goroutine. Nil sinks are ignored.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	live := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	h := &Hub{
		cfg:      cfg,
		sinks:    live,
		events:   make(chan Event, cfg.BufferSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   cfg.Logger.Named("progress"),
		dropWarn: rate.Sometimes{Interval: 5 * time.Second},
	}
	go h.deliver()
	return h
}

// Emit queues evt. Invalid events and events emitted after Close are
// discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.String("stage", string(evt.Stage)), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		total := h.dropped.Add(1)
		h.dropWarn.Do(func() {
			h.logger.Warn("progress buffer full; dropping events", zap.Int64("dropped_total", total))
		})
	}
}

// Dropped reports how many events did not fit in the buffer.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close stops intake, delivers whatever is buffered, closes the sinks and
// waits for all of that to finish or ctx to end. It may be called more than
// once.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.stopOnce.Do(func() {
		h.closed.Store(true)
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close: %w", ctx.Err())
	}
}

func (h *Hub) deliver() {
	defer close(h.done)

	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	wait := time.NewTimer(h.cfg.MaxBatchWait)
	wait.Stop()
	armed := false

	send := func() {
		if armed {
			wait.Stop()
			armed = false
		}
		if len(pending) == 0 {
			return
		}
		h.fanOut(append([]Event(nil), pending...))
		pending = pending[:0]
	}
	add := func(evt Event) {
		pending = append(pending, evt)
		switch {
		case len(pending) >= h.cfg.MaxBatchEvents:
			send()
		case !armed:
			wait.Reset(h.cfg.MaxBatchWait)
			armed = true
		}
	}

	for {
		select {
		case evt := <-h.events:
			add(evt)
		case <-wait.C:
			armed = false
			send()
		case <-h.stop:
		drain:
			for {
				select {
				case evt := <-h.events:
					add(evt)
				default:
					break drain
				}
			}
			send()
			h.closeSinks()
			return
		}
	}
}

// fanOut delivers one batch to all sinks concurrently. Sink errors are
// logged and never reach the emitter.
func (h *Hub) fanOut(batch []Event) {
	var g errgroup.Group
	for _, sink := range h.sinks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
			defer cancel()
			if err := sink.Consume(ctx, batch); err != nil {
				h.logger.Warn("progress sink failed", zap.Int("events", len(batch)), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (h *Hub) closeSinks() {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
	defer cancel()
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
