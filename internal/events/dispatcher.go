package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Audit routing modes.
const (
	ModeAll = "all"
	ModeDB  = "db"
	ModeLog = "log"
	ModeOff = "off"
)

type queued struct {
	ctx context.Context
	evt Event
}

// DefaultInlineTimeout bounds a store write made on the emitting goroutine.
const DefaultInlineTimeout = 250 * time.Millisecond

// Dispatcher routes events to the store and/or the log according to its mode.
// Delivery happens on a background goroutine fed by a bounded queue; when the
// queue is full or the dispatcher is closed the event is written inline instead,
// limited to the inline timeout. A queue size of zero makes every delivery inline.
// Sink failures are logged and never reach the emitter.
type Dispatcher struct {
	mode   string
	store  Sink
	log    *zap.Logger
	inline time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan queued
	done   chan struct{}
}

func NewDispatcher(mode string, store Sink, log *zap.Logger, queueSize int) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		mode:   mode,
		store:  store,
		log:    log,
		inline: DefaultInlineTimeout,
		done:   make(chan struct{}),
	}
	if queueSize <= 0 {
		// synchronous: every Emit delivers inline
		d.closed = true
		close(d.done)
		return d
	}
	d.queue = make(chan queued, queueSize)
	go d.run()
	return d
}

// WithInlineTimeout sets how long an inline store write may wait, typically
// on a busy database. Call it before the first Emit.
func (d *Dispatcher) WithInlineTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.inline = timeout
	}
	return d
}

func (d *Dispatcher) Emit(ctx context.Context, evt Event) {
	if d == nil || d.mode == ModeOff {
		return
	}
	// The originating request may finish before delivery.
	ctx = context.WithoutCancel(ctx)
	d.mu.RLock()
	if !d.closed {
		select {
		case d.queue <- queued{ctx: ctx, evt: evt}:
			d.mu.RUnlock()
			return
		default:
		}
	}
	d.mu.RUnlock()
	ctx, cancel := context.WithTimeout(ctx, d.inline)
	defer cancel()
	d.deliver(ctx, evt)
}

// Close stops accepting queued events and waits until the queue drains or ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for q := range d.queue {
		d.deliver(q.ctx, q.evt)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, evt Event) {
	if d.mode == ModeAll || d.mode == ModeLog {
		_ = LogSink{Log: d.log}.Write(ctx, evt)
	}
	if (d.mode == ModeAll || d.mode == ModeDB) && d.store != nil {
		if err := d.store.Write(ctx, evt); err != nil {
			d.log.Error("failed to store audit event",
				zap.Error(err),
				zap.String("action", evt.Action),
				zap.String("target_id", evt.TargetID),
			)
		}
	}
}
