package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// DrainTimeout bounds how long Close keeps delivering buffered events.
	// Events still queued when it elapses are counted as dropped. Zero waits
	// for the whole buffer.
	DrainTimeout time.Duration
}

// envelope carries an event together with the emitting request's context.
// The context keeps its values but not its cancellation, so a finished
// request does not abort delivery.
type envelope struct {
	ctx   context.Context
	event Event
}

// Dispatcher asynchronously forwards audit events to a sink. A nil *Dispatcher
// is valid and discards everything.
type Dispatcher struct {
	cfg   Config
	sink  Sink
	queue chan envelope

	stop    chan struct{}
	stopped chan struct{}
	// aborted is canceled once the drain deadline passes; in-flight sink
	// calls see it through their context.
	aborted context.Context
	abort   context.CancelFunc

	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the delivery goroutine. It returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	aborted, abort := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:     cfg,
		sink:    sink,
		queue:   make(chan envelope, cfg.BufferSize),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		aborted: aborted,
		abort:   abort,
	}

	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.stopped)

	for {
		// Close wins over a non-empty queue so the drain deadline applies.
		select {
		case <-d.stop:
			d.drain()
			return
		default:
		}

		select {
		case env := <-d.queue:
			d.deliver(env)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case <-d.aborted.Done():
			d.dropped.Add(uint64(len(d.queue)))
			return
		default:
		}

		select {
		case env := <-d.queue:
			d.deliver(env)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(env envelope) {
	ctx, cancel := context.WithCancel(env.ctx)
	defer cancel()
	stop := context.AfterFunc(d.aborted, cancel)
	defer stop()

	d.sink.Emit(ctx, env.event)
}

// Emit queues event for delivery. With DropIfFull a full buffer drops the
// event; otherwise Emit waits for room until ctx is done.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	env := envelope{ctx: context.WithoutCancel(ctx), event: event}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- env:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- env:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

// Close stops accepting events and delivers what is buffered, for at most
// DrainTimeout when one is set.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		if d.cfg.DrainTimeout > 0 {
			t := time.AfterFunc(d.cfg.DrainTimeout, d.abort)
			defer t.Stop()
		}
		<-d.stopped
		d.abort()
	})
}

// Dropped reports how many events were discarded: buffer full, emitter gave
// up, or still queued when the drain deadline passed.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
