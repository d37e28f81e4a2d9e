package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events when the buffer is full instead of blocking the caller.
	DropIfFull bool
	// DrainTimeout bounds how long Close keeps delivering queued events. Events still
	// queued afterwards are counted as dropped. Zero drains everything.
	DrainTimeout time.Duration
	// OnSinkPanic receives the value recovered from a panicking sink.
	OnSinkPanic func(recovered any)
}

// Dispatcher forwards audit events to a sink on its own goroutine so that engine
// operations never wait on sink I/O. A nil *Dispatcher is a valid disabled dispatcher.
type Dispatcher struct {
	cfg  Config
	sink Sink

	queue   chan Event
	quit    chan struct{}
	stopped chan struct{}

	dropped   atomic.Uint64
	delivered atomic.Uint64
	closing   atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher, or returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		cfg:     cfg,
		sink:    sink,
		queue:   make(chan Event, max(cfg.BufferSize, 1)),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case <-d.quit:
			d.drain()
			return
		default:
		}
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.quit:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	var deadline <-chan time.Time
	if d.cfg.DrainTimeout > 0 {
		timer := time.NewTimer(d.cfg.DrainTimeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		select {
		case <-deadline:
			d.dropped.Add(uint64(len(d.queue)))
			return
		default:
		}
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil && d.cfg.OnSinkPanic != nil {
			d.cfg.OnSinkPanic(r)
		}
	}()
	d.sink.Emit(context.Background(), ev)
	d.delivered.Add(1)
}

// Emit queues ev. With DropIfFull a full buffer drops it; otherwise Emit waits for room
// until ctx is done or the dispatcher closes. Events emitted after Close are ignored.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.closing.Load() {
		return
	}
	if d.cfg.DropIfFull {
		select {
		case d.queue <- ev:
		case <-d.quit:
		default:
			d.dropped.Add(1)
		}
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- ev:
	case <-d.quit:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close delivers queued events, bounded by DrainTimeout, and stops the dispatcher.
// It is idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closing.Store(true)
		close(d.quit)
	})
	<-d.stopped
}

// Dropped reports events lost to a full buffer, a cancelled caller or the drain timeout.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}
