package goAuthClient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// AuthEventType tags an AuthEvent.
type AuthEventType int

const (
	EventListenerRegistered AuthEventType = iota
	EventUserAdded
	EventUserLoggedIn
	EventUserLoggedOut
	EventUserLinked
	EventUserRemoved
	EventActiveUserChanged
)

func (t AuthEventType) String() string {
	switch t {
	case EventListenerRegistered:
		return "listener_registered"
	case EventUserAdded:
		return "user_added"
	case EventUserLoggedIn:
		return "user_logged_in"
	case EventUserLoggedOut:
		return "user_logged_out"
	case EventUserLinked:
		return "user_linked"
	case EventUserRemoved:
		return "user_removed"
	case EventActiveUserChanged:
		return "active_user_changed"
	default:
		return fmt.Sprintf("auth_event(%d)", int(t))
	}
}

// AuthEvent is one identity lifecycle transition.
//
// User is set for every type except EventListenerRegistered and
// EventActiveUserChanged. For EventActiveUserChanged, Current is the new active user
// and Previous the one it replaced; either may be nil.
type AuthEvent struct {
	Type     AuthEventType
	User     *User
	Previous *User
	Current  *User
}

// AuthListener observes lifecycle events.
//
// Events are delivered synchronously, in registration order. A listener may call any
// engine method, including mutating ones; events caused by such calls are delivered
// after the current event has reached every listener.
//
// One goroutine delivers at a time. An engine call made while another goroutine is
// delivering queues its events behind the ones in flight and returns; the delivering
// goroutine hands them to listeners.
type AuthListener interface {
	OnAuthEvent(ctx context.Context, engine *Engine, event AuthEvent)
}

// AuthListenerFunc adapts a function to AuthListener.
type AuthListenerFunc func(ctx context.Context, engine *Engine, event AuthEvent)

func (f AuthListenerFunc) OnAuthEvent(ctx context.Context, engine *Engine, event AuthEvent) {
	f(ctx, engine, event)
}

// ListenerHooks is an AuthListener with one optional slot per event type. Nil slots
// ignore their events.
type ListenerHooks struct {
	OnListenerRegistered func(ctx context.Context, engine *Engine)
	OnUserAdded          func(ctx context.Context, engine *Engine, user *User)
	OnUserLoggedIn       func(ctx context.Context, engine *Engine, user *User)
	OnUserLoggedOut      func(ctx context.Context, engine *Engine, user *User)
	OnUserLinked         func(ctx context.Context, engine *Engine, user *User)
	OnUserRemoved        func(ctx context.Context, engine *Engine, user *User)
	OnActiveUserChanged  func(ctx context.Context, engine *Engine, current, previous *User)
}

func (h ListenerHooks) OnAuthEvent(ctx context.Context, engine *Engine, event AuthEvent) {
	userHook := func(fn func(context.Context, *Engine, *User)) {
		if fn != nil {
			fn(ctx, engine, event.User)
		}
	}
	switch event.Type {
	case EventListenerRegistered:
		if h.OnListenerRegistered != nil {
			h.OnListenerRegistered(ctx, engine)
		}
	case EventUserAdded:
		userHook(h.OnUserAdded)
	case EventUserLoggedIn:
		userHook(h.OnUserLoggedIn)
	case EventUserLoggedOut:
		userHook(h.OnUserLoggedOut)
	case EventUserLinked:
		userHook(h.OnUserLinked)
	case EventUserRemoved:
		userHook(h.OnUserRemoved)
	case EventActiveUserChanged:
		if h.OnActiveUserChanged != nil {
			h.OnActiveUserChanged(ctx, engine, event.Current, event.Previous)
		}
	}
}

// AddAuthListener registers l. l receives EventListenerRegistered on the calling
// goroutine before AddAuthListener returns and before any other event. The returned
// func unregisters l and is safe to call more than once.
func (e *Engine) AddAuthListener(l AuthListener) (remove func()) {
	if l == nil {
		return func() {}
	}
	entry := e.notifier.add(l)
	return func() { entry.removed.Store(true) }
}

type listenerEntry struct {
	listener AuthListener
	removed  atomic.Bool
}

type pendingEvent struct {
	ctx        context.Context
	event      AuthEvent
	recipients []*listenerEntry
}

// notifier queues events in commit order and delivers them outside the engine lock.
// Recipients are fixed at enqueue time, so a listener never sees an event queued before
// its registration.
type notifier struct {
	engine *Engine

	mu        sync.Mutex
	listeners []*listenerEntry
	queue     []pendingEvent
	draining  bool
}

// add delivers EventListenerRegistered to l and then makes it a recipient of events
// enqueued from now on.
func (n *notifier) add(l AuthListener) *listenerEntry {
	entry := &listenerEntry{listener: l}
	n.deliver(context.Background(), l, AuthEvent{Type: EventListenerRegistered})

	n.mu.Lock()
	n.listeners = append(n.listeners, entry)
	n.mu.Unlock()
	return entry
}

// enqueue appends events for every listener registered now. Callers hold the engine
// lock so queue order matches store commit order.
func (n *notifier) enqueue(ctx context.Context, events []AuthEvent) {
	if len(events) == 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	n.listeners = pruneRemoved(n.listeners)
	recipients := make([]*listenerEntry, len(n.listeners))
	copy(recipients, n.listeners)
	for _, ev := range events {
		n.queue = append(n.queue, pendingEvent{ctx: ctx, event: ev, recipients: recipients})
	}
}

// drain delivers queued events until the queue is empty. A drain already running on
// any goroutine delivers the new events instead, which keeps delivery ordered and makes
// re-entrant engine calls from listeners safe.
func (n *notifier) drain(ctx context.Context) {
	n.mu.Lock()
	if n.draining {
		n.mu.Unlock()
		return
	}
	n.draining = true

	for len(n.queue) > 0 {
		next := n.queue[0]
		n.queue[0] = pendingEvent{}
		n.queue = n.queue[1:]
		n.mu.Unlock()

		evCtx := next.ctx
		if evCtx == nil {
			evCtx = ctx
		}
		for _, r := range next.recipients {
			if r.removed.Load() {
				continue
			}
			n.deliver(evCtx, r.listener, next.event)
		}

		n.mu.Lock()
	}

	n.draining = false
	n.queue = nil
	n.mu.Unlock()
}

func (n *notifier) deliver(ctx context.Context, l AuthListener, event AuthEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			n.engine.metricInc(MetricListenerPanic)
			n.engine.logger.Warn("auth listener panicked",
				zap.String("event", event.Type.String()),
				zap.Any("panic", rec),
			)
		}
	}()
	l.OnAuthEvent(ctx, n.engine, event)
}

func pruneRemoved(entries []*listenerEntry) []*listenerEntry {
	out := entries[:0]
	for _, e := range entries {
		if !e.removed.Load() {
			out = append(out, e)
		}
	}
	for i := len(out); i < len(entries); i++ {
		entries[i] = nil
	}
	return out
}
