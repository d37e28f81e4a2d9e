package goAuthClient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/MrEthical07/goAuthClient/internal/audit"
	"github.com/MrEthical07/goAuthClient/internal/flows"
	"github.com/MrEthical07/goAuthClient/refresh"
	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/transport"
)

// State summarizes the users known on this device.
type State int

const (
	StateNoUsers State = iota
	StateHasInactiveUsersOnly
	StateHasActiveUser
)

func (s State) String() string {
	switch s {
	case StateNoUsers:
		return "no_users"
	case StateHasInactiveUsersOnly:
		return "has_inactive_users_only"
	case StateHasActiveUser:
		return "has_active_user"
	default:
		return "unknown"
	}
}

// Engine is the auth session manager for one app. All methods are safe for concurrent
// use. Build one with New().
type Engine struct {
	config    Config
	store     *session.Store
	transport transport.Transport
	routes    flows.Routes
	refresher *refresh.Refresher
	refreshes singleflight.Group
	notifier  *notifier
	logger    *zap.Logger
	metrics   *Metrics
	audit     *audit.Dispatcher
	now       func() time.Time

	// mu serializes store commits with event enqueueing. Network I/O never runs under it.
	mu sync.Mutex

	closed       atomic.Bool
	closeOnce    sync.Once
	stopRefresh  context.CancelFunc
	refreshGroup sync.WaitGroup
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// State reports whether the device has no users, only inactive users, or an active user.
func (e *Engine) State() State {
	if _, ok := e.store.Active(); ok {
		return StateHasActiveUser
	}
	if e.store.Len() > 0 {
		return StateHasInactiveUsersOnly
	}
	return StateNoUsers
}

// User returns the active user, or nil when no user is active.
func (e *Engine) User() *User {
	info, ok := e.store.Active()
	if !ok {
		return nil
	}
	return newUser(e, info)
}

// IsLoggedIn reports whether there is an active user holding an access token.
func (e *Engine) IsLoggedIn() bool {
	info, ok := e.store.Active()
	return ok && info.IsLoggedIn()
}

// ListUsers returns every known user in login order.
func (e *Engine) ListUsers() []*User {
	infos := e.store.List()
	out := make([]*User, 0, len(infos))
	for _, info := range infos {
		out = append(out, newUser(e, info))
	}
	return out
}

// DeviceID returns the device id last assigned by the server, or "".
func (e *Engine) DeviceID() string {
	return e.store.DeviceID()
}

// Close stops the background refresher and flushes the audit dispatcher. Later
// operations fail with ErrEngineClosed. Close is idempotent.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		if e.stopRefresh != nil {
			e.stopRefresh()
		}
		e.refresher.Close()
		e.refreshGroup.Wait()
		e.audit.Close()
		_ = e.logger.Sync()
	})
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

func (e *Engine) warn(msg string, err error) {
	e.logger.Warn(msg, zap.Error(err))
}

// withTimeout bounds one transport call by Request.Timeout.
func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.Request.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.config.Request.Timeout)
}

// eventBatch collects the events of one store transaction. They are queued only when
// the transaction commits.
type eventBatch struct {
	engine  *Engine
	events  []AuthEvent
	counted []MetricID
}

func (b *eventBatch) count(id MetricID) {
	b.counted = append(b.counted, id)
}

func (b *eventBatch) user(t AuthEventType, info session.AuthInfo) {
	b.events = append(b.events, AuthEvent{Type: t, User: newUser(b.engine, info)})
}

func (b *eventBatch) activeChanged(previous, current *User) {
	b.events = append(b.events, AuthEvent{Type: EventActiveUserChanged, Previous: previous, Current: current})
}

// mutate runs fn in one store transaction and, when it commits, delivers the collected
// events after the engine lock is released.
func (e *Engine) mutate(ctx context.Context, fn func(tx *session.Tx, batch *eventBatch) error) error {
	batch := &eventBatch{engine: e}

	e.mu.Lock()
	err := e.store.Mutate(func(tx *session.Tx) error {
		return fn(tx, batch)
	})
	if err == nil {
		e.notifier.enqueue(ctx, batch.events)
	}
	e.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrCouldNotPersistAuthInfo) {
			e.metricInc(MetricPersistFailure)
			e.logger.Error("persist session state", zap.Error(err))
		}
		return err
	}
	for _, id := range batch.counted {
		e.metricInc(id)
	}
	e.notifier.drain(ctx)
	return nil
}

// demoteLocked takes prev out of the active slot: anonymous users are removed, others
// are logged out and kept. It returns the demoted user for the ActiveUserChanged event.
func (e *Engine) demoteLocked(tx *session.Tx, batch *eventBatch, prev session.AuthInfo, now time.Time) *User {
	if prev.IsAnonymous() {
		out := prev.LoggedOut()
		tx.Remove(prev.UserID)
		if prev.IsLoggedIn() {
			batch.user(EventUserLoggedOut, out)
		}
		batch.user(EventUserRemoved, out)
		batch.count(MetricUserRemoved)
		return newUser(e, out)
	}

	wasLoggedIn := prev.IsLoggedIn()
	out, err := tx.Update(prev.UserID, func(a session.AuthInfo) session.AuthInfo {
		a = a.LoggedOut()
		a.LastAuthActivity = now
		return a
	})
	if err != nil {
		return newUser(e, prev.LoggedOut())
	}
	if wasLoggedIn {
		batch.user(EventUserLoggedOut, out)
		batch.count(MetricLogout)
	}
	return newUser(e, out)
}
