package goAuthClient

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthClient/authtest"
	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/storage"
)

const testAppID = "test-app"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	engine  *Engine
	server  *authtest.Server
	storage session.Storage
	clock   *fakeClock
}

type envOption func(*envSettings)

type envSettings struct {
	config    Config
	storage   session.Storage
	server    *authtest.Server
	accessTTL time.Duration
	auditSink AuditSink
}

func withConfig(fn func(*Config)) envOption {
	return func(s *envSettings) { fn(&s.config) }
}

func withStorage(st session.Storage) envOption {
	return func(s *envSettings) { s.storage = st }
}

func withServer(srv *authtest.Server) envOption {
	return func(s *envSettings) { s.server = srv }
}

func withAccessTTL(d time.Duration) envOption {
	return func(s *envSettings) { s.accessTTL = d }
}

func withAudit(sink AuditSink) envOption {
	return func(s *envSettings) {
		s.auditSink = sink
		s.config.Audit.Enabled = true
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := DefaultConfig()
	cfg.App.ID = testAppID
	cfg.Request.Timeout = 5 * time.Second
	settings := envSettings{config: cfg}
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.storage == nil {
		settings.storage = storage.NewMemory()
	}

	clock := newFakeClock()
	srv := settings.server
	if srv == nil {
		srv = authtest.MustNewServer(authtest.Options{
			AppID:     settings.config.App.ID,
			AccessTTL: settings.accessTTL,
			Now:       clock.Now,
		})
		srv.RegisterUser("a@x.com", "pw")
		srv.RegisterUser("bob@x.com", "pw")
		srv.RegisterUser("carol@x.com", "pw")
		srv.RegisterAPIKey("user-key")
		srv.RegisterServerAPIKey("server-key")
	}

	b := New().
		WithConfig(settings.config).
		WithTransport(srv).
		WithStorage(settings.storage).
		WithClock(clock.Now)
	if settings.auditSink != nil {
		b.WithAuditSink(settings.auditSink)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, server: srv, storage: settings.storage, clock: clock}
}

// restart builds a second engine over the same storage and server, as a new process would.
func (env *testEnv) restart(t *testing.T) *Engine {
	t.Helper()
	cfg := env.engine.Config()
	engine, err := New().
		WithConfig(cfg).
		WithTransport(env.server).
		WithStorage(env.storage).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("rebuild engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func (env *testEnv) login(t *testing.T, cred Credential) *User {
	t.Helper()
	user, err := env.engine.LoginWithCredential(context.Background(), cred)
	if err != nil {
		t.Fatalf("login with %s: %v", cred.ProviderName(), err)
	}
	return user
}

func userpass(username string) UserPasswordCredential {
	return UserPasswordCredential{Username: username, Password: "pw"}
}

// eventLog collects events from any number of listeners in delivery order.
type eventLog struct {
	mu      sync.Mutex
	entries []string
	events  []AuthEvent
}

func (l *eventLog) listener(name string) AuthListener {
	return AuthListenerFunc(func(_ context.Context, _ *Engine, ev AuthEvent) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if name != "" {
			l.entries = append(l.entries, name+":"+ev.Type.String())
		} else {
			l.entries = append(l.entries, ev.Type.String())
		}
		l.events = append(l.events, ev)
	})
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.events = nil
}

func (l *eventLog) snapshot() ([]string, []AuthEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries), slices.Clone(l.events)
}

func (l *eventLog) expect(t *testing.T, want ...string) []AuthEvent {
	t.Helper()
	got, events := l.snapshot()
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected events\n got: %v\nwant: %v", got, want)
	}
	return events
}

// watch registers a recording listener and clears the ListenerRegistered entry.
func watch(t *testing.T, e *Engine) *eventLog {
	t.Helper()
	log := &eventLog{}
	e.AddAuthListener(log.listener(""))
	log.expect(t, "listener_registered")
	log.reset()
	return log
}

func userIDs(users []*User) []string {
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID()
	}
	return ids
}

func activeID(e *Engine) string {
	if u := e.User(); u != nil {
		return u.ID()
	}
	return ""
}

func sameAuthInfo(a, b session.AuthInfo) error {
	switch {
	case a.UserID != b.UserID:
		return fmt.Errorf("user id %q != %q", a.UserID, b.UserID)
	case a.DeviceID != b.DeviceID:
		return fmt.Errorf("device id %q != %q", a.DeviceID, b.DeviceID)
	case a.AccessToken != b.AccessToken || a.RefreshToken != b.RefreshToken:
		return fmt.Errorf("tokens differ for %s", a.UserID)
	case a.LoggedInProviderType != b.LoggedInProviderType || a.LoggedInProviderName != b.LoggedInProviderName:
		return fmt.Errorf("provider differs for %s", a.UserID)
	case !a.LastAuthActivity.Equal(b.LastAuthActivity):
		return fmt.Errorf("last auth activity %s != %s", a.LastAuthActivity, b.LastAuthActivity)
	case (a.Profile == nil) != (b.Profile == nil):
		return fmt.Errorf("profile presence differs for %s", a.UserID)
	}
	if a.Profile != nil {
		if a.Profile.UserType != b.Profile.UserType || a.Profile.Data != b.Profile.Data ||
			!slices.Equal(a.Profile.Identities, b.Profile.Identities) {
			return fmt.Errorf("profile differs for %s", a.UserID)
		}
	}
	return nil
}
