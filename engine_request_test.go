package goAuthClient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthClient/authtest"
	"github.com/MrEthical07/goAuthClient/transport"
)

func getThings() *transport.Request {
	return &transport.Request{Method: http.MethodGet, Path: "/api/things"}
}

func invalidSession() *transport.ServiceError {
	return &transport.ServiceError{Status: http.StatusUnauthorized, Code: transport.CodeInvalidSession, Message: "invalid session"}
}

func TestRequestWithoutUserNeverReachesNetwork(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.engine.DoAuthenticatedRequest(context.Background(), getThings()); !errors.Is(err, ErrMustAuthenticateFirst) {
		t.Fatalf("expected ErrMustAuthenticateFirst, got %v", err)
	}
	if _, err := env.engine.OpenAuthenticatedStream(context.Background(), getThings()); !errors.Is(err, ErrMustAuthenticateFirst) {
		t.Fatalf("expected ErrMustAuthenticateFirst, got %v", err)
	}
	if _, err := env.engine.RefreshUserProfile(context.Background()); !errors.Is(err, ErrMustAuthenticateFirst) {
		t.Fatalf("expected ErrMustAuthenticateFirst, got %v", err)
	}
	if got := env.server.TotalCalls(); got != 0 {
		t.Fatalf("expected no network calls, got %d", got)
	}
}

func TestRequestAfterLogoutNeedsAuthentication(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, userpass("a@x.com"))
	if err := env.engine.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	calls := env.server.TotalCalls()

	if _, err := env.engine.DoAuthenticatedRequest(context.Background(), getThings()); !errors.Is(err, ErrMustAuthenticateFirst) {
		t.Fatalf("expected ErrMustAuthenticateFirst, got %v", err)
	}
	if env.server.TotalCalls() != calls {
		t.Fatal("expected no network call")
	}
}

func TestRequestCarriesBearerToken(t *testing.T) {
	env := newTestEnv(t)
	user := env.login(t, userpass("a@x.com"))

	req := getThings()
	resp, err := env.engine.DoAuthenticatedRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var echo authtest.EchoResponse
	if err := json.Unmarshal(resp.Body, &echo); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if echo.UserID != user.ID() || echo.Path != "/api/things" {
		t.Fatalf("unexpected echo %+v", echo)
	}
	if req.Header != nil {
		t.Fatal("the caller's request must not be mutated")
	}
}

func TestRequestRetriedOnceAfterRefresh(t *testing.T) {
	env := newTestEnv(t)
	user := env.login(t, userpass("a@x.com"))
	before := user.AuthInfo().AccessToken
	env.server.ExpireAccessTokens()

	resp, err := env.engine.DoAuthenticatedRequest(context.Background(), getThings())
	if err != nil {
		t.Fatalf("expected the retry to succeed, got %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Status)
	}
	if got := env.server.Calls(authtest.RouteEcho); got != 2 {
		t.Fatalf("expected exactly two attempts, got %d", got)
	}
	if got := env.server.Calls(authtest.RouteRefresh); got != 1 {
		t.Fatalf("expected one refresh, got %d", got)
	}
	if after := env.engine.User().AuthInfo().AccessToken; after == before {
		t.Fatal("expected the refreshed access token to be stored")
	}

	counters := env.engine.MetricsSnapshot().Counters
	if counters[MetricRequestRetried] != 1 || counters[MetricRequestSuccess] != 1 || counters[MetricRefreshSuccess] != 1 {
		t.Fatalf("unexpected counters %v", counters)
	}
}

func TestSecondAuthorizationFailureIsFatal(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, userpass("a@x.com"))
	env.server.FailNext(authtest.RouteEcho, invalidSession())
	env.server.FailNext(authtest.RouteEcho, invalidSession())

	_, err := env.engine.DoAuthenticatedRequest(context.Background(), getThings())
	if !errors.Is(err, ErrFatalAuth) {
		t.Fatalf("expected ErrFatalAuth, got %v", err)
	}
	var se *transport.ServiceError
	if !errors.As(err, &se) || se.Code != transport.CodeInvalidSession {
		t.Fatalf("expected the service error to stay reachable, got %v", err)
	}
	if env.server.Calls(authtest.RouteEcho) != 2 || env.server.Calls(authtest.RouteRefresh) != 1 {
		t.Fatalf("expected two attempts and one refresh, got %d and %d",
			env.server.Calls(authtest.RouteEcho), env.server.Calls(authtest.RouteRefresh))
	}
	if !env.engine.IsLoggedIn() {
		t.Fatal("a fatal auth failure must not log the user out")
	}
}

func TestFailedRefreshSurfacesWithoutLogout(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, userpass("a@x.com"))
	env.server.ExpireAccessTokens()
	env.server.RevokeSessions()

	_, err := env.engine.DoAuthenticatedRequest(context.Background(), getThings())
	if transport.CodeOf(err) != transport.CodeInvalidSession || errors.Is(err, ErrFatalAuth) {
		t.Fatalf("expected the refresh failure, got %v", err)
	}
	if env.server.Calls(authtest.RouteEcho) != 1 {
		t.Fatal("a failed refresh must not resubmit")
	}
	if !env.engine.IsLoggedIn() {
		t.Fatal("a failed refresh must not log the user out")
	}
}

func TestNonAuthFailurePassesThrough(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, userpass("a@x.com"))
	injected := &transport.ServiceError{Status: http.StatusBadRequest, Code: transport.CodeInvalidParameter}
	env.server.FailNext(authtest.RouteEcho, injected)

	if _, err := env.engine.DoAuthenticatedRequest(context.Background(), getThings()); !errors.Is(err, injected) {
		t.Fatalf("expected the service error unchanged, got %v", err)
	}
	if env.server.Calls(authtest.RouteRefresh) != 0 {
		t.Fatal("a non-auth failure must not trigger a refresh")
	}
}

func TestProactiveRefreshBeforeExpiry(t *testing.T) {
	env := newTestEnv(t, withAccessTTL(10*time.Minute))
	env.login(t, userpass("a@x.com"))
	env.clock.Advance(9*time.Minute + 30*time.Second)

	if _, err := env.engine.DoAuthenticatedRequest(context.Background(), getThings()); err != nil {
		t.Fatalf("request: %v", err)
	}
	if env.server.Calls(authtest.RouteRefresh) != 1 || env.server.Calls(authtest.RouteEcho) != 1 {
		t.Fatalf("expected a refresh before a single attempt, got refresh=%d echo=%d",
			env.server.Calls(authtest.RouteRefresh), env.server.Calls(authtest.RouteEcho))
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricProactiveRefresh]; got != 1 {
		t.Fatalf("expected a proactive refresh, got %d", got)
	}
}

func TestExpiredTokenRefreshedBeforeUse(t *testing.T) {
	env := newTestEnv(t, withAccessTTL(10*time.Minute))
	env.login(t, userpass("a@x.com"))
	env.clock.Advance(15 * time.Minute)

	if _, err := env.engine.DoAuthenticatedRequest(context.Background(), getThings()); err != nil {
		t.Fatalf("request: %v", err)
	}
	if env.server.Calls(authtest.RouteEcho) != 1 {
		t.Fatalf("expected the expired token to be refreshed up front, got %d attempts", env.server.Calls(authtest.RouteEcho))
	}
}

func TestConcurrentRefreshesShareOneExchange(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, userpass("a@x.com"))
	info := env.engine.User().AuthInfo()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env.server.OnCall(authtest.RouteRefresh, func() {
		once.Do(func() { close(entered) })
		<-release
	})

	const callers = 8
	tokens := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	start := func(i int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = env.engine.refreshAccessToken(context.Background(), info)
		}()
	}

	start(0)
	<-entered
	for i := 1; i < callers; i++ {
		start(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if tokens[i] != tokens[0] {
			t.Fatalf("caller %d got a different token", i)
		}
	}
	if got := env.server.Calls(authtest.RouteRefresh); got != 1 {
		t.Fatalf("expected one refresh exchange, got %d", got)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricRefreshCoalesced]; got != callers-1 {
		t.Fatalf("expected %d coalesced callers, got %d", callers-1, got)
	}
}

func TestCancelledCallerAbandonsRefreshWait(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, userpass("a@x.com"))
	info := env.engine.User().AuthInfo()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env.server.OnCall(authtest.RouteRefresh, func() {
		once.Do(func() { close(entered) })
		<-release
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := env.engine.refreshAccessToken(ctx, info)
		done <- err
	}()
	<-entered
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("a cancelled caller must not wait for the exchange")
	}

	close(release)
	// The abandoned exchange still completes and stores its token.
	token, err := env.engine.refreshAccessToken(context.Background(), info)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if env.engine.User().AuthInfo().AccessToken != token {
		t.Fatal("expected the refreshed token to be stored")
	}
}

func TestRefreshDiscardedWhenUserLogsOutMidFlight(t *testing.T) {
	env := newTestEnv(t)
	user := env.login(t, userpass("a@x.com"))
	env.server.ExpireAccessTokens()
	// Keep the server session alive so the refresh itself succeeds.
	env.server.FailNext(authtest.RouteLogout, &transport.ServiceError{Status: http.StatusBadGateway, Code: transport.CodeUnknown})

	var once sync.Once
	env.server.OnCall(authtest.RouteRefresh, func() {
		once.Do(func() {
			if err := env.engine.Logout(context.Background()); err != nil {
				t.Errorf("logout: %v", err)
			}
		})
	})

	_, err := env.engine.DoAuthenticatedRequest(context.Background(), getThings())
	if !errors.Is(err, ErrUserNoLongerValid) {
		t.Fatalf("expected ErrUserNoLongerValid, got %v", err)
	}

	stored, ok := env.engine.store.Get(user.ID())
	if !ok || stored.IsLoggedIn() {
		t.Fatal("the refreshed token must not resurrect a logged-out user")
	}
	if got := env.server.Calls(authtest.RouteEcho); got != 1 {
		t.Fatal("the request must not be resubmitted")
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricRefreshDiscarded]; got != 1 {
		t.Fatalf("expected the refresh to be discarded, got %d", got)
	}
}

func TestRefreshDiscardedWhenUserLogsInAgainMidFlight(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, userpass("a@x.com"))
	info := env.engine.User().AuthInfo()

	var once sync.Once
	env.server.OnCall(authtest.RouteRefresh, func() {
		once.Do(func() {
			if _, err := env.engine.LoginWithCredential(context.Background(), userpass("a@x.com")); err != nil {
				t.Errorf("login: %v", err)
			}
		})
	})

	if _, err := env.engine.refreshAccessToken(context.Background(), info); !errors.Is(err, ErrUserNoLongerValid) {
		t.Fatalf("expected ErrUserNoLongerValid, got %v", err)
	}
	current := env.engine.User().AuthInfo()
	if current.RefreshToken == info.RefreshToken {
		t.Fatal("expected the new session to be kept")
	}
}

func TestOpenAuthenticatedStream(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, userpass("a@x.com"))
	env.server.ExpireAccessTokens()

	stream, err := env.engine.OpenAuthenticatedStream(context.Background(), &transport.Request{Method: http.MethodGet, Path: "/api/watch"})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Close()
	if env.server.Calls(authtest.RouteStream) != 2 {
		t.Fatalf("expected the stream to be reopened after a refresh, got %d attempts", env.server.Calls(authtest.RouteStream))
	}

	env.server.Publish("update", []byte(`{"n":1}`))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Name != "update" || string(ev.Data) != `{"n":1}` {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestRefreshUserProfile(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, userpass("a@x.com"))
	log := watch(t, env.engine)
	profileCalls := env.server.Calls(authtest.RouteProfile)

	user, err := env.engine.RefreshUserProfile(context.Background())
	if err != nil {
		t.Fatalf("refresh profile: %v", err)
	}
	if user.Profile().Data.Email != "a@x.com" {
		t.Fatalf("unexpected profile %+v", user.Profile())
	}
	if env.server.Calls(authtest.RouteProfile) != profileCalls+1 {
		t.Fatal("expected one profile fetch")
	}
	log.expect(t)
}

func TestBackgroundRefreshRenewsActiveUser(t *testing.T) {
	env := newTestEnv(t,
		withAccessTTL(10*time.Minute),
		withConfig(func(c *Config) { c.Refresh.BackgroundInterval = 10 * time.Millisecond }),
	)
	user := env.login(t, userpass("a@x.com"))
	before := user.AuthInfo().AccessToken

	env.clock.Advance(9*time.Minute + 30*time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for env.server.Calls(authtest.RouteRefresh) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected the background refresher to renew the token")
		}
		time.Sleep(5 * time.Millisecond)
	}
	for currentToken(env.engine) == before {
		if time.Now().After(deadline) {
			t.Fatal("expected the new access token to be stored")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func currentToken(e *Engine) string {
	for _, u := range e.ListUsers() {
		if u.ID() == activeID(e) {
			return u.AuthInfo().AccessToken
		}
	}
	return ""
}
