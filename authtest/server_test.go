package authtest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthClient/internal/flows"
	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/transport"
)

func loginRaw(t *testing.T, s *Server, provider string, material map[string]any) map[string]string {
	t.Helper()
	body, _ := json.Marshal(material)
	resp, err := s.RoundTrip(context.Background(), &transport.Request{
		Method: http.MethodPost,
		Path:   s.routes.LoginPath(provider),
		Body:   body,
	})
	if err != nil {
		t.Fatalf("login %s: %v", provider, err)
	}
	var out map[string]string
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return out
}

func TestAnonymousLoginIssuesTokensAndProfile(t *testing.T) {
	s := MustNewServer(Options{})
	deps := flows.LoginDeps{Transport: s, Routes: s.routes}

	res := flows.RunLogin(context.Background(), flows.LoginInput{
		ProviderType: session.ProviderTypeAnonymous,
		ProviderName: "anon-user",
		Material:     map[string]any{},
		Device:       map[string]any{"deviceId": "dev-1"},
	}, deps)
	if res.Failure != flows.LoginFailureNone {
		t.Fatalf("login failed: %v", res.Err)
	}
	if res.Info.DeviceID != "dev-1" {
		t.Fatalf("expected device id to be echoed, got %q", res.Info.DeviceID)
	}
	if !res.Info.IsAnonymous() {
		t.Fatalf("expected anonymous profile, got %+v", res.Info.Profile)
	}
	if s.Calls(RouteLogin) != 1 || s.Calls(RouteProfile) != 1 {
		t.Fatalf("unexpected calls: login=%d profile=%d", s.Calls(RouteLogin), s.Calls(RouteProfile))
	}
	if s.ActiveSessions() != 1 {
		t.Fatalf("expected one session, got %d", s.ActiveSessions())
	}
}

func TestUserPassRejectsWrongPassword(t *testing.T) {
	s := MustNewServer(Options{})
	s.RegisterUser("ann@example.com", "secret")

	out := loginRaw(t, s, "local-userpass", map[string]any{"username": "ann@example.com", "password": "secret"})
	if out["user_id"] == "" {
		t.Fatal("expected a user id")
	}
	again := loginRaw(t, s, "local-userpass", map[string]any{"username": "ann@example.com", "password": "secret"})
	if again["user_id"] != out["user_id"] {
		t.Fatalf("same identity must map to the same user: %q vs %q", again["user_id"], out["user_id"])
	}

	body, _ := json.Marshal(map[string]any{"username": "ann@example.com", "password": "nope"})
	_, err := s.RoundTrip(context.Background(), &transport.Request{
		Method: http.MethodPost,
		Path:   s.routes.LoginPath("local-userpass"),
		Body:   body,
	})
	if transport.CodeOf(err) != transport.CodeUserpassAuthFailure {
		t.Fatalf("expected UserpassAuthFailure, got %v", err)
	}
}

func TestUnknownProvider(t *testing.T) {
	s := MustNewServer(Options{})
	_, err := s.RoundTrip(context.Background(), &transport.Request{
		Method: http.MethodPost,
		Path:   s.routes.LoginPath("nope"),
		Body:   []byte(`{}`),
	})
	var se *transport.ServiceError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound || se.Code != transport.CodeAuthProviderNotFound {
		t.Fatalf("expected 404 AuthProviderNotFound, got %v", err)
	}
}

func TestServerAPIKeyYieldsServerUser(t *testing.T) {
	s := MustNewServer(Options{})
	s.RegisterServerAPIKey("srv")

	out := loginRaw(t, s, "api-key", map[string]any{"key": "srv"})
	profile, err := flows.FetchProfile(context.Background(), out["access_token"], s, s.routes)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.UserType != session.UserTypeServer {
		t.Fatalf("expected server user, got %q", profile.UserType)
	}
}

func TestExpiredAccessTokenRecoversThroughRefresh(t *testing.T) {
	s := MustNewServer(Options{})
	out := loginRaw(t, s, "anon-user", map[string]any{})
	s.ExpireAccessTokens()

	req := &transport.Request{Method: http.MethodGet, Path: "/things"}
	req.SetBearer(out["access_token"])
	if _, err := s.RoundTrip(context.Background(), req); transport.CodeOf(err) != transport.CodeInvalidSession {
		t.Fatalf("expected InvalidSession for an expired token, got %v", err)
	}

	res := flows.RunRefresh(context.Background(), out["refresh_token"], flows.RefreshDeps{Transport: s, Routes: s.routes})
	if res.Failure != flows.RefreshFailureNone {
		t.Fatalf("refresh failed: %v", res.Err)
	}

	req.SetBearer(res.AccessToken)
	resp, err := s.RoundTrip(context.Background(), req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	var echo EchoResponse
	if err := json.Unmarshal(resp.Body, &echo); err != nil {
		t.Fatalf("decode echo: %v", err)
	}
	if echo.UserID != out["user_id"] || echo.Path != "/things" || echo.Method != http.MethodGet {
		t.Fatalf("unexpected echo %+v", echo)
	}
}

func TestRevokedSessionRejectsRefresh(t *testing.T) {
	s := MustNewServer(Options{})
	out := loginRaw(t, s, "anon-user", map[string]any{})
	s.RevokeSessions()

	res := flows.RunRefresh(context.Background(), out["refresh_token"], flows.RefreshDeps{Transport: s, Routes: s.routes})
	if transport.CodeOf(res.Err) != transport.CodeInvalidSession {
		t.Fatalf("expected InvalidSession, got %v", res.Err)
	}
}

func TestLogoutDeletesSession(t *testing.T) {
	s := MustNewServer(Options{})
	out := loginRaw(t, s, "anon-user", map[string]any{})

	if err := flows.RunLogout(context.Background(), out["refresh_token"], flows.LogoutDeps{Transport: s, Routes: s.routes}); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if s.ActiveSessions() != 0 {
		t.Fatalf("expected no sessions, got %d", s.ActiveSessions())
	}
}

func TestLinkAttachesIdentity(t *testing.T) {
	s := MustNewServer(Options{})
	s.RegisterUser("bob", "pw")
	out := loginRaw(t, s, "anon-user", map[string]any{})

	res := flows.RunLogin(context.Background(), flows.LoginInput{
		ProviderType: session.ProviderTypeUserPass,
		ProviderName: "local-userpass",
		Material:     map[string]any{"username": "bob", "password": "pw"},
		Link:         &flows.LinkTarget{UserID: out["user_id"], AccessToken: out["access_token"]},
	}, flows.LoginDeps{Transport: s, Routes: s.routes})
	if res.Failure != flows.LoginFailureNone {
		t.Fatalf("link failed: %v", res.Err)
	}
	if got := len(res.Info.Profile.Identities); got != 2 {
		t.Fatalf("expected 2 identities, got %d", got)
	}
	if res.Info.IsAnonymous() {
		t.Fatal("a linked user is no longer anonymous")
	}
}

func TestFailNextAndHooks(t *testing.T) {
	s := MustNewServer(Options{})
	injected := &transport.ServiceError{Status: http.StatusServiceUnavailable, Code: transport.CodeUnknown}
	s.FailNext(RouteLogin, injected)

	hooked := 0
	s.OnCall(RouteLogin, func() { hooked++ })

	_, err := s.RoundTrip(context.Background(), &transport.Request{
		Method: http.MethodPost,
		Path:   s.routes.LoginPath("anon-user"),
		Body:   []byte(`{}`),
	})
	if !errors.Is(err, injected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	loginRaw(t, s, "anon-user", map[string]any{})
	if hooked != 2 || s.Calls(RouteLogin) != 2 {
		t.Fatalf("expected 2 hooked calls, got hook=%d calls=%d", hooked, s.Calls(RouteLogin))
	}
}

func TestStreamDeliversPublishedEvents(t *testing.T) {
	s := MustNewServer(Options{})
	out := loginRaw(t, s, "anon-user", map[string]any{})

	st, err := s.Stream(context.Background(), &transport.Request{
		Method: http.MethodGet,
		Path:   "/watch",
		Query:  url.Values{"access_token": {out["access_token"]}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if n := s.Publish("change", []byte("1")); n != 1 {
		t.Fatalf("expected one receiver, got %d", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := st.Next(ctx)
	if err != nil || ev.Name != "change" || string(ev.Data) != "1" {
		t.Fatalf("unexpected event %+v err=%v", ev, err)
	}

	_ = st.Close()
	if _, err := st.Next(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if n := s.Publish("change", nil); n != 0 {
		t.Fatalf("closed stream must not receive, got %d", n)
	}
}

func TestStreamRequiresToken(t *testing.T) {
	s := MustNewServer(Options{})
	_, err := s.Stream(context.Background(), &transport.Request{Method: http.MethodGet, Path: "/watch"})
	if !transport.IsAuthorizationFailure(err) {
		t.Fatalf("expected an authorization failure, got %v", err)
	}
}
