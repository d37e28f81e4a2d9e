package authtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goAuthClient/internal/flows"
	"github.com/MrEthical07/goAuthClient/jwt"
	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/transport"
)

// Route names a family of server routes for call counting and failure injection.
type Route string

const (
	RouteLogin   Route = "login"
	RouteProfile Route = "profile"
	RouteRefresh Route = "refresh"
	RouteLogout  Route = "logout"
	RouteEcho    Route = "echo"
	RouteStream  Route = "stream"
)

// Options configures a Server.
type Options struct {
	AppID      string
	BasePath   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Secret     []byte
	Now        func() time.Time
}

type account struct {
	id         string
	userType   session.UserType
	identities []session.Identity
	data       session.ProfileData
}

type serverSession struct {
	userID  string
	revoked bool
}

// Server is an in-memory platform implementing transport.Transport. Tokens are real
// HS256 JWTs. It is safe for concurrent use.
type Server struct {
	opts    Options
	routes  flows.Routes
	manager *jwt.Manager

	mu          sync.Mutex
	accounts    map[string]*account
	identities  map[string]string // provider type + "|" + identity id -> user id
	passwords   map[string]string
	userKeys    map[string]bool
	serverKeys  map[string]bool
	sessions    map[string]*serverSession
	accessEpoch uint32
	calls       map[Route]int
	failures    map[Route][]error
	hooks       map[Route]func()
	streams     map[*stream]struct{}
}

// NewServer returns a Server. Zero options get usable defaults: app id "test-app",
// 30 minute access tokens and 24 hour refresh tokens.
func NewServer(opts Options) (*Server, error) {
	if opts.AppID == "" {
		opts.AppID = "test-app"
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 30 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 24 * time.Hour
	}
	if opts.RefreshTTL < opts.AccessTTL {
		opts.RefreshTTL = opts.AccessTTL
	}
	if len(opts.Secret) == 0 {
		opts.Secret = []byte("authtest-secret-0123456789abcdef")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	manager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     opts.AccessTTL,
		RefreshTTL:    opts.RefreshTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    opts.Secret,
		Issuer:        "authtest",
		Now:           opts.Now,
	})
	if err != nil {
		return nil, err
	}

	return &Server{
		opts:       opts,
		routes:     flows.Routes{BasePath: opts.BasePath, AppID: opts.AppID},
		manager:    manager,
		accounts:   make(map[string]*account),
		identities: make(map[string]string),
		passwords:  make(map[string]string),
		userKeys:   make(map[string]bool),
		serverKeys: make(map[string]bool),
		sessions:   make(map[string]*serverSession),
		calls:      make(map[Route]int),
		failures:   make(map[Route][]error),
		hooks:      make(map[Route]func()),
		streams:    make(map[*stream]struct{}),
	}, nil
}

// MustNewServer is NewServer for tests; it panics on error.
func MustNewServer(opts Options) *Server {
	s, err := NewServer(opts)
	if err != nil {
		panic(err)
	}
	return s
}

// RegisterUser adds a username and password for the local-userpass provider.
func (s *Server) RegisterUser(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[username] = password
}

// RegisterAPIKey adds a user API key.
func (s *Server) RegisterAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userKeys[key] = true
}

// RegisterServerAPIKey adds a server API key. Users logged in with it are server users.
func (s *Server) RegisterServerAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverKeys[key] = true
}

// Calls returns how many requests reached route.
func (s *Server) Calls(route Route) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// TotalCalls returns how many requests reached the server.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// FailNext makes the next call to route fail with err. Calls queue in order.
func (s *Server) FailNext(route Route, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], err)
}

// OnCall runs fn on every call to route, before the route is served and without the
// server lock held. A nil fn removes the hook.
func (s *Server) OnCall(route Route, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.hooks, route)
		return
	}
	s.hooks[route] = fn
}

// ExpireAccessTokens invalidates every access token issued so far. Refresh tokens stay
// valid.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessEpoch++
}

// RevokeSessions invalidates every session; refresh fails with InvalidSession.
func (s *Server) RevokeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.revoked = true
	}
}

// ActiveSessions returns how many sessions have not been revoked or deleted.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if !sess.revoked {
			n++
		}
	}
	return n
}

// IssueAccessToken mints an access token for an existing session without a request,
// for tests that need a token with particular timing.
func (s *Server) IssueAccessToken(refreshToken string) (string, error) {
	claims, err := s.manager.Verify(refreshToken, jwt.KindRefresh)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	epoch := s.accessEpoch
	s.mu.Unlock()
	return s.manager.Issue(jwt.KindAccess, claims.Subject, claims.SessionID, epoch, nil)
}

// RoundTrip implements transport.Transport.
func (s *Server) RoundTrip(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	route := s.classify(req)
	if err := s.enter(route); err != nil {
		return nil, err
	}

	switch route {
	case RouteLogin:
		return s.login(req)
	case RouteProfile:
		return s.profile(req)
	case RouteRefresh:
		return s.refresh(req)
	case RouteLogout:
		return s.logout(req)
	default:
		return s.echo(req)
	}
}

func (s *Server) classify(req *transport.Request) Route {
	switch {
	case req.Method == http.MethodPost && strings.HasPrefix(req.Path, s.providersPrefix()) && strings.HasSuffix(req.Path, "/login"):
		return RouteLogin
	case req.Path == s.routes.ProfilePath():
		return RouteProfile
	case req.Path == s.routes.SessionPath() && req.Method == http.MethodPost:
		return RouteRefresh
	case req.Path == s.routes.SessionPath() && req.Method == http.MethodDelete:
		return RouteLogout
	default:
		return RouteEcho
	}
}

// providersPrefix is the login route up to the provider name.
func (s *Server) providersPrefix() string {
	return strings.TrimSuffix(s.routes.LoginPath(""), "/login")
}

// enter counts the call, runs the hook and pops an injected failure.
func (s *Server) enter(route Route) error {
	s.mu.Lock()
	s.calls[route]++
	hook := s.hooks[route]
	var injected error
	if queue := s.failures[route]; len(queue) > 0 {
		injected = queue[0]
		s.failures[route] = queue[1:]
	}
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return injected
}

func serviceError(status int, code transport.ErrorCode, msg string) *transport.ServiceError {
	return &transport.ServiceError{Status: status, Code: code, Message: msg}
}

func invalidSession(msg string) *transport.ServiceError {
	return serviceError(http.StatusUnauthorized, transport.CodeInvalidSession, msg)
}

func jsonResponse(v any) (*transport.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &transport.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   body,
	}, nil
}

func bearer(req *transport.Request) string {
	if req.Header == nil {
		return ""
	}
	return strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
}

// verifyAccess returns the user id behind a live access token.
func (s *Server) verifyAccess(token string) (string, error) {
	if token == "" {
		return "", serviceError(http.StatusUnauthorized, transport.CodeMissingAuthReq, "missing access token")
	}
	claims, err := s.manager.Verify(token, jwt.KindAccess)
	if err != nil {
		return "", invalidSession("invalid access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[claims.SessionID]
	if !ok || sess.revoked {
		return "", invalidSession("session not found")
	}
	if claims.Generation != s.accessEpoch {
		return "", invalidSession("access token expired")
	}
	return claims.Subject, nil
}

type loginBody struct {
	Username    string         `json:"username"`
	Password    string         `json:"password"`
	Key         string         `json:"key"`
	Token       string         `json:"token"`
	AuthCode    string         `json:"authCode"`
	AccessToken string         `json:"accessToken"`
	ID          string         `json:"id"`
	Options     map[string]any `json:"options"`
}

func (s *Server) login(req *transport.Request) (*transport.Response, error) {
	provider := strings.TrimSuffix(strings.TrimPrefix(req.Path, s.providersPrefix()), "/login")

	var body loginBody
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, serviceError(http.StatusBadRequest, transport.CodeInvalidParameter, "malformed body")
	}

	ptype, identityID, userType, err := s.resolveIdentity(provider, body)
	if err != nil {
		return nil, err
	}

	linking := req.Query.Get("link") == "true"
	var linkTo string
	if linking {
		linkTo, err = s.verifyAccess(bearer(req))
		if err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	key := string(ptype) + "|" + identityID
	userID, known := s.identities[key]
	switch {
	case linking && known && userID != linkTo:
		s.mu.Unlock()
		return nil, serviceError(http.StatusConflict, transport.CodeInvalidParameter, "identity already linked to another user")
	case linking:
		userID = linkTo
		if !known {
			acct := s.accounts[userID]
			acct.identities = append(acct.identities, session.Identity{ID: identityID, ProviderType: ptype})
			s.identities[key] = userID
		}
	case !known:
		userID = uuid.NewString()
		s.accounts[userID] = &account{
			id:         userID,
			userType:   userType,
			identities: []session.Identity{{ID: identityID, ProviderType: ptype}},
			data:       profileDataFor(ptype, body),
		}
		s.identities[key] = userID
	}

	deviceID := deviceIDFrom(body.Options)
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	if linking {
		s.mu.Unlock()
		return jsonResponse(map[string]string{"user_id": userID})
	}

	sid := uuid.NewString()
	s.sessions[sid] = &serverSession{userID: userID}
	epoch := s.accessEpoch
	s.mu.Unlock()

	access, err := s.manager.Issue(jwt.KindAccess, userID, sid, epoch, nil)
	if err != nil {
		return nil, err
	}
	refresh, err := s.manager.Issue(jwt.KindRefresh, userID, sid, 0, nil)
	if err != nil {
		return nil, err
	}
	return jsonResponse(map[string]string{
		"user_id":       userID,
		"device_id":     deviceID,
		"access_token":  access,
		"refresh_token": refresh,
	})
}

func (s *Server) resolveIdentity(provider string, body loginBody) (session.ProviderType, string, session.UserType, error) {
	notFound := serviceError(http.StatusNotFound, transport.CodeAuthProviderNotFound, "provider not found: "+provider)
	invalid := func(msg string) error {
		return serviceError(http.StatusBadRequest, transport.CodeInvalidParameter, msg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch provider {
	case "anon-user":
		return session.ProviderTypeAnonymous, uuid.NewString(), session.UserTypeNormal, nil
	case "local-userpass":
		pw, ok := s.passwords[body.Username]
		if !ok || pw != body.Password {
			return "", "", "", serviceError(http.StatusUnauthorized, transport.CodeUserpassAuthFailure, "invalid username/password")
		}
		return session.ProviderTypeUserPass, body.Username, session.UserTypeNormal, nil
	case "api-key":
		switch {
		case s.serverKeys[body.Key]:
			return session.ProviderTypeServerAPIKey, body.Key, session.UserTypeServer, nil
		case s.userKeys[body.Key]:
			return session.ProviderTypeUserAPIKey, body.Key, session.UserTypeNormal, nil
		default:
			return "", "", "", serviceError(http.StatusUnauthorized, transport.CodeInvalidSession, "invalid API key")
		}
	case "custom-token":
		claims, err := jwt.Decode(body.Token)
		if err != nil || claims.Subject == "" {
			return "", "", "", invalid("custom token must be a JWT with a subject")
		}
		return session.ProviderTypeCustom, claims.Subject, session.UserTypeNormal, nil
	case "custom-function":
		if body.ID == "" {
			return "", "", "", invalid("function payload must carry an id")
		}
		return session.ProviderTypeFunction, body.ID, session.UserTypeNormal, nil
	case "oauth2-google":
		if body.AuthCode == "" {
			return "", "", "", invalid("missing authCode")
		}
		return session.ProviderTypeGoogle, body.AuthCode, session.UserTypeNormal, nil
	case "oauth2-facebook":
		if body.AccessToken == "" {
			return "", "", "", invalid("missing accessToken")
		}
		return session.ProviderTypeFacebook, body.AccessToken, session.UserTypeNormal, nil
	default:
		return "", "", "", notFound
	}
}

func profileDataFor(ptype session.ProviderType, body loginBody) session.ProfileData {
	if ptype == session.ProviderTypeUserPass && strings.Contains(body.Username, "@") {
		return session.ProfileData{Email: body.Username}
	}
	return session.ProfileData{}
}

func deviceIDFrom(options map[string]any) string {
	device, _ := options["device"].(map[string]any)
	id, _ := device["deviceId"].(string)
	return id
}

func (s *Server) profile(req *transport.Request) (*transport.Response, error) {
	userID, err := s.verifyAccess(bearer(req))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	acct, ok := s.accounts[userID]
	if !ok {
		s.mu.Unlock()
		return nil, serviceError(http.StatusNotFound, transport.CodeUserNotFound, "user not found")
	}
	identities := append([]session.Identity(nil), acct.identities...)
	userType, data := acct.userType, acct.data
	s.mu.Unlock()

	return jsonResponse(map[string]any{
		"user_type":  userType,
		"identities": identities,
		"data":       data,
	})
}

func (s *Server) refresh(req *transport.Request) (*transport.Response, error) {
	claims, err := s.manager.Verify(bearer(req), jwt.KindRefresh)
	if err != nil {
		return nil, invalidSession("invalid refresh token")
	}

	s.mu.Lock()
	sess, ok := s.sessions[claims.SessionID]
	if !ok || sess.revoked {
		s.mu.Unlock()
		return nil, invalidSession("session not found")
	}
	epoch := s.accessEpoch
	s.mu.Unlock()

	access, err := s.manager.Issue(jwt.KindAccess, claims.Subject, claims.SessionID, epoch, nil)
	if err != nil {
		return nil, err
	}
	return jsonResponse(map[string]string{"access_token": access})
}

func (s *Server) logout(req *transport.Request) (*transport.Response, error) {
	claims, err := s.manager.Verify(bearer(req), jwt.KindRefresh)
	if err != nil {
		return nil, invalidSession("invalid refresh token")
	}

	s.mu.Lock()
	delete(s.sessions, claims.SessionID)
	s.mu.Unlock()
	return &transport.Response{Status: http.StatusNoContent}, nil
}

// EchoResponse is the body of any route the server does not know: the caller's user
// id and what it sent.
type EchoResponse struct {
	UserID string `json:"user_id"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Body   string `json:"body,omitempty"`
}

func (s *Server) echo(req *transport.Request) (*transport.Response, error) {
	userID, err := s.verifyAccess(bearer(req))
	if err != nil {
		return nil, err
	}
	return jsonResponse(EchoResponse{
		UserID: userID,
		Method: req.Method,
		Path:   req.Path,
		Body:   string(req.Body),
	})
}

// ErrClosed is returned by a stream's Next after Close.
var ErrClosed = errors.New("stream closed")

// Stream implements transport.Transport. The access token is read from the
// access_token query parameter.
func (s *Server) Stream(ctx context.Context, req *transport.Request) (transport.EventStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.enter(RouteStream); err != nil {
		return nil, err
	}
	userID, err := s.verifyAccess(req.Query.Get("access_token"))
	if err != nil {
		return nil, err
	}

	st := &stream{
		server: s,
		userID: userID,
		events: make(chan transport.Event, 64),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.streams[st] = struct{}{}
	s.mu.Unlock()
	return st, nil
}

// Publish sends an event to every open stream. Streams with a full buffer miss it.
func (s *Server) Publish(name string, data []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sent := 0
	for st := range s.streams {
		select {
		case st.events <- transport.Event{Name: name, Data: append([]byte(nil), data...)}:
			sent++
		default:
		}
	}
	return sent
}

type stream struct {
	server *Server
	userID string
	events chan transport.Event
	done   chan struct{}
	once   sync.Once
}

func (st *stream) Next(ctx context.Context) (transport.Event, error) {
	select {
	case <-st.done:
		return transport.Event{}, ErrClosed
	default:
	}
	select {
	case ev := <-st.events:
		return ev, nil
	case <-st.done:
		return transport.Event{}, ErrClosed
	case <-ctx.Done():
		return transport.Event{}, ctx.Err()
	}
}

func (st *stream) Close() error {
	st.once.Do(func() {
		st.server.mu.Lock()
		delete(st.server.streams, st)
		st.server.mu.Unlock()
		close(st.done)
	})
	return nil
}

// String describes the server for test failure messages.
func (s *Server) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("authtest.Server{app=%s users=%d sessions=%d}", s.opts.AppID, len(s.accounts), len(s.sessions))
}

var _ transport.Transport = (*Server)(nil)
