package flows

import (
	"context"
	"errors"
	"net/url"

	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/transport"
)

// RequestFailureKind classifies authenticated request failures for root-level mapping.
type RequestFailureKind int

const (
	RequestFailureNone RequestFailureKind = iota
	RequestFailureNoSession
	RequestFailureTransport
	RequestFailureRefresh
	RequestFailureFatalAuth
)

// ErrNoSession is returned when there is no logged-in active user.
var ErrNoSession = errors.New("no logged-in active user")

// RequestResult carries the response (or stream) and what the pipeline did.
type RequestResult struct {
	Failure          RequestFailureKind
	Err              error
	UserID           string
	Response         *transport.Response
	Stream           transport.EventStream
	ProactiveRefresh bool
	Retried          bool
}

// RequestDeps captures authenticated request dependencies.
type RequestDeps struct {
	Transport transport.Transport
	// Active returns the logged-in active user.
	Active func() (session.AuthInfo, bool)
	// ShouldRefresh is the advisory staleness check.
	ShouldRefresh func(*session.AuthInfo) bool
	// Refresh exchanges info's refresh token and returns the new access token.
	Refresh func(ctx context.Context, info session.AuthInfo) (string, error)
	Warn    func(msg string, err error)
}

// RunRequest sends req with the active user's access token as a bearer credential.
// An authorization failure triggers exactly one refresh and one resubmission.
func RunRequest(ctx context.Context, req *transport.Request, deps RequestDeps) RequestResult {
	var resp *transport.Response
	res := run(ctx, deps, func(ctx context.Context, token string) error {
		attempt := req.Clone()
		attempt.SetBearer(token)
		var err error
		resp, err = deps.Transport.RoundTrip(ctx, attempt)
		return err
	})
	if res.Failure == RequestFailureNone {
		res.Response = resp
	}
	return res
}

// RunStream opens a server-push stream with the active user's access token passed as
// the access_token query parameter. Retry semantics match RunRequest.
func RunStream(ctx context.Context, req *transport.Request, deps RequestDeps) RequestResult {
	var stream transport.EventStream
	res := run(ctx, deps, func(ctx context.Context, token string) error {
		attempt := req.Clone()
		if attempt.Query == nil {
			attempt.Query = make(url.Values)
		}
		attempt.Query.Set("access_token", token)
		var err error
		stream, err = deps.Transport.Stream(ctx, attempt)
		return err
	})
	if res.Failure == RequestFailureNone {
		res.Stream = stream
	}
	return res
}

func run(ctx context.Context, deps RequestDeps, attempt func(context.Context, string) error) RequestResult {
	info, ok := deps.Active()
	if !ok || !info.IsLoggedIn() {
		return RequestResult{Failure: RequestFailureNoSession, Err: ErrNoSession}
	}
	res := RequestResult{UserID: info.UserID}

	token := info.AccessToken
	if deps.ShouldRefresh != nil && deps.ShouldRefresh(&info) {
		res.ProactiveRefresh = true
		fresh, err := deps.Refresh(ctx, info)
		if err != nil {
			if deps.Warn != nil {
				deps.Warn("goauthclient: proactive refresh failed", err)
			}
		} else {
			token = fresh
		}
	}

	err := attempt(ctx, token)
	if err == nil {
		return res
	}
	if !transport.IsAuthorizationFailure(err) {
		res.Failure = RequestFailureTransport
		res.Err = err
		return res
	}

	fresh, err := deps.Refresh(ctx, info)
	if err != nil {
		res.Failure = RequestFailureRefresh
		res.Err = err
		return res
	}

	res.Retried = true
	if err := attempt(ctx, fresh); err != nil {
		if transport.IsAuthorizationFailure(err) {
			res.Failure = RequestFailureFatalAuth
		} else {
			res.Failure = RequestFailureTransport
		}
		res.Err = err
		return res
	}
	return res
}
