package goAuthClient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goAuthClient/internal/flows"
	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/transport"
)

// DoAuthenticatedRequest sends req with the active user's access token as a bearer
// credential.
//
// It fails with ErrMustAuthenticateFirst, before any network call, when no logged-in
// user is active. A token the refresher considers stale is refreshed first; a failure
// there is logged and the request proceeds. An authorization failure (401 or
// InvalidSession) triggers exactly one refresh and one resubmission. A second
// authorization failure is returned wrapped in ErrFatalAuth; the service error stays
// reachable with errors.As. The user is never logged out implicitly.
func (e *Engine) DoAuthenticatedRequest(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrUnexpectedArguments)
	}
	if !e.IsLoggedIn() {
		return nil, ErrMustAuthenticateFirst
	}
	ctx = e.withRequestID(ctx)

	start := time.Now()
	callCtx, cancel := e.withTimeout(ctx)
	res := flows.RunRequest(callCtx, req, e.requestDeps())
	cancel()
	e.metrics.Observe(MetricRequestLatency, time.Since(start))

	if err := e.requestOutcome(ctx, res); err != nil {
		return nil, err
	}
	return res.Response, nil
}

// OpenAuthenticatedStream opens a server-push stream for the active user. The access
// token travels as the access_token query parameter. Refresh and retry behave as in
// DoAuthenticatedRequest. The request timeout does not apply to the stream's lifetime.
func (e *Engine) OpenAuthenticatedStream(ctx context.Context, req *transport.Request) (transport.EventStream, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrUnexpectedArguments)
	}
	if !e.IsLoggedIn() {
		return nil, ErrMustAuthenticateFirst
	}
	ctx = e.withRequestID(ctx)

	res := flows.RunStream(ctx, req, e.requestDeps())
	if err := e.requestOutcome(ctx, res); err != nil {
		return nil, err
	}
	return res.Stream, nil
}

// RefreshUserProfile fetches the active user's profile through the authenticated
// request pipeline and merges it into the record. No lifecycle event fires.
func (e *Engine) RefreshUserProfile(ctx context.Context) (*User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	active, ok := e.store.Active()
	if !ok || !active.IsLoggedIn() {
		return nil, ErrMustAuthenticateFirst
	}

	resp, err := e.DoAuthenticatedRequest(ctx, e.routes.ProfileRequest())
	if err != nil {
		return nil, err
	}
	profile, err := flows.DecodeProfile(resp.Body)
	if err != nil {
		return nil, err
	}

	var out session.AuthInfo
	err = e.mutate(ctx, func(tx *session.Tx, _ *eventBatch) error {
		latest, ok := tx.Get(active.UserID)
		if !ok || !latest.IsLoggedIn() {
			return ErrUserNoLongerValid
		}
		updated, err := tx.Update(active.UserID, func(a session.AuthInfo) session.AuthInfo {
			a.Profile = profile
			return a
		})
		out = updated
		return err
	})
	if err != nil {
		return nil, err
	}
	return newUser(e, out), nil
}

func (e *Engine) requestDeps() flows.RequestDeps {
	return flows.RequestDeps{
		Transport: e.transport,
		Active: func() (session.AuthInfo, bool) {
			return e.store.Active()
		},
		ShouldRefresh: e.refresher.ShouldRefresh,
		Refresh:       e.refreshAccessToken,
		Warn:          e.warn,
	}
}

func (e *Engine) requestOutcome(ctx context.Context, res flows.RequestResult) error {
	if res.ProactiveRefresh {
		e.metricInc(MetricProactiveRefresh)
	}
	if res.Retried {
		e.metricInc(MetricRequestRetried)
	}

	switch res.Failure {
	case flows.RequestFailureNone:
		e.metricInc(MetricRequestSuccess)
		return nil
	case flows.RequestFailureNoSession:
		return ErrMustAuthenticateFirst
	case flows.RequestFailureFatalAuth:
		e.metricInc(MetricRequestFailure)
		e.metricInc(MetricRequestFatalAuth)
		e.emitAudit(ctx, auditEventRequestFatalAuth, false, res.UserID, "", res.Err, nil)
		return fmt.Errorf("%w: %w", ErrFatalAuth, res.Err)
	default:
		e.metricInc(MetricRequestFailure)
		return res.Err
	}
}

// refreshAccessToken exchanges info's refresh token for a new access token and stores
// it. Concurrent calls for the same user share one exchange. The exchange outlives a
// cancelled caller, whose wait is abandoned.
func (e *Engine) refreshAccessToken(ctx context.Context, info session.AuthInfo) (string, error) {
	joined := true
	ch := e.refreshes.DoChan(info.UserID, func() (any, error) {
		joined = false
		flightCtx, cancel := e.withTimeout(context.WithoutCancel(ctx))
		defer cancel()
		return e.refreshOnce(flightCtx, info.UserID)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if joined {
			e.metricInc(MetricRefreshCoalesced)
		}
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

func (e *Engine) refreshOnce(ctx context.Context, userID string) (string, error) {
	current, ok := e.store.Get(userID)
	if !ok || !current.IsLoggedIn() {
		e.metricInc(MetricRefreshDiscarded)
		return "", ErrUserNoLongerValid
	}

	start := time.Now()
	res := flows.RunRefresh(ctx, current.RefreshToken, flows.RefreshDeps{Transport: e.transport, Routes: e.routes})
	e.metrics.Observe(MetricRefreshLatency, time.Since(start))
	if res.Failure != flows.RefreshFailureNone {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, userID, current.LoggedInProviderName, res.Err, nil)
		return "", res.Err
	}

	// The user may have logged out, been removed, or logged in again while the exchange
	// was in flight. Only the session the token was issued for may take it.
	err := e.mutate(ctx, func(tx *session.Tx, _ *eventBatch) error {
		latest, ok := tx.Get(userID)
		if !ok || !latest.IsLoggedIn() || latest.RefreshToken != current.RefreshToken {
			return ErrUserNoLongerValid
		}
		_, err := tx.Update(userID, func(a session.AuthInfo) session.AuthInfo {
			a.AccessToken = res.AccessToken
			return a
		})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrUserNoLongerValid) {
			e.metricInc(MetricRefreshDiscarded)
			e.logger.Info("discarded refresh for departed session", zap.String("user_id", userID))
		} else {
			e.metricInc(MetricRefreshFailure)
		}
		return "", err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, userID, current.LoggedInProviderName, nil, nil)
	return res.AccessToken, nil
}

// runBackgroundRefresh refreshes the active user's token ahead of expiry until Close.
func (e *Engine) runBackgroundRefresh(ctx context.Context) {
	defer e.refreshGroup.Done()
	e.refresher.Run(ctx,
		func() (session.AuthInfo, bool) {
			info, ok := e.store.Active()
			return info, ok && info.IsLoggedIn()
		},
		func(ctx context.Context, info session.AuthInfo) error {
			_, err := e.refreshAccessToken(ctx, info)
			return err
		},
		func(err error) {
			e.warn("background refresh failed", err)
		},
	)
}
