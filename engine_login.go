package goAuthClient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/goAuthClient/internal/flows"
	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/transport"
)

// LoginWithCredential logs in with cred and makes the resulting user active.
//
// An anonymous credential reuses a logged-in anonymous user already on the device
// without a network call. Otherwise the provider exchange and a profile fetch run
// first; the store is only touched once both succeeded. A previously active user is
// logged out locally, or removed when anonymous.
//
// Events, in order: UserAdded (new users only), UserLoggedIn, the demoted user's
// UserLoggedOut and UserRemoved, then ActiveUserChanged when the active user changed.
func (e *Engine) LoginWithCredential(ctx context.Context, cred Credential) (*User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := validateCredential(cred); err != nil {
		return nil, err
	}
	ctx = e.withRequestID(ctx)

	if cred.ProviderType() == session.ProviderTypeAnonymous {
		if user, ok, err := e.reuseAnonymous(ctx); ok || err != nil {
			if err == nil {
				e.metricInc(MetricLoginReused)
				e.emitAudit(ctx, auditEventLoginReused, true, user.ID(), cred.ProviderName(), nil, nil)
			}
			return user, err
		}
	}

	callCtx, cancel := e.withTimeout(ctx)
	res := flows.RunLogin(callCtx, flows.LoginInput{
		ProviderType: cred.ProviderType(),
		ProviderName: cred.ProviderName(),
		Material:     cred.Material(),
		Device:       e.deviceInfo(),
	}, e.loginDeps())
	cancel()
	if res.Failure != flows.LoginFailureNone {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", cred.ProviderName(), res.Err, nil)
		return nil, res.Err
	}

	info := res.Info
	info.LastAuthActivity = e.now()

	var committed session.AuthInfo
	err := e.mutate(ctx, func(tx *session.Tx, batch *eventBatch) error {
		if info.DeviceID == "" {
			info.DeviceID = tx.DeviceID()
		}
		prev, hadActive := tx.Active()

		inserted, err := tx.Upsert(info)
		if err != nil {
			return err
		}
		// A re-login replaces the provider even when the new values are empty.
		current, err := tx.Update(info.UserID, func(a session.AuthInfo) session.AuthInfo {
			a.LoggedInProviderType = info.LoggedInProviderType
			a.LoggedInProviderName = info.LoggedInProviderName
			return a
		})
		if err != nil {
			return err
		}
		if inserted {
			batch.user(EventUserAdded, current)
		}
		batch.user(EventUserLoggedIn, current)

		changed := !hadActive || prev.UserID != info.UserID
		var previous *User
		if hadActive && changed {
			previous = e.demoteLocked(tx, batch, prev, info.LastAuthActivity)
		}
		if err := tx.SetActive(info.UserID); err != nil {
			return err
		}
		if changed {
			batch.activeChanged(previous, newUser(e, current))
		}
		committed = current
		return nil
	})
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, info.UserID, cred.ProviderName(), err, nil)
		e.abandonSession(ctx, info.RefreshToken)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, committed.UserID, cred.ProviderName(), nil, nil)
	return newUser(e, committed), nil
}

// reuseAnonymous activates the logged-in anonymous user on the device, if any.
func (e *Engine) reuseAnonymous(ctx context.Context) (*User, bool, error) {
	var (
		found bool
		out   session.AuthInfo
	)
	err := e.mutate(ctx, func(tx *session.Tx, batch *eventBatch) error {
		for _, candidate := range tx.List() {
			if !candidate.IsAnonymous() || !candidate.IsLoggedIn() {
				continue
			}
			found = true
			current, err := e.switchLocked(tx, batch, candidate.UserID)
			if err != nil {
				return err
			}
			out = current
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return newUser(e, out), true, nil
}

// LinkWithCredential attaches cred's identity to user, which must still be the
// logged-in active user. The exchange authenticates with the user's access token and
// is retried once after a refresh when the server reports InvalidSession. The result is
// merged into the same record and UserLinked fires.
func (e *Engine) LinkWithCredential(ctx context.Context, user *User, cred Credential) (*User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: nil user", ErrUnexpectedArguments)
	}
	if err := validateCredential(cred); err != nil {
		return nil, err
	}
	ctx = e.withRequestID(ctx)
	userID := user.ID()

	current, ok := e.store.Active()
	if !ok || current.UserID != userID || !current.IsLoggedIn() {
		e.metricInc(MetricLinkFailure)
		return nil, ErrUserNoLongerValid
	}

	token := current.AccessToken
	if e.refresher.ShouldRefresh(&current) {
		e.metricInc(MetricProactiveRefresh)
		if fresh, err := e.refreshAccessToken(ctx, current); err != nil {
			e.logger.Warn("proactive refresh before link failed", zap.String("user_id", userID), zap.Error(err))
		} else {
			token = fresh
		}
	}

	var res flows.LoginResult
	for attempt := 0; ; attempt++ {
		callCtx, cancel := e.withTimeout(ctx)
		res = flows.RunLogin(callCtx, flows.LoginInput{
			ProviderType: cred.ProviderType(),
			ProviderName: cred.ProviderName(),
			Material:     cred.Material(),
			Device:       e.deviceInfo(),
			Link:         &flows.LinkTarget{UserID: userID, AccessToken: token},
		}, e.loginDeps())
		cancel()

		// Only a rejected session is retried; a 401 for the linked credential itself is final.
		if attempt == 0 && res.Failure == flows.LoginFailureExchange && transport.CodeOf(res.Err) == transport.CodeInvalidSession {
			fresh, err := e.refreshAccessToken(ctx, current)
			if err != nil {
				e.metricInc(MetricLinkFailure)
				e.emitAudit(ctx, auditEventLinkFailure, false, userID, cred.ProviderName(), err, nil)
				return nil, err
			}
			token = fresh
			continue
		}
		break
	}
	if res.Failure != flows.LoginFailureNone {
		e.metricInc(MetricLinkFailure)
		e.emitAudit(ctx, auditEventLinkFailure, false, userID, cred.ProviderName(), res.Err, nil)
		return nil, res.Err
	}

	patch := res.Info
	patch.LastAuthActivity = e.now()

	var linked session.AuthInfo
	err := e.mutate(ctx, func(tx *session.Tx, batch *eventBatch) error {
		latest, ok := tx.Get(userID)
		if !ok || !latest.IsLoggedIn() || tx.ActiveID() != userID {
			return ErrUserNoLongerValid
		}
		if _, err := tx.Upsert(patch); err != nil {
			return err
		}
		updated, _ := tx.Get(userID)
		batch.user(EventUserLinked, updated)
		linked = updated
		return nil
	})
	if err != nil {
		e.metricInc(MetricLinkFailure)
		e.emitAudit(ctx, auditEventLinkFailure, false, userID, cred.ProviderName(), err, nil)
		return nil, err
	}

	e.metricInc(MetricLinkSuccess)
	e.emitAudit(ctx, auditEventLinkSuccess, true, userID, cred.ProviderName(), nil, nil)
	return newUser(e, linked), nil
}

func (e *Engine) loginDeps() flows.LoginDeps {
	return flows.LoginDeps{
		Transport: e.transport,
		Routes:    e.routes,
		Warn: func(msg string, err error) {
			e.metricInc(MetricServerLogoutFailure)
			e.warn(msg, err)
		},
	}
}

// deviceInfo is sent as options.device with every login.
func (e *Engine) deviceInfo() map[string]any {
	info := map[string]any{
		"appId":      e.config.App.ID,
		"platform":   e.config.Device.Platform,
		"sdkVersion": e.config.Device.SDKVersion,
	}
	if e.config.App.Version != "" {
		info["appVersion"] = e.config.App.Version
	}
	if e.config.Device.PlatformVersion != "" {
		info["platformVersion"] = e.config.Device.PlatformVersion
	}
	if id := e.store.DeviceID(); id != "" {
		info["deviceId"] = id
	}
	return info
}

// abandonSession deletes a server session the store never recorded.
func (e *Engine) abandonSession(ctx context.Context, refreshToken string) {
	callCtx, cancel := e.withTimeout(context.WithoutCancel(ctx))
	defer cancel()
	if err := flows.RunLogout(callCtx, refreshToken, flows.LogoutDeps{Transport: e.transport, Routes: e.routes}); err != nil {
		e.metricInc(MetricServerLogoutFailure)
		e.warn("logout of unrecorded session failed", err)
	}
}
