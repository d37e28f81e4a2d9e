package goAuthClient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/goAuthClient/internal/flows"
	"github.com/MrEthical07/goAuthClient/session"
)

// Logout logs out the active user. It returns nil without doing anything when no user
// is active.
func (e *Engine) Logout(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}
	active, ok := e.store.Active()
	if !ok {
		return nil
	}
	return e.logoutUser(ctx, active.UserID)
}

// LogoutUserWithID logs out the user with id.
//
// The server session is deleted best-effort; failures are logged, never returned. The
// tokens are then cleared locally and anonymous users are removed. Events: UserLoggedOut,
// UserRemoved when removed, and ActiveUserChanged with a nil Current when the user was
// active. Logging out a user that is already logged out does nothing.
func (e *Engine) LogoutUserWithID(ctx context.Context, id string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: empty user id", ErrUnexpectedArguments)
	}
	return e.logoutUser(ctx, id)
}

func (e *Engine) logoutUser(ctx context.Context, id string) error {
	info, ok := e.store.Get(id)
	if !ok {
		return ErrUserNotFound
	}
	if !info.IsLoggedIn() {
		return nil
	}
	ctx = e.withRequestID(ctx)

	callCtx, cancel := e.withTimeout(ctx)
	if err := flows.RunLogout(callCtx, info.RefreshToken, flows.LogoutDeps{Transport: e.transport, Routes: e.routes}); err != nil {
		e.metricInc(MetricServerLogoutFailure)
		e.logger.Warn("server logout failed", zap.String("user_id", id), zap.Error(err))
	}
	cancel()

	err := e.mutate(ctx, func(tx *session.Tx, batch *eventBatch) error {
		current, ok := tx.Get(id)
		if !ok || !current.IsLoggedIn() {
			return nil
		}
		e.logoutLocked(tx, batch, current)
		return nil
	})
	if err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventLogout, true, id, info.LoggedInProviderName, nil, nil)
	return nil
}

// logoutLocked clears current's tokens, removing it when anonymous, and releases the
// active slot when it held it.
func (e *Engine) logoutLocked(tx *session.Tx, batch *eventBatch, current session.AuthInfo) {
	wasActive := tx.ActiveID() == current.UserID
	out := current.LoggedOut()
	out.LastAuthActivity = e.now()

	if current.IsAnonymous() {
		tx.Remove(current.UserID)
		batch.user(EventUserLoggedOut, out)
		batch.user(EventUserRemoved, out)
		batch.count(MetricUserRemoved)
	} else {
		updated, err := tx.Update(current.UserID, func(session.AuthInfo) session.AuthInfo { return out })
		if err == nil {
			out = updated
		}
		batch.user(EventUserLoggedOut, out)
	}
	batch.count(MetricLogout)

	if wasActive {
		tx.ClearActive()
		batch.activeChanged(newUser(e, out), nil)
	}
}

// RemoveUser removes the active user. It returns nil without doing anything when no
// user is active.
func (e *Engine) RemoveUser(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}
	active, ok := e.store.Active()
	if !ok {
		return nil
	}
	return e.removeUser(ctx, active.UserID)
}

// RemoveUserWithID removes the user with id from the device. A logged-in user is
// logged out first, with the events of LogoutUserWithID; UserRemoved fires once.
func (e *Engine) RemoveUserWithID(ctx context.Context, id string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: empty user id", ErrUnexpectedArguments)
	}
	return e.removeUser(ctx, id)
}

func (e *Engine) removeUser(ctx context.Context, id string) error {
	if _, ok := e.store.Get(id); !ok {
		return ErrUserNotFound
	}
	ctx = e.withRequestID(ctx)

	if err := e.logoutUser(ctx, id); err != nil && !errors.Is(err, ErrUserNotFound) {
		return err
	}

	err := e.mutate(ctx, func(tx *session.Tx, batch *eventBatch) error {
		current, ok := tx.Get(id)
		if !ok {
			return nil
		}
		if current.IsLoggedIn() {
			// Logged back in since the logout above; logout first so events stay paired.
			e.logoutLocked(tx, batch, current)
			current, ok = tx.Get(id)
			if !ok {
				return nil
			}
		}
		if tx.ActiveID() == id {
			tx.ClearActive()
			batch.activeChanged(newUser(e, current), nil)
		}
		tx.Remove(id)
		batch.user(EventUserRemoved, current)
		batch.count(MetricUserRemoved)
		return nil
	})
	if err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventUserRemoved, true, id, "", nil, nil)
	return nil
}

// SwitchToUserWithID makes the user with id active without any network call. The
// previously active user is demoted as on login: logged out, or removed when anonymous.
// LastAuthActivity is updated on both users and ActiveUserChanged fires. Switching to
// the active user only updates its LastAuthActivity.
func (e *Engine) SwitchToUserWithID(id string) (*User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrUnexpectedArguments)
	}
	ctx := e.withRequestID(context.Background())

	var out session.AuthInfo
	err := e.mutate(ctx, func(tx *session.Tx, batch *eventBatch) error {
		current, err := e.switchLocked(tx, batch, id)
		if err != nil {
			return err
		}
		out = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricSwitch)
	e.emitAudit(ctx, auditEventUserSwitched, true, id, out.LoggedInProviderName, nil, nil)
	return newUser(e, out), nil
}

func (e *Engine) switchLocked(tx *session.Tx, batch *eventBatch, id string) (session.AuthInfo, error) {
	if _, ok := tx.Get(id); !ok {
		return session.AuthInfo{}, ErrUserNotFound
	}
	now := e.now()
	touch := func(a session.AuthInfo) session.AuthInfo {
		a.LastAuthActivity = now
		return a
	}

	prev, hadActive := tx.Active()
	if hadActive && prev.UserID == id {
		return tx.Update(id, touch)
	}

	var previous *User
	if hadActive {
		previous = e.demoteLocked(tx, batch, prev, now)
	}
	current, err := tx.Update(id, touch)
	if err != nil {
		return session.AuthInfo{}, err
	}
	if err := tx.SetActive(id); err != nil {
		return session.AuthInfo{}, err
	}
	batch.activeChanged(previous, newUser(e, current))
	return current, nil
}
