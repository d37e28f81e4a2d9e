package goAuthClient

import (
	"context"
	"time"

	"github.com/MrEthical07/goAuthClient/session"
)

// User is a snapshot of one known user, taken when the engine returned it.
//
// Accessors report the snapshot. Methods that act on the user (LinkWithCredential,
// Logout, Remove) consult the engine's current state and fail with
// ErrUserNoLongerValid or ErrUserNotFound when the snapshot is stale.
type User struct {
	engine *Engine
	info   session.AuthInfo
}

func newUser(e *Engine, info session.AuthInfo) *User {
	return &User{engine: e, info: info.Clone()}
}

func (u *User) ID() string {
	return u.info.UserID
}

func (u *User) DeviceID() string {
	return u.info.DeviceID
}

func (u *User) LoggedInProviderType() session.ProviderType {
	return u.info.LoggedInProviderType
}

func (u *User) LoggedInProviderName() string {
	return u.info.LoggedInProviderName
}

// Profile returns a copy of the user's profile, or nil when none was fetched.
func (u *User) Profile() *session.UserProfile {
	return u.info.Profile.Clone()
}

// Identities returns the identities linked to the user.
func (u *User) Identities() []session.Identity {
	if u.info.Profile == nil {
		return nil
	}
	return u.info.Profile.Clone().Identities
}

func (u *User) IsLoggedIn() bool {
	return u.info.IsLoggedIn()
}

func (u *User) IsAnonymous() bool {
	return u.info.IsAnonymous()
}

func (u *User) LastAuthActivity() time.Time {
	return u.info.LastAuthActivity
}

// AuthInfo returns a copy of the record the snapshot was taken from.
func (u *User) AuthInfo() session.AuthInfo {
	return u.info.Clone()
}

// LinkWithCredential attaches cred's identity to this user. See Engine.LinkWithCredential.
func (u *User) LinkWithCredential(ctx context.Context, cred Credential) (*User, error) {
	return u.engine.LinkWithCredential(ctx, u, cred)
}

// Logout logs this user out. See Engine.LogoutUserWithID.
func (u *User) Logout(ctx context.Context) error {
	return u.engine.LogoutUserWithID(ctx, u.info.UserID)
}

// Remove removes this user from the device. See Engine.RemoveUserWithID.
func (u *User) Remove(ctx context.Context) error {
	return u.engine.RemoveUserWithID(ctx, u.info.UserID)
}
