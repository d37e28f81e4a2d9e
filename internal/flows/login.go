package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/transport"
)

// LoginFailureKind classifies login and link failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureEncode
	LoginFailureExchange
	LoginFailureDecode
	LoginFailureProfile
	LoginFailureLinkMismatch
)

// ErrIncompleteLogin is returned when the login response lacks a user id or tokens.
var ErrIncompleteLogin = errors.New("incomplete login response")

// ErrLinkMismatch is returned when a link response names a different user.
var ErrLinkMismatch = errors.New("link response names a different user")

// LoginInput is one provider exchange.
type LoginInput struct {
	ProviderType session.ProviderType
	ProviderName string
	Material     map[string]any
	Device       map[string]any

	// Link is set for a link exchange: the identity is attached to the user owning
	// Link.AccessToken instead of logging in.
	Link *LinkTarget
}

// LinkTarget identifies the authenticated user a link exchange attaches to.
type LinkTarget struct {
	UserID      string
	AccessToken string
}

// LoginResult carries the AuthInfo to merge or failure metadata. For a link exchange
// Info holds only the fields the server returned plus the refreshed profile.
type LoginResult struct {
	Failure LoginFailureKind
	Err     error
	Info    session.AuthInfo
}

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	Transport RoundTripper
	Routes    Routes
	// Warn receives best-effort failures that do not fail the flow.
	Warn func(msg string, err error)
}

// RunLogin performs the provider exchange and the follow-up profile fetch.
//
// When the profile fetch of a fresh login fails the new server session is logged out
// best-effort, so a failed login never leaves a live session behind.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) LoginResult {
	body := make(map[string]any, len(in.Material)+1)
	for k, v := range in.Material {
		body[k] = v
	}
	if len(in.Device) > 0 {
		body["options"] = map[string]any{"device": in.Device}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return LoginResult{Failure: LoginFailureEncode, Err: fmt.Errorf("encode login body: %w", err)}
	}

	req := &transport.Request{
		Method: http.MethodPost,
		Path:   deps.Routes.LoginPath(in.ProviderName),
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   raw,
	}
	if in.Link != nil {
		req.Query = url.Values{"link": {"true"}}
		req.SetBearer(in.Link.AccessToken)
	}

	resp, err := deps.Transport.RoundTrip(ctx, req)
	if err != nil {
		return LoginResult{Failure: LoginFailureExchange, Err: err}
	}

	var lr loginResponse
	if err := json.Unmarshal(resp.Body, &lr); err != nil {
		return LoginResult{Failure: LoginFailureDecode, Err: fmt.Errorf("decode login response: %w", err)}
	}

	if in.Link != nil {
		return finishLink(ctx, in, lr, deps)
	}

	if lr.UserID == "" || lr.AccessToken == "" || lr.RefreshToken == "" {
		return LoginResult{Failure: LoginFailureDecode, Err: ErrIncompleteLogin}
	}
	info := session.AuthInfo{
		UserID:               lr.UserID,
		DeviceID:             lr.DeviceID,
		AccessToken:          lr.AccessToken,
		RefreshToken:         lr.RefreshToken,
		LoggedInProviderType: in.ProviderType,
		LoggedInProviderName: in.ProviderName,
	}

	profile, err := FetchProfile(ctx, lr.AccessToken, deps.Transport, deps.Routes)
	if err != nil {
		if lerr := RunLogout(ctx, lr.RefreshToken, LogoutDeps{Transport: deps.Transport, Routes: deps.Routes}); lerr != nil && deps.Warn != nil {
			deps.Warn("goauthclient: logout of half-created session failed", lerr)
		}
		return LoginResult{Failure: LoginFailureProfile, Err: err}
	}
	info.Profile = profile
	return LoginResult{Info: info}
}

func finishLink(ctx context.Context, in LoginInput, lr loginResponse, deps LoginDeps) LoginResult {
	if lr.UserID != "" && lr.UserID != in.Link.UserID {
		return LoginResult{Failure: LoginFailureLinkMismatch, Err: fmt.Errorf("%w: %q", ErrLinkMismatch, lr.UserID)}
	}
	info := session.AuthInfo{
		UserID:               in.Link.UserID,
		DeviceID:             lr.DeviceID,
		AccessToken:          lr.AccessToken,
		RefreshToken:         lr.RefreshToken,
		LoggedInProviderType: in.ProviderType,
		LoggedInProviderName: in.ProviderName,
	}
	access := in.Link.AccessToken
	if lr.AccessToken != "" {
		access = lr.AccessToken
	}
	profile, err := FetchProfile(ctx, access, deps.Transport, deps.Routes)
	if err != nil {
		return LoginResult{Failure: LoginFailureProfile, Err: err}
	}
	info.Profile = profile
	return LoginResult{Info: info}
}

// FetchProfile GETs the profile route with accessToken.
func FetchProfile(ctx context.Context, accessToken string, rt RoundTripper, routes Routes) (*session.UserProfile, error) {
	req := routes.ProfileRequest()
	req.SetBearer(accessToken)
	resp, err := rt.RoundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	return DecodeProfile(resp.Body)
}
