package flows

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/transport"
)

// DefaultBasePath is the client API v2 prefix.
const DefaultBasePath = "/api/client/v2.0"

// Routes builds the client API paths for one app.
type Routes struct {
	BasePath string
	AppID    string
}

func (r Routes) base() string {
	if r.BasePath == "" {
		return DefaultBasePath
	}
	return strings.TrimRight(r.BasePath, "/")
}

// LoginPath is the provider login (and link) route.
func (r Routes) LoginPath(providerName string) string {
	return fmt.Sprintf("%s/app/%s/auth/providers/%s/login",
		r.base(), url.PathEscape(r.AppID), url.PathEscape(providerName))
}

// ProfilePath is the route returning the caller's profile.
func (r Routes) ProfilePath() string {
	return r.base() + "/auth/profile"
}

// SessionPath is the route for session refresh (POST) and server logout (DELETE).
func (r Routes) SessionPath() string {
	return r.base() + "/auth/session"
}

type loginResponse struct {
	UserID       string `json:"user_id"`
	DeviceID     string `json:"device_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
}

type profileResponse struct {
	UserType   session.UserType    `json:"user_type"`
	Identities []session.Identity  `json:"identities"`
	Data       session.ProfileData `json:"data"`
}

// DecodeProfile parses a profile route response body.
func DecodeProfile(body []byte) (*session.UserProfile, error) {
	var pr profileResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if pr.UserType == "" {
		pr.UserType = session.UserTypeNormal
	}
	return &session.UserProfile{
		UserType:   pr.UserType,
		Identities: pr.Identities,
		Data:       pr.Data,
	}, nil
}

// ProfileRequest returns a GET for the profile route. The caller attaches the token.
func (r Routes) ProfileRequest() *transport.Request {
	return &transport.Request{Method: http.MethodGet, Path: r.ProfilePath()}
}
