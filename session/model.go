package session

import "time"

// ProviderType names an authentication provider family.
type ProviderType string

const (
	ProviderTypeAnonymous    ProviderType = "anonymous"
	ProviderTypeUserPass     ProviderType = "userpass"
	ProviderTypeUserAPIKey   ProviderType = "api-key"
	ProviderTypeServerAPIKey ProviderType = "server-api-key"
	ProviderTypeCustom       ProviderType = "custom-token"
	ProviderTypeFunction     ProviderType = "custom-function"
	ProviderTypeGoogle       ProviderType = "oauth2-google"
	ProviderTypeFacebook     ProviderType = "oauth2-facebook"
)

// UserType distinguishes end users from server (API key) users.
type UserType string

const (
	UserTypeNormal UserType = "normal"
	UserTypeServer UserType = "server"
)

// Identity is one login identity linked to a user.
type Identity struct {
	ID           string       `json:"id"`
	ProviderType ProviderType `json:"provider_type"`
}

// ProfileData holds provider-supplied user attributes. Every field is optional.
type ProfileData struct {
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	PictureURL string `json:"picture,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Gender     string `json:"gender,omitempty"`
	Birthday   string `json:"birthday,omitempty"`
	MinAge     string `json:"min_age,omitempty"`
	MaxAge     string `json:"max_age,omitempty"`
}

// UserProfile describes a user as reported by the profile endpoint.
type UserProfile struct {
	UserType   UserType    `json:"user_type"`
	Data       ProfileData `json:"data"`
	Identities []Identity  `json:"identities"`
}

// Clone returns a deep copy of p.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	out := *p
	if p.Identities != nil {
		out.Identities = make([]Identity, len(p.Identities))
		copy(out.Identities, p.Identities)
	}
	return &out
}

// IsAnonymous reports whether the sole linked identity is anonymous.
func (p *UserProfile) IsAnonymous() bool {
	return p != nil && len(p.Identities) == 1 && p.Identities[0].ProviderType == ProviderTypeAnonymous
}

// AuthInfo is the persisted record of one user's tokens, provider and profile.
//
// A record with a non-empty AccessToken is logged in.
type AuthInfo struct {
	UserID               string
	DeviceID             string
	AccessToken          string
	RefreshToken         string
	LoggedInProviderType ProviderType
	LoggedInProviderName string
	Profile              *UserProfile
	LastAuthActivity     time.Time
}

// IsLoggedIn reports whether the record carries an access token.
func (a AuthInfo) IsLoggedIn() bool {
	return a.AccessToken != ""
}

// IsAnonymous reports whether the record belongs to an anonymous user. Without a
// profile the provider that logged the user in decides.
func (a AuthInfo) IsAnonymous() bool {
	if a.Profile != nil {
		return a.Profile.IsAnonymous()
	}
	return a.LoggedInProviderType == ProviderTypeAnonymous
}

// Clone returns a deep copy of a.
func (a AuthInfo) Clone() AuthInfo {
	a.Profile = a.Profile.Clone()
	return a
}

// LoggedOut returns a copy without access and refresh tokens. Identity, provider and
// profile stay so the record remains addressable after logout.
func (a AuthInfo) LoggedOut() AuthInfo {
	out := a.Clone()
	out.AccessToken = ""
	out.RefreshToken = ""
	return out
}

// EmptiedOut returns a copy with every field cleared except DeviceID.
func (a AuthInfo) EmptiedOut() AuthInfo {
	return AuthInfo{DeviceID: a.DeviceID}
}

// AuthInfoPatch is a partial AuthInfo. Nil fields are left untouched by Merge.
type AuthInfoPatch struct {
	UserID               *string
	DeviceID             *string
	AccessToken          *string
	RefreshToken         *string
	LoggedInProviderType *ProviderType
	LoggedInProviderName *string
	Profile              *UserProfile
	LastAuthActivity     *time.Time
}

// Some returns a pointer to v, for building patches.
func Some[T any](v T) *T {
	return &v
}

// PatchOf turns the non-zero fields of info into a patch.
func PatchOf(info AuthInfo) AuthInfoPatch {
	var p AuthInfoPatch
	if info.UserID != "" {
		p.UserID = Some(info.UserID)
	}
	if info.DeviceID != "" {
		p.DeviceID = Some(info.DeviceID)
	}
	if info.AccessToken != "" {
		p.AccessToken = Some(info.AccessToken)
	}
	if info.RefreshToken != "" {
		p.RefreshToken = Some(info.RefreshToken)
	}
	if info.LoggedInProviderType != "" {
		p.LoggedInProviderType = Some(info.LoggedInProviderType)
	}
	if info.LoggedInProviderName != "" {
		p.LoggedInProviderName = Some(info.LoggedInProviderName)
	}
	if info.Profile != nil {
		p.Profile = info.Profile
	}
	if !info.LastAuthActivity.IsZero() {
		p.LastAuthActivity = Some(info.LastAuthActivity)
	}
	return p
}

// Merge returns a copy of a with every field supplied by p replaced.
func (a AuthInfo) Merge(p AuthInfoPatch) AuthInfo {
	out := a.Clone()
	if p.UserID != nil {
		out.UserID = *p.UserID
	}
	if p.DeviceID != nil {
		out.DeviceID = *p.DeviceID
	}
	if p.AccessToken != nil {
		out.AccessToken = *p.AccessToken
	}
	if p.RefreshToken != nil {
		out.RefreshToken = *p.RefreshToken
	}
	if p.LoggedInProviderType != nil {
		out.LoggedInProviderType = *p.LoggedInProviderType
	}
	if p.LoggedInProviderName != nil {
		out.LoggedInProviderName = *p.LoggedInProviderName
	}
	if p.Profile != nil {
		out.Profile = p.Profile.Clone()
	}
	if p.LastAuthActivity != nil {
		out.LastAuthActivity = *p.LastAuthActivity
	}
	return out
}
