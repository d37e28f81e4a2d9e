package goAuthClient

import (
	"fmt"
	"reflect"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/MrEthical07/goAuthClient/session"
)

// Default provider names registered by the platform for each provider type.
const (
	DefaultAnonymousProviderName    = "anon-user"
	DefaultUserPassProviderName     = "local-userpass"
	DefaultUserAPIKeyProviderName   = "api-key"
	DefaultServerAPIKeyProviderName = "api-key"
	DefaultCustomProviderName       = "custom-token"
	DefaultFunctionProviderName     = "custom-function"
	DefaultGoogleProviderName       = "oauth2-google"
	DefaultFacebookProviderName     = "oauth2-facebook"
)

// Credential is the material one provider needs to log a user in.
//
// Material is sent as the body of the provider login route. Validate runs before any
// network call; its failures are returned wrapped in ErrUnexpectedArguments.
type Credential interface {
	ProviderType() session.ProviderType
	ProviderName() string
	Material() map[string]any
	Validate() error
}

func validateCredential(cred Credential) error {
	if cred == nil {
		return fmt.Errorf("%w: nil credential", ErrUnexpectedArguments)
	}
	if v := reflect.ValueOf(cred); v.Kind() == reflect.Pointer && v.IsNil() {
		return fmt.Errorf("%w: nil %T credential", ErrUnexpectedArguments, cred)
	}
	if err := cred.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnexpectedArguments, err)
	}
	return nil
}

func providerName(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// AnonymousCredential logs in an anonymous user. A device keeps at most one.
type AnonymousCredential struct {
	Name string
}

func (c AnonymousCredential) ProviderType() session.ProviderType {
	return session.ProviderTypeAnonymous
}

func (c AnonymousCredential) ProviderName() string {
	return providerName(c.Name, DefaultAnonymousProviderName)
}

func (c AnonymousCredential) Material() map[string]any {
	return map[string]any{}
}

func (c AnonymousCredential) Validate() error {
	return nil
}

// UserPasswordCredential logs in with a username and password.
type UserPasswordCredential struct {
	Username string
	Password string
	Name     string
}

func (c UserPasswordCredential) ProviderType() session.ProviderType {
	return session.ProviderTypeUserPass
}

func (c UserPasswordCredential) ProviderName() string {
	return providerName(c.Name, DefaultUserPassProviderName)
}

func (c UserPasswordCredential) Material() map[string]any {
	return map[string]any{"username": c.Username, "password": c.Password}
}

func (c UserPasswordCredential) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Username, validation.Required, validation.Length(1, 512)),
		validation.Field(&c.Password, validation.Required),
	)
}

// UserAPIKeyCredential logs in an end user with a user API key.
type UserAPIKeyCredential struct {
	Key  string
	Name string
}

func (c UserAPIKeyCredential) ProviderType() session.ProviderType {
	return session.ProviderTypeUserAPIKey
}

func (c UserAPIKeyCredential) ProviderName() string {
	return providerName(c.Name, DefaultUserAPIKeyProviderName)
}

func (c UserAPIKeyCredential) Material() map[string]any {
	return map[string]any{"key": c.Key}
}

func (c UserAPIKeyCredential) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Key, validation.Required),
	)
}

// ServerAPIKeyCredential logs in a server user with a server API key.
type ServerAPIKeyCredential struct {
	Key  string
	Name string
}

func (c ServerAPIKeyCredential) ProviderType() session.ProviderType {
	return session.ProviderTypeServerAPIKey
}

func (c ServerAPIKeyCredential) ProviderName() string {
	return providerName(c.Name, DefaultServerAPIKeyProviderName)
}

func (c ServerAPIKeyCredential) Material() map[string]any {
	return map[string]any{"key": c.Key}
}

func (c ServerAPIKeyCredential) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Key, validation.Required),
	)
}

// CustomCredential logs in with a JWT signed by the application's own auth system.
type CustomCredential struct {
	Token string
	Name  string
}

func (c CustomCredential) ProviderType() session.ProviderType {
	return session.ProviderTypeCustom
}

func (c CustomCredential) ProviderName() string {
	return providerName(c.Name, DefaultCustomProviderName)
}

func (c CustomCredential) Material() map[string]any {
	return map[string]any{"token": c.Token}
}

func (c CustomCredential) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Token, validation.Required),
	)
}

// FunctionCredential logs in through a server-side auth function. Payload is sent as is.
type FunctionCredential struct {
	Payload map[string]any
	Name    string
}

func (c FunctionCredential) ProviderType() session.ProviderType {
	return session.ProviderTypeFunction
}

func (c FunctionCredential) ProviderName() string {
	return providerName(c.Name, DefaultFunctionProviderName)
}

func (c FunctionCredential) Material() map[string]any {
	out := make(map[string]any, len(c.Payload))
	for k, v := range c.Payload {
		out[k] = v
	}
	return out
}

func (c FunctionCredential) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Payload, validation.Required),
	)
}

// GoogleCredential logs in with a Google server auth code.
type GoogleCredential struct {
	AuthCode string
	Name     string
}

func (c GoogleCredential) ProviderType() session.ProviderType {
	return session.ProviderTypeGoogle
}

func (c GoogleCredential) ProviderName() string {
	return providerName(c.Name, DefaultGoogleProviderName)
}

func (c GoogleCredential) Material() map[string]any {
	return map[string]any{"authCode": c.AuthCode}
}

func (c GoogleCredential) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.AuthCode, validation.Required),
	)
}

// FacebookCredential logs in with a Facebook access token.
type FacebookCredential struct {
	AccessToken string
	Name        string
}

func (c FacebookCredential) ProviderType() session.ProviderType {
	return session.ProviderTypeFacebook
}

func (c FacebookCredential) ProviderName() string {
	return providerName(c.Name, DefaultFacebookProviderName)
}

func (c FacebookCredential) Material() map[string]any {
	return map[string]any{"accessToken": c.AccessToken}
}

func (c FacebookCredential) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.AccessToken, validation.Required),
	)
}
