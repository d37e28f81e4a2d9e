package jwt

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken is returned for any input that is not three dot-separated
// base64url segments with a JSON header and JSON claims.
var ErrMalformedToken = errors.New("malformed token")

// Claims is the subset of token claims the client reads. Zero times mean the claim
// was absent.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
	UserData  map[string]any
}

// Expired reports whether the token has expired at now. Tokens without exp never expire.
func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Lifetime returns exp - iat, or 0 when either claim is absent.
func (c *Claims) Lifetime() time.Duration {
	if c.ExpiresAt.IsZero() || c.IssuedAt.IsZero() {
		return 0
	}
	return c.ExpiresAt.Sub(c.IssuedAt)
}

var parser = jwt.NewParser()

// Decode parses token without verifying its signature.
func Decode(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(parts))
	}
	for i, part := range parts {
		if i < 2 && part == "" {
			return nil, fmt.Errorf("%w: empty segment %d", ErrMalformedToken, i)
		}
		if _, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(part, "=")); err != nil {
			return nil, fmt.Errorf("%w: segment %d: %v", ErrMalformedToken, i, err)
		}
	}

	mc := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, mc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	out := &Claims{}
	sub, err := mc.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("%w: sub: %v", ErrMalformedToken, err)
	}
	out.Subject = sub

	exp, err := mc.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: exp: %v", ErrMalformedToken, err)
	}
	if exp != nil {
		out.ExpiresAt = exp.Time
	}

	iat, err := mc.GetIssuedAt()
	if err != nil {
		return nil, fmt.Errorf("%w: iat: %v", ErrMalformedToken, err)
	}
	if iat != nil {
		out.IssuedAt = iat.Time
	}

	if data, ok := mc["user_data"].(map[string]any); ok {
		out.UserData = data
	}
	return out, nil
}
