package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	recordFormatVersionCurrent = 1
)

var (
	// ErrUnsupportedVersion is returned when a persisted record carries an unknown format version.
	ErrUnsupportedVersion = errors.New("unsupported record version")
	// ErrInvalidRecord is returned when a persisted record or index cannot be decoded.
	ErrInvalidRecord = errors.New("invalid persisted record")
)

// record is the persisted shape of one AuthInfo.
type record struct {
	Version          int          `json:"v"`
	UserID           string       `json:"user_id"`
	DeviceID         string       `json:"device_id,omitempty"`
	AccessToken      string       `json:"access_token,omitempty"`
	RefreshToken     string       `json:"refresh_token,omitempty"`
	ProviderType     ProviderType `json:"provider_type,omitempty"`
	ProviderName     string       `json:"provider_name,omitempty"`
	Profile          *UserProfile `json:"profile,omitempty"`
	LastAuthActivity int64        `json:"last_auth_activity,omitempty"`
}

// Encode serializes info as a versioned record. Timestamps keep millisecond precision.
func Encode(info AuthInfo) ([]byte, error) {
	if info.UserID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidRecord)
	}
	rec := record{
		Version:      recordFormatVersionCurrent,
		UserID:       info.UserID,
		DeviceID:     info.DeviceID,
		AccessToken:  info.AccessToken,
		RefreshToken: info.RefreshToken,
		ProviderType: info.LoggedInProviderType,
		ProviderName: info.LoggedInProviderName,
		Profile:      info.Profile,
	}
	if !info.LastAuthActivity.IsZero() {
		rec.LastAuthActivity = info.LastAuthActivity.UnixMilli()
	}
	return json.Marshal(rec)
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (AuthInfo, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return AuthInfo{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if rec.Version != recordFormatVersionCurrent {
		return AuthInfo{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, rec.Version)
	}
	if rec.UserID == "" {
		return AuthInfo{}, fmt.Errorf("%w: missing user id", ErrInvalidRecord)
	}

	info := AuthInfo{
		UserID:               rec.UserID,
		DeviceID:             rec.DeviceID,
		AccessToken:          rec.AccessToken,
		RefreshToken:         rec.RefreshToken,
		LoggedInProviderType: rec.ProviderType,
		LoggedInProviderName: rec.ProviderName,
		Profile:              rec.Profile,
	}
	if rec.LastAuthActivity != 0 {
		info.LastAuthActivity = time.UnixMilli(rec.LastAuthActivity).UTC()
	}
	return info, nil
}

func encodeIndex(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

func decodeIndex(data []byte) ([]string, error) {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("%w: index: %v", ErrInvalidRecord, err)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("%w: index: empty user id", ErrInvalidRecord)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: index: duplicate user id %q", ErrInvalidRecord, id)
		}
		seen[id] = struct{}{}
	}
	return ids, nil
}
