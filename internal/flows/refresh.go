package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrEthical07/goAuthClient/transport"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureMissingToken
	RefreshFailureExchange
	RefreshFailureDecode
)

// ErrMissingRefreshToken is returned when there is no refresh token to exchange.
var ErrMissingRefreshToken = errors.New("missing refresh token")

// RefreshResult carries either the new access token or failure metadata.
type RefreshResult struct {
	Failure     RefreshFailureKind
	Err         error
	AccessToken string
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Transport RoundTripper
	Routes    Routes
}

// RunRefresh exchanges refreshToken for a new access token.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	if refreshToken == "" {
		return RefreshResult{Failure: RefreshFailureMissingToken, Err: ErrMissingRefreshToken}
	}

	req := &transport.Request{Method: http.MethodPost, Path: deps.Routes.SessionPath()}
	req.SetBearer(refreshToken)
	resp, err := deps.Transport.RoundTrip(ctx, req)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureExchange, Err: err}
	}

	var rr refreshResponse
	if err := json.Unmarshal(resp.Body, &rr); err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: fmt.Errorf("decode refresh response: %w", err)}
	}
	if rr.AccessToken == "" {
		return RefreshResult{Failure: RefreshFailureDecode, Err: errors.New("refresh response has no access token")}
	}
	return RefreshResult{AccessToken: rr.AccessToken}
}
