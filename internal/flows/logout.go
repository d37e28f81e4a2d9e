package flows

import (
	"context"
	"net/http"

	"github.com/MrEthical07/goAuthClient/transport"
)

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Transport RoundTripper
	Routes    Routes
}

// RunLogout deletes the server session owned by refreshToken. An empty token is a no-op.
func RunLogout(ctx context.Context, refreshToken string, deps LogoutDeps) error {
	if refreshToken == "" {
		return nil
	}
	req := &transport.Request{Method: http.MethodDelete, Path: deps.Routes.SessionPath()}
	req.SetBearer(refreshToken)
	_, err := deps.Transport.RoundTrip(ctx, req)
	return err
}
