package flows

import (
	"context"

	"github.com/MrEthical07/goAuthClient/transport"
)

// RoundTripper is the request half of transport.Transport.
type RoundTripper interface {
	RoundTrip(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Streamer is the stream half of transport.Transport.
type Streamer interface {
	Stream(ctx context.Context, req *transport.Request) (transport.EventStream, error)
}

// Deps groups flow dependency sets. The root engine builds this once and delegates
// to the matching flow implementation.
type Deps struct {
	Routes  Routes
	Login   LoginDeps
	Refresh RefreshDeps
	Logout  LogoutDeps
}
