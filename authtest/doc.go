// Package authtest provides an in-memory platform server for testing code built on
// goAuthClient.
//
// [Server] implements transport.Transport directly, so no listener or HTTP round trip is
// involved. It mints real HS256 tokens with package jwt, keeps sessions and linked
// identities in memory, and exposes knobs for the situations that are hard to produce
// against a real backend: expired access tokens, revoked sessions, injected failures
// and hooks that run in the middle of a call.
//
// # What this package must NOT do
//
//   - Import goAuthClient. Tests in the root package import authtest.
//   - Persist anything. A Server's state dies with it.
package authtest
