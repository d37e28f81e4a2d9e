// Package goAuthClient is a client-side authentication session manager for a
// backend-as-a-service platform.
//
// An [Engine] keeps every user that logged in on this device, persists their tokens
// and profiles through a [session.Storage], refreshes access tokens before and after
// they expire, and notifies [AuthListener]s of lifecycle events. Engine methods are safe
// to call from multiple goroutines after [Builder.Build].
//
// # Architecture boundaries
//
// goAuthClient is the public surface: [Engine], [Builder], [Config], [Credential],
// [User], listeners, metrics and [Registry]. Session state lives in package session,
// token decoding in jwt, staleness checks in refresh, and the network boundary in
// transport. Route building and the login, refresh, logout and request flows live under
// internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Hold the engine lock across a network call.
//   - Deliver listener events while holding the engine lock.
//   - Log the user out implicitly after a failed refresh. Callers decide.
//   - Keep package-level engine state. Use a [Registry] when several apps share a process.
//   - Import any sub-package that re-imports goAuthClient (no import cycles).
package goAuthClient
