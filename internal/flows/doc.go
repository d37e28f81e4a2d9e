// Package flows contains pure-function orchestrators for the network side of every
// Engine operation: provider login and link, profile fetch, session refresh, server
// logout and the authenticated request pipeline with its single refresh-and-retry.
//
// Each flow function (RunLogin, RunRefresh, RunRequest, etc.) accepts a typed
// dependency struct and returns a result with a failure kind. Flows never touch the
// session store: the Engine merges results into the store under its own lock.
//
// # Architecture boundaries
//
// Flow functions build wire requests and decode wire responses. They do NOT own the
// transport, the store or the listeners. Ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goAuthClient (to avoid import cycles).
//   - Mutate session state or fire lifecycle events.
package flows
