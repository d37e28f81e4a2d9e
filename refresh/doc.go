// Package refresh decides, without a network call, whether an access token should be
// refreshed before it is used, and can drive that decision on a background ticker.
//
// # Token lifetime
//
// The access token's exp and iat claims are decoded locally (unverified). A token is
// due when it has expired or expires within the lookahead window. The window is capped
// at half the token's lifetime so short-lived tokens are not refreshed on every use.
//
// # Architecture boundaries
//
// This package owns the staleness policy only. Performing the refresh exchange and
// merging the new token into the session store belong to the Engine.
//
// # What this package must NOT do
//
//   - Perform network I/O.
//   - Import goAuthClient or transport.
//   - Panic or return true for tokens it cannot decode.
package refresh
