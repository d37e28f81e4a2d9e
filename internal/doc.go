// Package internal holds packages private to goAuthClient.
//
// # Sub-packages
//
//   - audit: async audit event dispatch with a bounded buffer
//   - flows: network exchanges behind each Engine operation, as pure functions over deps
//
// # What this package must NOT do
//
//   - Export types that appear in the public goAuthClient API.
//   - Be imported by any package outside the goAuthClient module.
package internal
