// Package jwt decodes the claims of platform-issued tokens on the client and provides a
// small signing [Manager] for issuing and verifying tokens in tests and tooling.
//
// [Decode] never verifies signatures: the client only needs expiry and issued-at to
// schedule refreshes, and the server remains the authority on token validity.
package jwt
