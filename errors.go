package goAuthClient

import (
	"errors"

	"github.com/MrEthical07/goAuthClient/session"
)

var (
	// ErrMustAuthenticateFirst is returned when an operation needs a logged-in active user
	// and there is none. It is returned before any network call.
	ErrMustAuthenticateFirst = errors.New("must authenticate first")
	// ErrUserNotFound is returned when no user with the given id is known.
	ErrUserNotFound = session.ErrUserNotFound
	// ErrUserNoLongerValid is returned when the referenced user was logged out or removed
	// while the operation was in flight.
	ErrUserNoLongerValid = errors.New("user no longer valid")
	// ErrUnexpectedArguments is returned for arguments the signatures cannot exclude,
	// such as a nil credential or an empty user id.
	ErrUnexpectedArguments = errors.New("unexpected arguments")
	// ErrCouldNotPersistAuthInfo is returned when session state could not be written.
	// The in-memory state is left as it was before the call.
	ErrCouldNotPersistAuthInfo = session.ErrCouldNotPersist
	// ErrCouldNotLoadPersistedAuthInfo is reported (never returned) when persisted state was
	// discarded at startup.
	ErrCouldNotLoadPersistedAuthInfo = session.ErrCouldNotLoad
	// ErrFatalAuth wraps the second authorization failure of an authenticated request.
	// The wrapped service error stays reachable with errors.As.
	ErrFatalAuth = errors.New("authorization failed after refresh")
	// ErrEngineClosed is returned by operations on a closed engine.
	ErrEngineClosed = errors.New("engine closed")
	// ErrTransportRequired is returned by Build when no transport was supplied.
	ErrTransportRequired = errors.New("transport required")
)
