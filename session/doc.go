// Package session provides the persisted multi-user auth state of a device: the ordered
// list of known [AuthInfo] records and the pointer to the active one.
//
// # Persistence
//
// A [Store] mirrors its in-memory state into a string key-value [Storage] on every
// mutation. Records are encoded as versioned JSON documents, one key per user, plus an
// index key holding login order, an active-user key and a device key. Mutations are
// copy-on-write: a change is committed in memory only after it was persisted.
//
// Loading never fails. An unreadable index yields an empty store. A missing or corrupt
// record is skipped and a dangling active pointer is dropped, so the remaining users
// survive. Every skipped key is reported through [WithLoadErrorHandler].
//
// Writes are ordered so that an interrupted mutation leaves a loadable state: records
// before the index, and the active pointer moved off a user before the index drops it.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [AuthInfo]/[UserProfile] model. It does NOT
// decode tokens, talk to the network, or fire lifecycle events. Those responsibilities
// belong to the Engine.
//
// # What this package must NOT do
//
//   - Import goAuthClient, jwt, refresh or transport (no upward imports).
//   - Keep records that were not persisted.
package session
