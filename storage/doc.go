// Package storage provides [session.Storage] implementations: an in-process map, a Redis
// keyspace and a single JSON file on disk.
//
// All implementations are safe for concurrent use and synchronous from the caller's
// point of view.
package storage
