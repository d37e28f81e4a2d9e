// Package transport defines the network boundary of the client: a request/response
// [Transport] with server-push [EventStream]s, and the typed [ServiceError] every
// transport must return for non-2xx responses.
//
// No concrete HTTP implementation lives here. Applications supply one; tests use the
// in-memory provider in package authtest.
package transport
