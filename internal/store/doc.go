// Package store provides durable document storage with a per-collection
// changelog.
//
// Documents are JSON bodies keyed by (collection, id). Every mutation
// appends a changelog row in the same transaction as the document write,
// so the changelog is exactly the store's mutation history: an ordered,
// resumable change feed. The tap package tails it; nothing else reads it
// directly.
//
// Notification records live in the documents table like every other
// entity (collection "notifications"). Persisting one therefore produces
// a changelog row of its own, which is how a cascade-produced notification
// flows back out to connected clients.
//
// Uses SQLite with WAL mode for concurrent read access; writes are
// serialized through a single connection.
package store
