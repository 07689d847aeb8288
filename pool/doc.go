// Package pool manages reusable HTTP/1.1 transport connections.
//
// Connections are grouped by Key (scheme, host, port and TLS verification
// mode). A connection is either idle in its bucket or owned by exactly one
// request; the owner hands it back with Release once the response has been
// fully read, or with Evict after any error. Idle connections expire after
// Config.IdleTTL and are probed for a peer close before reuse.
package pool
