// Package archive persists realtime traffic to Postgres. A recorder subscribes
// to the feature channels and pushes every inbound message into a buffer; a
// batch writer drains the buffer into the messages table with append-only
// semantics (never update, only insert).
package archive
