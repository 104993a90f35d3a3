// Package model defines the shared domain types.
//
// Conventions:
//   - Timestamps: int64 microseconds since epoch for persisted rows,
//     RFC 3339 strings on the wire
//   - IDs: server- or client-generated UUID strings
package model
