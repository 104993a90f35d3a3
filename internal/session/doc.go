// Package session supplies access tokens for the realtime connection. A token
// can come from configuration, a file on disk, or a refresh endpoint; all three
// satisfy the connection layer's TokenProvider interface.
package session
