// Package database provides connection pool management for the PostgreSQL
// message archive.
package database
