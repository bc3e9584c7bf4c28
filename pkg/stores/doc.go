// Package stores provides persistent storage for transition history using
// SQLite, with schema migrations embedded in the binary.
package stores
