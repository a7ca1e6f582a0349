// Package store defines interfaces for persistence dependencies (the batch
// history repository). Implementations live under internal/storage; this
// package must not import database drivers or concrete clients.
package store
