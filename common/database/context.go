// Package database holds the statement timeouts shared by SQL-backed
// components.
package database

import (
	"context"
	"time"
)

const (
	// ReadTimeout bounds SELECT statements.
	ReadTimeout = 5 * time.Second

	// WriteTimeout bounds INSERT, UPDATE and DELETE statements.
	WriteTimeout = 10 * time.Second
)

// ReadContext derives a context limited by ReadTimeout. A shorter parent
// deadline still applies.
func ReadContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, ReadTimeout)
}

// WriteContext derives a context limited by WriteTimeout.
func WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, WriteTimeout)
}
