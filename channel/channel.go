// Package channel defines the interface for optional notification channels
// that relay chat outcomes to external services.
package channel

import "context"

// Channel is a long-running integration started alongside the HTTP server.
type Channel interface {
	// Name identifies the channel in logs.
	Name() string
	// Run starts the channel and blocks until ctx is done.
	Run(ctx context.Context) error
}
