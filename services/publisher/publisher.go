package publisher

import "context"

// Publisher represents a service for publishing cycle results
type Publisher interface {
	// Publish publishes a message; key selects the shard or partition
	Publish(ctx context.Context, key string, message []byte) error

	// TrimStreams trims all streams to the configured maximum length
	TrimStreams(ctx context.Context) error

	// Close closes the publisher connection
	Close() error
}
