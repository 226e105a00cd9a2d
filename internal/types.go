package internal

import (
	"github.com/dealmungchi/snipedeal/internal/dedup"
	"github.com/dealmungchi/snipedeal/internal/notifier"
	"github.com/dealmungchi/snipedeal/internal/storage"
	"github.com/dealmungchi/snipedeal/logger"
	"github.com/dealmungchi/snipedeal/services/cache"
	"github.com/dealmungchi/snipedeal/services/events"
	"github.com/dealmungchi/snipedeal/services/proxy"
	"github.com/dealmungchi/snipedeal/services/publisher"
)

// Dependencies holds all service dependencies shared by the cycle components
type Dependencies struct {
	Cache     cache.CacheService
	Proxy     proxy.ProxyManager
	Seen      dedup.Store
	Store     storage.Store
	Notifier  notifier.Notifier
	Publisher publisher.Publisher
	Events    *events.Ring

	// closers run in reverse registration order on Close
	closers []func() error
}

// OnClose registers a cleanup step
func (d *Dependencies) OnClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

// Close releases every registered resource, logging failures
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.Warn("Failed to release resource: %v", err)
		}
	}
	d.closers = nil
}
