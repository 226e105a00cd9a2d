package proxy

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ProxyManager hands out upstream proxies for outgoing requests
type ProxyManager interface {
	// Next returns the proxy for the next request, or nil to connect directly
	Next() *url.URL

	// MarkFailed takes a proxy out of rotation for the cooldown period
	MarkFailed(u *url.URL)
}

// ProxyInfo holds the health of one proxy
type ProxyInfo struct {
	URL         string    `json:"url"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	Working     bool      `json:"working"`
}

type proxyEntry struct {
	url         *url.URL
	failures    int
	lastFailure time.Time
}

// Manager rotates round-robin over a fixed proxy list, skipping proxies that
// failed within the cooldown.
type Manager struct {
	proxies  []*proxyEntry
	mutex    sync.RWMutex
	next     int
	cooldown time.Duration
	now      func() time.Time
}

// NewManager parses rawURLs (http, https or socks5). Empty entries are ignored.
// A manager without proxies always returns nil from Next.
func NewManager(rawURLs []string, cooldown time.Duration) (*Manager, error) {
	m := &Manager{cooldown: cooldown, now: time.Now}
	seen := make(map[string]bool)
	for _, raw := range rawURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" || seen[raw] {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy url %q", raw)
		}
		switch u.Scheme {
		case "http", "https", "socks5":
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
		seen[raw] = true
		m.proxies = append(m.proxies, &proxyEntry{url: u})
	}
	return m, nil
}

// Next implements ProxyManager
func (m *Manager) Next() *url.URL {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if len(m.proxies) == 0 {
		return nil
	}

	now := m.now()
	var oldest *proxyEntry
	for i := 0; i < len(m.proxies); i++ {
		p := m.proxies[(m.next+i)%len(m.proxies)]
		if p.failures == 0 || now.Sub(p.lastFailure) >= m.cooldown {
			m.next = (m.next + i + 1) % len(m.proxies)
			return p.url
		}
		if oldest == nil || p.lastFailure.Before(oldest.lastFailure) {
			oldest = p
		}
	}
	// every proxy is cooling down; use the one that failed longest ago
	return oldest.url
}

// MarkFailed implements ProxyManager
func (m *Manager) MarkFailed(u *url.URL) {
	if u == nil {
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, p := range m.proxies {
		if p.url.String() == u.String() {
			p.failures++
			p.lastFailure = m.now()
			return
		}
	}
}

// Stats returns a snapshot of every proxy's health
func (m *Manager) Stats() []ProxyInfo {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	now := m.now()
	stats := make([]ProxyInfo, 0, len(m.proxies))
	for _, p := range m.proxies {
		stats = append(stats, ProxyInfo{
			URL:         p.url.Redacted(),
			Failures:    p.failures,
			LastFailure: p.lastFailure,
			Working:     p.failures == 0 || now.Sub(p.lastFailure) >= m.cooldown,
		})
	}
	return stats
}
