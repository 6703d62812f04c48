// Package offline keeps deliveries safe while the appliance has no network:
// a connectivity probe gates uploads and a durable on-disk queue holds
// everything that could not be delivered.
package offline

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// Connectivity probe endpoints, tried in order.
var testURLs = []string{
	"https://1.1.1.1",
	"https://8.8.8.8",
	"https://www.google.com",
}

const connectivityCacheTTL = 30 * time.Second

// ConnectivityChecker reports whether the appliance can reach the internet.
// Results are cached briefly so a worker pass does not probe per file.
type ConnectivityChecker struct {
	client *http.Client

	mu        sync.Mutex
	lastCheck time.Time
	lastState bool
}

func NewConnectivityChecker() *ConnectivityChecker {
	return &ConnectivityChecker{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// IsOnline probes the network, serving a cached answer when fresh.
func (c *ConnectivityChecker) IsOnline() bool {
	c.mu.Lock()
	if time.Since(c.lastCheck) < connectivityCacheTTL {
		state := c.lastState
		c.mu.Unlock()
		return state
	}
	c.mu.Unlock()

	state := c.probe()

	c.mu.Lock()
	c.lastCheck = time.Now()
	c.lastState = state
	c.mu.Unlock()
	return state
}

func (c *ConnectivityChecker) probe() bool {
	for _, url := range testURLs {
		resp, err := c.client.Head(url)
		if err == nil {
			resp.Body.Close()
			return true
		}
	}
	// HTTP may be blocked while DNS still works.
	if _, err := net.LookupHost("google.com"); err == nil {
		return true
	}
	return false
}
