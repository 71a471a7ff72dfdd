package frigate

import (
	"context"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ConnectivityChecker tracks whether the NVR answers its version endpoint.
// The base URL is read on every check so runtime setting changes apply.
type ConnectivityChecker struct {
	baseURL   func() string
	client    *http.Client
	mu        sync.RWMutex
	online    bool
	lastCheck time.Time
}

// NewConnectivityChecker creates a checker reading the NVR address from baseURL
func NewConnectivityChecker(baseURL func() string, timeout time.Duration) *ConnectivityChecker {
	return &ConnectivityChecker{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
			},
		},
	}
}

// Check probes the NVR once and records the result
func (c *ConnectivityChecker) Check(ctx context.Context) bool {
	online := c.checkConnection(ctx)
	c.mu.Lock()
	c.online = online
	c.lastCheck = time.Now()
	c.mu.Unlock()
	return online
}

func (c *ConnectivityChecker) checkConnection(ctx context.Context) bool {
	base := strings.TrimRight(c.baseURL(), "/")
	if base == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < 400
}

// Status returns the last recorded state and when it was checked.
// A zero time means no check has run yet.
func (c *ConnectivityChecker) Status() (bool, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online, c.lastCheck
}

// StartPeriodicCheck checks every interval until ctx is done, calling
// onStatusChange when the state flips
func (c *ConnectivityChecker) StartPeriodicCheck(ctx context.Context, interval time.Duration, onStatusChange func(bool)) {
	go func() {
		previous := c.Check(ctx)
		log.Printf("[Frigate] NVR is %s", statusString(previous))

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			current := c.Check(ctx)
			if current != previous {
				log.Printf("[Frigate] NVR status changed: %s -> %s", statusString(previous), statusString(current))
				if onStatusChange != nil {
					onStatusChange(current)
				}
				previous = current
			}
		}
	}()
}

func statusString(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}
