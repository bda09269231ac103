package helpers

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"market-platform/src/logger"
)

// DefaultUserAgent is sent when the config pins none. Several quote endpoints
// reject the Go client's default agent.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

// defaultProxyCooldown is how long a proxy rotated away from is skipped.
const defaultProxyCooldown = time.Minute

type proxyEntry struct {
	url          *url.URL
	failures     int
	benchedUntil time.Time
}

// -----------------------------------------------------------------------------

// ProxyPool rotates provider traffic through the configured proxies. Rotating
// away from a proxy benches it for a cooldown, so the next rotation prefers
// proxies that have not failed recently.
type ProxyPool struct {
	mu        sync.Mutex
	entries   []*proxyEntry
	current   int
	cooldown  time.Duration
	userAgent string
	now       func() time.Time
	logger    *logger.Logger
}

// NewProxyPool parses proxies, dropping malformed ones with a warning. An
// empty userAgent selects DefaultUserAgent.
func NewProxyPool(proxies []string, userAgent string) *ProxyPool {
	pp := &ProxyPool{
		cooldown:  defaultProxyCooldown,
		userAgent: userAgent,
		now:       time.Now,
		logger:    logger.NewLogger(nil, "ProxyPool"),
	}
	if pp.userAgent == "" {
		pp.userAgent = DefaultUserAgent
	}
	for _, raw := range proxies {
		u, err := ParseProxy(raw)
		if err != nil {
			pp.logger.Warning("Ignoring proxy: %v", err)
			continue
		}
		pp.entries = append(pp.entries, &proxyEntry{url: u})
	}
	return pp
}

// -----------------------------------------------------------------------------

// GetCurrentProxy returns the proxy in use, or "" when none is configured.
func (pp *ProxyPool) GetCurrentProxy() (string, error) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if len(pp.entries) == 0 {
		return "", nil
	}
	return pp.entries[pp.current].url.String(), nil
}

// -----------------------------------------------------------------------------

// RotateProxy benches the current proxy and moves to the next one that is not
// benched. When every proxy is benched, the one whose cooldown ends first wins.
func (pp *ProxyPool) RotateProxy() {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if len(pp.entries) <= 1 {
		return
	}

	now := pp.now()
	cur := pp.entries[pp.current]
	cur.failures++
	cur.benchedUntil = now.Add(pp.cooldown * time.Duration(min(cur.failures, 5)))

	next := -1
	for step := 1; step < len(pp.entries); step++ {
		i := (pp.current + step) % len(pp.entries)
		if !pp.entries[i].benchedUntil.After(now) {
			next = i
			break
		}
	}
	if next < 0 {
		next = (pp.current + 1) % len(pp.entries)
		for i, e := range pp.entries {
			if e.benchedUntil.Before(pp.entries[next].benchedUntil) {
				next = i
			}
		}
	}
	pp.current = next
	pp.logger.Info("Rotating proxy to %s (%d failures on %s)", pp.entries[next].url.Host, cur.failures, cur.url.Host)
}

// -----------------------------------------------------------------------------

func (pp *ProxyPool) HasProxies() bool {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return len(pp.entries) > 0
}

func (pp *ProxyPool) GetUserAgent() string {
	return pp.userAgent
}

// -----------------------------------------------------------------------------

// ParseProxy accepts host:port or a URL with an http, https or socks5 scheme.
func ParseProxy(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("proxy %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("proxy %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("proxy %q: missing host", raw)
	}
	return u, nil
}
