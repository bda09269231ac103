package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"market-platform/src/helpers"
	"market-platform/src/interfaces"
	"market-platform/src/logger"
	"market-platform/src/models"

	"golang.org/x/time/rate"
)

type AsyncNetworkManager struct {
	Config       *models.MConfig
	ProxyManager interfaces.IProxyManager
	Logger       *logger.Logger

	clientMu sync.RWMutex
	client   *http.Client

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// -----------------------------------------------------------------------------

func NewAsyncNetworkManager(cfg *models.MConfig, log *logger.Logger) *AsyncNetworkManager {
	var proxies []string
	if cfg.Network.Enabled {
		proxies = cfg.Network.Proxies
	}

	nm := &AsyncNetworkManager{
		Config:       cfg,
		ProxyManager: helpers.NewProxyPool(proxies, cfg.Network.UserAgent),
		Logger:       log,
		limiters:     make(map[string]*rate.Limiter),
	}
	nm.client = nm.createClient()
	return nm
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) createClient() *http.Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{},
	}

	if nm.ProxyManager.HasProxies() {
		proxyStr, err := nm.ProxyManager.GetCurrentProxy()
		if err == nil && proxyStr != "" {
			proxyURL, err := url.Parse(proxyStr)
			if err == nil {
				transport.Proxy = http.ProxyURL(proxyURL)
			}
		}
	}

	timeout := time.Duration(nm.Config.Network.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) httpClient() *http.Client {
	nm.clientMu.RLock()
	defer nm.clientMu.RUnlock()
	return nm.client
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) rotateProxy() {
	if !nm.ProxyManager.HasProxies() {
		return
	}

	nm.ProxyManager.RotateProxy()
	c := nm.createClient()
	nm.clientMu.Lock()
	nm.client = c
	nm.clientMu.Unlock()
}

// -----------------------------------------------------------------------------

// limiter returns the per-host token bucket. A non-positive rate disables limiting.
func (nm *AsyncNetworkManager) limiter(host string) *rate.Limiter {
	rps := nm.Config.Network.RateLimitPerSecond
	if rps <= 0 {
		return nil
	}

	nm.limitersMu.Lock()
	defer nm.limitersMu.Unlock()
	l, ok := nm.limiters[host]
	if !ok {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(rps), burst)
		nm.limiters[host] = l
	}
	return l
}

// -----------------------------------------------------------------------------

// Get performs a GET request with retries and proxy rotation.
func (nm *AsyncNetworkManager) Get(ctx context.Context, urlStr string, params map[string]string, headers map[string]string) ([]byte, error) {
	reqURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, err
	}

	q := reqURL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	reqURL.RawQuery = q.Encode()
	finalURL := reqURL.String()

	maxRetries := nm.Config.Network.MaxRetries
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(time.Duration(i*i) * 250 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			nm.rotateProxy()
		}

		if l := nm.limiter(reqURL.Host); l != nil {
			if err := l.Wait(ctx); err != nil {
				return nil, err
			}
		}

		body, retry, err := nm.do(ctx, finalURL, headers)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !retry {
			return nil, err
		}
		nm.Logger.Debug("Request to %s failed (attempt %d/%d): %v", reqURL.Host, i+1, maxRetries+1, err)
	}

	if helpers.Kind(lastErr) == helpers.KindInternal {
		return nil, helpers.NewProviderError(reqURL.Host, 0, lastErr, "max retries exceeded")
	}
	return nil, lastErr
}

// -----------------------------------------------------------------------------

// do runs one attempt and reports whether a failure is worth retrying.
func (nm *AsyncNetworkManager) do(ctx context.Context, finalURL string, headers map[string]string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", nm.ProxyManager.GetUserAgent())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := nm.httpClient().Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	host := req.URL.Host

	switch {
	case resp.StatusCode == http.StatusOK:
		if readErr != nil {
			return nil, true, readErr
		}
		return body, false, nil

	case resp.StatusCode == http.StatusUnauthorized:
		return nil, false, helpers.NewUnauthorizedError("%s rejected the credentials (status 401)", host)

	case resp.StatusCode == http.StatusForbidden:
		// Behind rotating proxies a 403 is usually a block, not a bad key.
		if nm.ProxyManager.HasProxies() {
			return nil, true, helpers.NewProviderError(host, resp.StatusCode, nil, "blocked (status 403)")
		}
		return nil, false, helpers.NewUnauthorizedError("%s refused access (status 403)", host)

	case resp.StatusCode == http.StatusTooManyRequests:
		nm.Logger.Info("Request throttled by %s. Rotating proxy.", host)
		return nil, true, helpers.NewRateLimitError(retryAfter(resp.Header.Get("Retry-After")), "%s throttled the request (status 429)", host)

	case resp.StatusCode >= 500:
		return nil, true, helpers.NewProviderError(host, resp.StatusCode, nil, "bad status: %d", resp.StatusCode)
	}

	return nil, false, helpers.NewProviderError(host, resp.StatusCode, nil, "bad status: %d: %s", resp.StatusCode, snippet(body))
}

// -----------------------------------------------------------------------------

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// -----------------------------------------------------------------------------

func snippet(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return fmt.Sprintf("%s...", body[:limit])
	}
	return string(body)
}
