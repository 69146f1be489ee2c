package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"sourcer/internal/shared/logging"
)

// ProxyModeEnv selects the proxy policy: auto (default), strict or direct.
const ProxyModeEnv = "SOURCER_PROXY_MODE"

const proxyDialTimeout = 300 * time.Millisecond

type proxyMode uint8

const (
	proxyModeAuto proxyMode = iota
	proxyModeStrict
	proxyModeDirect
)

var (
	// loopback proxies that refused a dial; true means bypass.
	bypassCache sync.Map
	warned      sync.Map
)

func currentProxyMode() proxyMode {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(ProxyModeEnv))) {
	case "strict":
		return proxyModeStrict
	case "direct", "none", "off":
		return proxyModeDirect
	default:
		return proxyModeAuto
	}
}

// proxyFunc honours HTTP(S)_PROXY and NO_PROXY, but in auto mode skips a
// loopback proxy that is not listening, which is the usual state of a
// desktop machine whose proxy app is closed.
func proxyFunc(logger logging.Logger) func(*http.Request) (*url.URL, error) {
	log := logging.OrNop(logger)
	return func(req *http.Request) (*url.URL, error) {
		switch currentProxyMode() {
		case proxyModeDirect:
			return nil, nil
		case proxyModeStrict:
			return http.ProxyFromEnvironment(req)
		}
		if req == nil || req.URL == nil {
			return http.ProxyFromEnvironment(req)
		}
		if isLoopbackHost(req.URL.Hostname()) {
			return nil, nil
		}
		proxyURL, err := http.ProxyFromEnvironment(req)
		if proxyURL == nil || err != nil || !isLoopbackHost(proxyURL.Hostname()) {
			return proxyURL, err
		}

		key := proxyURL.String()
		if bypass, ok := bypassCache.Load(key); ok {
			if bypass.(bool) {
				return nil, nil
			}
			return proxyURL, nil
		}
		if dialable(req.Context(), proxyURL) {
			bypassCache.Store(key, false)
			return proxyURL, nil
		}
		bypassCache.Store(key, true)
		if _, loaded := warned.LoadOrStore(key, struct{}{}); !loaded {
			log.Warn("Local proxy %s is unreachable; connecting directly (set %s=strict to disable).", proxyURL.Redacted(), ProxyModeEnv)
		}
		return nil, nil
	}
}

func isLoopbackHost(host string) bool {
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

func dialable(ctx context.Context, proxyURL *url.URL) bool {
	port := proxyURL.Port()
	if port == "" {
		switch strings.ToLower(proxyURL.Scheme) {
		case "https":
			port = "443"
		case "socks5", "socks5h":
			port = "1080"
		default:
			port = "80"
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	dialer := net.Dialer{Timeout: proxyDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(proxyURL.Hostname(), port))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
