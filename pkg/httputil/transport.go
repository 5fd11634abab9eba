package httputil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/dnscache"
)

// DNSRefreshInterval is how often cached host lookups are refreshed.
const DNSRefreshInterval = 5 * time.Minute

var sharedResolver = sync.OnceValue(func() *dnscache.Resolver {
	r := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(DNSRefreshInterval)
		defer ticker.Stop()
		for range ticker.C {
			r.Refresh(true)
		}
	}()
	return r
})

// NewTransport returns an HTTP transport that caches DNS lookups, so the
// many downloads against a few release hosts resolve each host once.
func NewTransport() *http.Transport {
	resolver := sharedResolver()
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var lastErr error
			for _, ip := range ips {
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
				if err == nil {
					return conn, nil
				}
				lastErr = err
			}
			return nil, fmt.Errorf("dial %s: no reachable address: %w", host, lastErr)
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
