// Package youtube provides YouTube metadata lookup, search and stream URL
// extraction.
package youtube

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/net/proxy"
)

// ErrNoResults is returned when a lookup or search finds nothing playable.
var ErrNoResults = errors.New("no results")

const httpTimeout = 15 * time.Second

// newHTTPClient returns an HTTP client that routes through proxyURL when set.
// http, https and socks5 proxies are supported.
func newHTTPClient(proxyURL string) (*http.Client, error) {
	if proxyURL == "" {
		return &http.Client{Timeout: httpTimeout}, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid proxy url")
	}

	var transport *http.Transport
	switch u.Scheme {
	case "http", "https":
		transport = &http.Transport{Proxy: http.ProxyURL(u)}
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(u, &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 10 * time.Second,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create socks5 dialer")
		}
		transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := dialer.(proxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			},
		}
	default:
		return nil, errors.Newf("unsupported proxy scheme: %s", u.Scheme)
	}

	return &http.Client{Timeout: httpTimeout, Transport: transport}, nil
}
