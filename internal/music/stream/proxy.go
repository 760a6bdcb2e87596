package stream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	_ "github.com/bdandy/go-socks4" // registers socks4 with x/net/proxy
	youtube "github.com/kkdai/youtube/v2"
	"golang.org/x/net/proxy"
)

const clientTimeout = 15 * time.Second

// NewYouTubeClient builds the client used for metadata and stream URLs.
// proxyStr may be empty or an http, https, socks5 or socks4 URL.
func NewYouTubeClient(proxyStr string) (*youtube.Client, error) {
	transport, err := proxyTransport(proxyStr)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: clientTimeout}
	if transport != nil {
		httpClient.Transport = transport
	}
	return &youtube.Client{HTTPClient: httpClient}, nil
}

func proxyTransport(proxyStr string) (*http.Transport, error) {
	if proxyStr == "" {
		return nil, nil
	}

	proxyURL, err := url.Parse(proxyStr)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy format: %w", err)
	}

	switch proxyURL.Scheme {
	case "http", "https":
		return &http.Transport{Proxy: http.ProxyURL(proxyURL)}, nil
	case "socks5", "socks4":
		dialer, err := proxy.FromURL(proxyURL, &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 10 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("%s dialer: %w", proxyURL.Scheme, err)
		}
		return &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := dialer.(proxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %q", proxyURL.Scheme)
	}
}
