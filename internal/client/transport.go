package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kaonic/k1serial/internal/config"
	"golang.org/x/net/proxy"
)

// DefaultTimeout bounds a single request, upload included.
const DefaultTimeout = 60 * time.Second

// NewHTTPClient creates an HTTP client that honours the proxy settings.
// A nil proxy config yields a direct client.
func NewHTTPClient(timeout time.Duration, pc *config.ProxyConfig) (*http.Client, error) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if pc.HasProxy() {
		if err := configureProxy(transport, pc); err != nil {
			return nil, fmt.Errorf("configure proxy: %w", err)
		}
	}

	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

func configureProxy(transport *http.Transport, pc *config.ProxyConfig) error {
	// SOCKS5 wins over HTTP proxies.
	if pc.SOCKS5Proxy != "" {
		return configureSOCKS5(transport, pc.SOCKS5Proxy)
	}

	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		return proxyURL(req, pc)
	}
	return nil
}

func configureSOCKS5(transport *http.Transport, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse SOCKS5 proxy URL: %w", err)
	}

	var auth *proxy.Auth
	if u.User != nil {
		password, _ := u.User.Password()
		auth = &proxy.Auth{User: u.User.Username(), Password: password}
	}

	dialer, err := proxy.SOCKS5("tcp", u.Host, auth, proxy.Direct)
	if err != nil {
		return fmt.Errorf("create SOCKS5 dialer: %w", err)
	}

	if cd, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = cd.DialContext
		return nil
	}
	transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}
	return nil
}

func proxyURL(req *http.Request, pc *config.ProxyConfig) (*url.URL, error) {
	if bypassProxy(req.URL.Host, pc.NoProxy) {
		return nil, nil
	}

	raw := pc.HTTPProxy
	if req.URL.Scheme == "https" && pc.HTTPSProxy != "" {
		raw = pc.HTTPSProxy
	}
	if raw == "" {
		return nil, nil
	}
	return url.Parse(raw)
}

// bypassProxy matches host against a no_proxy list: exact names,
// ".suffix" entries, parent domains and "*".
func bypassProxy(host, noProxy string) bool {
	if noProxy == "" {
		return false
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)

	for _, pattern := range strings.Split(noProxy, ",") {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		switch {
		case pattern == "":
		case pattern == "*", host == pattern:
			return true
		case strings.HasPrefix(pattern, "."):
			if strings.HasSuffix(host, pattern) {
				return true
			}
		case strings.HasSuffix(host, "."+pattern):
			return true
		}
	}
	return false
}

// DescribeProxy returns a printable summary of pc with passwords masked.
func DescribeProxy(pc *config.ProxyConfig) string {
	if !pc.HasProxy() {
		return "direct"
	}

	var parts []string
	if pc.SOCKS5Proxy != "" {
		parts = append(parts, "socks5 "+maskProxyURL(pc.SOCKS5Proxy))
	}
	if pc.HTTPProxy != "" {
		parts = append(parts, "http "+maskProxyURL(pc.HTTPProxy))
	}
	if pc.HTTPSProxy != "" {
		parts = append(parts, "https "+maskProxyURL(pc.HTTPSProxy))
	}
	if pc.NoProxy != "" {
		parts = append(parts, "no_proxy "+pc.NoProxy)
	}
	return strings.Join(parts, ", ")
}

func maskProxyURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "****")
		}
	}
	return u.String()
}
