// Package http builds the outbound HTTP clients used by the webhook
// notifier and the report archive uploaders.
package http

import (
	"crypto/tls"
	"fmt"
	"net"
	nethttp "net/http"
	"net/url"
	"strings"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"golang.org/x/net/http/httpproxy"
	"golang.org/x/net/http2"

	"github.com/GenomiqueENS/aozan/internal/config"
	"github.com/GenomiqueENS/aozan/internal/constants"
	"github.com/GenomiqueENS/aozan/internal/logging"
)

// defaultProxyPort is used when a proxy host is given without a port.
const defaultProxyPort = 8080

// NewClient returns a client honouring the proxy configuration. A nil logger
// disables proxy routing logs.
func NewClient(proxy config.ProxyConfig, logger *logging.Logger) (*nethttp.Client, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	transport := newTransport()
	client := &nethttp.Client{
		Transport: transport,
		Timeout:   constants.HTTPClientTimeout,
	}

	switch strings.ToLower(proxy.Mode) {
	case config.ProxyModeNone, "":
		transport.Proxy = nil
		// HTTP/2 only without a proxy; proxies tend to break multiplexed streams.
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, fmt.Errorf("failed to enable HTTP/2: %w", err)
		}

	case config.ProxyModeSystem:
		transport.Proxy = nethttp.ProxyFromEnvironment

	case config.ProxyModeBasic, config.ProxyModeNTLM:
		if proxy.Host == "" {
			logger.Warn().Str("mode", proxy.Mode).Msg("Proxy host is missing, connecting directly")
			transport.Proxy = nil
			break
		}
		if proxy.User != "" && proxy.Password == "" {
			logger.Warn().Str("user", proxy.User).Msg("Proxy user set without password, proxy authentication disabled")
		}
		transport.Proxy = proxyFuncWithBypass(ProxyURL(proxy), proxy.NoProxy, logger)
		if strings.ToLower(proxy.Mode) == config.ProxyModeNTLM {
			client.Transport = ntlmssp.Negotiator{RoundTripper: transport}
		}

	default:
		return nil, fmt.Errorf("unsupported proxy mode: %s", proxy.Mode)
	}

	return client, nil
}

func newTransport() *nethttp.Transport {
	return &nethttp.Transport{
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: constants.HTTPDialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout: constants.HTTPTLSHandshakeTimeout,
	}
}

// ProxyURL builds the proxy URL of a basic or NTLM proxy. Credentials are
// embedded only when both user and password are set.
func ProxyURL(proxy config.ProxyConfig) *url.URL {
	port := proxy.Port
	if port == 0 {
		port = defaultProxyPort
	}

	u := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", proxy.Host, port),
	}
	if proxy.User != "" && proxy.Password != "" {
		u.User = url.UserPassword(proxy.User, proxy.Password)
	}
	return u
}

// proxyFuncWithBypass routes requests through proxyURL except for hosts
// matched by the comma separated noProxy list.
func proxyFuncWithBypass(proxyURL *url.URL, noProxy string, logger *logging.Logger) func(*nethttp.Request) (*url.URL, error) {
	if noProxy == "" {
		return nethttp.ProxyURL(proxyURL)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	cfg := httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}
	proxyFunc := cfg.ProxyFunc()
	return func(req *nethttp.Request) (*url.URL, error) {
		result, err := proxyFunc(req.URL)
		if result == nil {
			logger.Debug().Str("host", req.URL.Host).Msg("Proxy bypass")
		}
		return result, err
	}
}
