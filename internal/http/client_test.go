package http

import (
	nethttp "net/http"
	"net/url"
	"testing"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GenomiqueENS/aozan/internal/config"
)

func TestNewClient(t *testing.T) {
	t.Run("NoProxy", func(t *testing.T) {
		client, err := NewClient(config.ProxyConfig{Mode: config.ProxyModeNone}, nil)
		require.NoError(t, err)
		tr, ok := client.Transport.(*nethttp.Transport)
		require.True(t, ok)
		assert.Nil(t, tr.Proxy)
	})

	t.Run("System", func(t *testing.T) {
		client, err := NewClient(config.ProxyConfig{Mode: config.ProxyModeSystem}, nil)
		require.NoError(t, err)
		tr, ok := client.Transport.(*nethttp.Transport)
		require.True(t, ok)
		assert.NotNil(t, tr.Proxy)
	})

	t.Run("BasicWithoutHost", func(t *testing.T) {
		client, err := NewClient(config.ProxyConfig{Mode: config.ProxyModeBasic}, nil)
		require.NoError(t, err)
		tr, ok := client.Transport.(*nethttp.Transport)
		require.True(t, ok)
		assert.Nil(t, tr.Proxy)
	})

	t.Run("Basic", func(t *testing.T) {
		client, err := NewClient(config.ProxyConfig{Mode: config.ProxyModeBasic, Host: "proxy.corp", Port: 3128}, nil)
		require.NoError(t, err)
		tr, ok := client.Transport.(*nethttp.Transport)
		require.True(t, ok)

		req, _ := nethttp.NewRequest("POST", "https://hooks.example.org/aozan", nil)
		proxied, err := tr.Proxy(req)
		require.NoError(t, err)
		assert.Equal(t, "proxy.corp:3128", proxied.Host)
	})

	t.Run("NTLM", func(t *testing.T) {
		client, err := NewClient(config.ProxyConfig{Mode: config.ProxyModeNTLM, Host: "proxy.corp"}, nil)
		require.NoError(t, err)
		_, ok := client.Transport.(ntlmssp.Negotiator)
		assert.True(t, ok)
	})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := NewClient(config.ProxyConfig{Mode: "socks"}, nil)
		assert.Error(t, err)
	})
}

func TestProxyURL(t *testing.T) {
	u := ProxyURL(config.ProxyConfig{Host: "proxy.corp"})
	assert.Equal(t, "http://proxy.corp:8080", u.String())

	u = ProxyURL(config.ProxyConfig{Host: "proxy.corp", Port: 3128, User: "seq"})
	assert.Nil(t, u.User)

	u = ProxyURL(config.ProxyConfig{Host: "proxy.corp", Port: 3128, User: "seq", Password: "secret"})
	assert.Equal(t, "seq", u.User.Username())
}

func TestProxyFuncWithBypass(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.corp:8080")

	cases := []struct {
		name    string
		noProxy string
		target  string
		direct  bool
	}{
		{"EmptyNoProxy", "", "https://hooks.example.org/x", false},
		{"Wildcard", "*.example.org", "https://hooks.example.org/x", true},
		{"Domain", "example.org", "https://example.org/x", true},
		{"Unlisted", "example.org", "https://s3.amazonaws.com/x", false},
		{"CIDR", "10.0.0.0/8", "http://10.1.2.3/x", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			proxyFunc := proxyFuncWithBypass(proxyURL, tc.noProxy, nil)
			req, _ := nethttp.NewRequest("GET", tc.target, nil)
			result, err := proxyFunc(req)
			require.NoError(t, err)
			if tc.direct {
				assert.Nil(t, result)
			} else {
				require.NotNil(t, result)
				assert.Equal(t, "proxy.corp:8080", result.Host)
			}
		})
	}
}
