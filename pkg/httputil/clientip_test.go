package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name     string
		trusted  []string
		remote   string
		headers  map[string]string
		expected string
	}{
		{
			name:     "remote addr",
			remote:   "10.0.0.1:5555",
			expected: "10.0.0.1",
		},
		{
			name:     "ipv6",
			remote:   "[::1]:8080",
			expected: "::1",
		},
		{
			name:     "forwarded for ignored without trusted proxies",
			remote:   "198.51.100.7:4000",
			headers:  map[string]string{"X-Forwarded-For": "203.0.113.9"},
			expected: "198.51.100.7",
		},
		{
			name:     "real ip ignored from untrusted peer",
			trusted:  []string{"10.0.0.0/8"},
			remote:   "198.51.100.7:4000",
			headers:  map[string]string{"X-Real-IP": "203.0.113.9"},
			expected: "198.51.100.7",
		},
		{
			name:     "forwarded for from trusted proxy",
			trusted:  []string{"10.0.0.0/8"},
			remote:   "10.0.0.2:4000",
			headers:  map[string]string{"X-Forwarded-For": "203.0.113.9"},
			expected: "203.0.113.9",
		},
		{
			name:     "rightmost untrusted hop wins",
			trusted:  []string{"10.0.0.0/8"},
			remote:   "10.0.0.2:4000",
			headers:  map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.9, 10.0.0.5"},
			expected: "203.0.113.9",
		},
		{
			name:     "garbage hop stops the walk",
			trusted:  []string{"10.0.0.2"},
			remote:   "10.0.0.2:4000",
			headers:  map[string]string{"X-Forwarded-For": "not-an-ip"},
			expected: "10.0.0.2",
		},
		{
			name:     "real ip from trusted proxy",
			trusted:  []string{"10.0.0.0/8"},
			remote:   "10.0.0.2:4000",
			headers:  map[string]string{"X-Real-IP": "198.51.100.4"},
			expected: "198.51.100.4",
		},
	}

	defer SetTrustedProxies(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, SetTrustedProxies(tt.trusted))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, ClientIP(req))
		})
	}
}

func TestSetTrustedProxies_Invalid(t *testing.T) {
	defer SetTrustedProxies(nil)
	assert.Error(t, SetTrustedProxies([]string{"10.0.0.0/33"}))
	assert.Error(t, SetTrustedProxies([]string{"proxy.internal"}))
}
