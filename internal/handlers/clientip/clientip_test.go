package clientip

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolver_Resolve(t *testing.T) {
	rs, err := NewResolver([]string{"10.0.0.0/8", "192.168.1.1"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{"remote addr", nil, "203.0.113.7:5555", "203.0.113.7"},
		{"remote addr without port", nil, "203.0.113.7", "203.0.113.7"},
		{"untrusted peer can not forward", map[string]string{"X-Forwarded-For": "1.1.1.1"}, "203.0.113.7:5555", "203.0.113.7"},
		{"untrusted peer can not set real ip", map[string]string{"X-Real-IP": "2.2.2.2"}, "203.0.113.7:5555", "203.0.113.7"},
		{"trusted peer forwards", map[string]string{"X-Forwarded-For": "1.1.1.1"}, "192.168.1.1:5555", "1.1.1.1"},
		{"rightmost untrusted hop", map[string]string{"X-Forwarded-For": "6.6.6.6, 1.1.1.1, 10.0.0.2"}, "192.168.1.1:5555", "1.1.1.1"},
		{"all hops trusted", map[string]string{"X-Forwarded-For": "10.0.0.3, 10.0.0.2"}, "192.168.1.1:5555", "10.0.0.3"},
		{"garbage hop stops the walk", map[string]string{"X-Forwarded-For": "1.1.1.1, nonsense, 10.0.0.2"}, "192.168.1.1:5555", "10.0.0.2"},
		{"real ip from trusted peer", map[string]string{"X-Real-IP": "2.2.2.2"}, "192.168.1.1:5555", "2.2.2.2"},
		{"forwarded wins over real ip", map[string]string{"X-Forwarded-For": "1.1.1.1", "X-Real-IP": "2.2.2.2"}, "192.168.1.1:5555", "1.1.1.1"},
		{"invalid real ip", map[string]string{"X-Real-IP": "nonsense"}, "192.168.1.1:5555", "192.168.1.1"},
		{"mapped peer is trusted", map[string]string{"X-Forwarded-For": "1.1.1.1"}, "[::ffff:10.1.2.3]:5555", "1.1.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}

			require.Equal(t, tt.expected, rs.Resolve(r))
		})
	}
}

func TestResolver_ForwardedHeaderRepeated(t *testing.T) {
	rs, err := NewResolver([]string{"10.0.0.1"})
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	r.Header.Add("X-Forwarded-For", "6.6.6.6")
	r.Header.Add("X-Forwarded-For", "1.1.1.1")

	require.Equal(t, "1.1.1.1", rs.Resolve(r))
}

func TestResolver_NobodyTrusted(t *testing.T) {
	for _, rs := range []*Resolver{nil, {}} {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "127.0.0.1:5555"
		r.Header.Set("X-Forwarded-For", "1.1.1.1")
		r.Header.Set("X-Real-IP", "2.2.2.2")

		require.Equal(t, "127.0.0.1", rs.Resolve(r))
	}
}

func TestNewResolver(t *testing.T) {
	_, err := NewResolver([]string{"", " 127.0.0.1 ", "::1", "172.16.0.0/12"})
	require.NoError(t, err)

	_, err = NewResolver([]string{"localhost"})
	require.Error(t, err)

	_, err = NewResolver([]string{"10.0.0.0/33"})
	require.Error(t, err)
}

func TestFromRequest(t *testing.T) {
	t.Run("peer without middleware", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "203.0.113.7:5555"
		r.Header.Set("X-Forwarded-For", "1.1.1.1")

		require.Equal(t, "203.0.113.7", FromRequest(r))
	})

	t.Run("resolved by middleware", func(t *testing.T) {
		rs, err := NewResolver([]string{"203.0.113.7"})
		require.NoError(t, err)

		var got string
		h := Middleware(rs)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = FromRequest(r)
		}))

		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "203.0.113.7:5555"
		r.Header.Set("X-Forwarded-For", "1.1.1.1")
		h.ServeHTTP(httptest.NewRecorder(), r)

		require.Equal(t, "1.1.1.1", got)
	})
}
