package turn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webrtc-broadcast-core/config"
)

func TestCredentialsDegradesToStunOnProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	conf := &config.ServerConfig{
		DynamicTURN: config.DynamicTURN{Endpoint: srv.URL, KeyID: "k", APIToken: "t"},
	}
	p := New(conf)

	servers := p.Credentials(context.Background())
	require.Len(t, servers, 1)
	assert.Contains(t, servers[0].URLs[0], "stun:")
}

func TestCredentialsTakesDynamicOverStatic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"iceServers":[{"urls":"turn:dynamic.example.com:3478","username":"u","credential":"p"}]}`))
	}))
	defer srv.Close()

	conf := &config.ServerConfig{
		StaticTURN:  config.StaticTURN{URL: "turn:static.example.com:3478", Username: "su", Password: "sp"},
		DynamicTURN: config.DynamicTURN{Endpoint: srv.URL, KeyID: "k", APIToken: "t"},
	}
	p := New(conf)

	servers := p.Credentials(context.Background())
	require.Len(t, servers, 1)
	assert.Equal(t, "turn:dynamic.example.com:3478", servers[0].URLs[0])
}

func TestRawURLsTolerateStringAndListShapes(t *testing.T) {
	for _, tc := range []struct {
		name string
		body string
		want []string
	}{
		{"string shape", `{"iceServers":[{"urls":"turn:a.example.com:3478"}]}`, []string{"turn:a.example.com:3478"}},
		{"list shape", `{"iceServers":[{"urls":["turn:a.example.com:3478","turn:b.example.com:3478"]}]}`, []string{"turn:a.example.com:3478", "turn:b.example.com:3478"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			conf := &config.ServerConfig{
				DynamicTURN: config.DynamicTURN{Endpoint: srv.URL, KeyID: "k", APIToken: "t"},
			}
			p := New(conf)

			servers := p.Credentials(context.Background())
			require.Len(t, servers, 1)
			assert.Equal(t, tc.want, servers[0].URLs)
		})
	}
}

func TestCredentialsFallsBackToStunWhenNothingConfigured(t *testing.T) {
	p := New(&config.ServerConfig{})
	servers := p.Credentials(context.Background())
	require.Len(t, servers, 1)
	assert.Contains(t, servers[0].URLs[0], "stun:")
}
