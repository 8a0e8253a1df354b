package ratelimit

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientKey(t *testing.T) {
	t.Parallel()

	fn := ClientKey("X-Client-ID")

	tests := []struct {
		name     string
		in       KeyInput
		expected string
	}{
		{
			name:     "header wins",
			in:       KeyInput{Subject: "alice", RemoteAddr: "10.0.0.1:5555", Headers: http.Header{"X-Client-Id": {"mobile-app"}}},
			expected: "hdr:mobile-app",
		},
		{
			name:     "subject when header missing",
			in:       KeyInput{Subject: "alice", RemoteAddr: "10.0.0.1:5555", Headers: http.Header{}},
			expected: "sub:alice",
		},
		{
			name:     "remote ip fallback",
			in:       KeyInput{RemoteAddr: "10.0.0.1:5555"},
			expected: "ip:10.0.0.1",
		},
		{
			name:     "remote addr without port",
			in:       KeyInput{RemoteAddr: "10.0.0.2"},
			expected: "ip:10.0.0.2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, fn(tt.in))
		})
	}
}

func TestKeyFuncFor(t *testing.T) {
	t.Parallel()

	in := KeyInput{Route: "orders", Subject: "bob", RemoteAddr: "[::1]:80"}

	tests := []struct {
		scope    Scope
		expected string
	}{
		{ScopeGlobal, "global"},
		{"", "global"},
		{ScopeClient, "sub:bob"},
		{ScopeRoute, "route:orders"},
		{ScopeRouteClient, "route:orders:sub:bob"},
	}

	for _, tt := range tests {
		t.Run(string(tt.scope), func(t *testing.T) {
			t.Parallel()

			fn, err := KeyFuncFor(tt.scope, "")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, fn(in))
		})
	}

	_, err := KeyFuncFor("planet", "")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRouteKey_NoRoute(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "route:default", RouteKey(nil)(KeyInput{}))
	assert.Equal(t, "::1", ClientIP("[::1]:80"))
}

func TestOwnedKey(t *testing.T) {
	t.Parallel()

	in := KeyInput{RemoteAddr: "10.0.0.1:80"}
	client := ClientKey("")

	global := OwnedKey("global", client)(in)
	route := OwnedKey("route:public", client)(in)

	assert.Equal(t, "global|ip:10.0.0.1", global)
	assert.Equal(t, "route:public|ip:10.0.0.1", route)
	assert.NotEqual(t, global, route)
}
