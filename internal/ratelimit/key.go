package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// KeyInput is what a KeyFunc may look at when selecting a limiter.
type KeyInput struct {
	// Route is the name of the matched route, empty if none matched.
	Route string

	// Subject is the authenticated subject, empty for anonymous requests.
	Subject string

	// RemoteAddr is the peer address in host:port or host form.
	RemoteAddr string

	// Headers are the inbound request headers.
	Headers http.Header
}

// KeyFunc extracts a rate limit key.
type KeyFunc func(in KeyInput) string

// Scope selects how requests share a limiter.
type Scope string

const (
	// ScopeGlobal shares one limiter between all requests.
	ScopeGlobal Scope = "global"

	// ScopeClient gives every client its own limiter.
	ScopeClient Scope = "client"

	// ScopeRoute gives every route its own limiter.
	ScopeRoute Scope = "route"

	// ScopeRouteClient gives every client its own limiter per route.
	ScopeRouteClient Scope = "route_client"
)

// GlobalKey returns the same key for every request.
func GlobalKey(KeyInput) string {
	return "global"
}

// ClientKey identifies the client by the given header, then by the
// authenticated subject, then by the remote IP.
func ClientKey(header string) KeyFunc {
	return func(in KeyInput) string {
		if header != "" && in.Headers != nil {
			if v := strings.TrimSpace(in.Headers.Get(header)); v != "" {
				return "hdr:" + v
			}
		}
		if in.Subject != "" {
			return "sub:" + in.Subject
		}
		return "ip:" + ClientIP(in.RemoteAddr)
	}
}

// RouteKey prefixes the inner key with the matched route.
func RouteKey(inner KeyFunc) KeyFunc {
	return func(in KeyInput) string {
		route := in.Route
		if route == "" {
			route = "default"
		}
		if inner == nil {
			return "route:" + route
		}
		return "route:" + route + ":" + inner(in)
	}
}

// OwnedKey prefixes the inner key with owner and a "|" separator.
func OwnedKey(owner string, inner KeyFunc) KeyFunc {
	return func(in KeyInput) string {
		return owner + "|" + inner(in)
	}
}

// KeyFuncFor returns the KeyFunc of scope.
func KeyFuncFor(scope Scope, clientHeader string) (KeyFunc, error) {
	switch scope {
	case ScopeGlobal, "":
		return GlobalKey, nil
	case ScopeClient:
		return ClientKey(clientHeader), nil
	case ScopeRoute:
		return RouteKey(nil), nil
	case ScopeRouteClient:
		return RouteKey(ClientKey(clientHeader)), nil
	default:
		return nil, fmt.Errorf("%w: unknown key scope %q", ErrInvalidConfig, scope)
	}
}

// ClientIP strips the port from a remote address.
func ClientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
