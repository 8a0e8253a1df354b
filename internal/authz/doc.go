// Package authz decides whether an authenticated request may use a route.
//
// A route may require a token, a set of scopes and a CEL condition, checked
// in that order. Example conditions:
//
//	token.sub == request.params.id
//	"admin" in token.scopes || request.method == "GET"
//	ip_in_range(request.remote_addr, "10.0.0.0/8")
//
// Errors wrap util.ErrMissingToken or util.ErrForbidden. A condition that
// fails to evaluate denies the request.
package authz
