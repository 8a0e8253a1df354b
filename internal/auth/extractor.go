package auth

import (
	"strings"
)

const bearerPrefix = "Bearer "

// ExtractBearer returns the credential of an Authorization header value.
// The scheme is matched case-insensitively. ok is false when the header is
// empty or uses another scheme; a bearer header with an empty credential
// returns ok with an empty token, which fails validation.
func ExtractBearer(authorization string) (token string, ok bool) {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return "", false
	}
	if len(authorization) < len(bearerPrefix) {
		if strings.EqualFold(authorization, strings.TrimSpace(bearerPrefix)) {
			return "", true
		}
		return "", false
	}
	if !strings.EqualFold(authorization[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	return strings.TrimSpace(authorization[len(bearerPrefix):]), true
}
