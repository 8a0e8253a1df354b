// Package auth validates and issues bearer tokens.
//
// Tokens use the JWS compact serialization (header.payload.signature,
// base64url without padding) signed with HMAC-SHA256. The payload carries:
//
//	sub     subject (required)
//	exp     expiry, seconds since the epoch (required)
//	iat     issued at
//	iss     issuer
//	scope   space separated scopes
//	scopes  scopes as an array; merged with scope
//
// Validator checks structure, algorithm, signature (constant time), required
// claims and expiry with an optional clock skew. Failures wrap
// util.ErrInvalidToken, or util.ErrExpiredToken for an expired but otherwise
// valid token. Signer mints compatible tokens.
package auth
