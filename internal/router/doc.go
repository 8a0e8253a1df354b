// Package router maps request paths and methods to destinations.
//
// Routes are evaluated in descending priority order; the first match wins and
// ties keep declaration order. Supported patterns:
//
//	prefix     /api             /api, /api/users (not /apiary)
//	exact      /health
//	parameter  /users/{id}      also /users/:id
//	wildcard   /files/*/meta    * is one segment, ** and a trailing /* match the rest
//	regex      ^/v[0-9]+/.*     named groups become path parameters
//
// The route table is immutable once published, so Resolve never blocks.
package router
