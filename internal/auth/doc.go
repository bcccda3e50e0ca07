// Package auth verifies bearer tokens for telemetry publishers.
//
// Tokens are JWTs signed with HS256 (shared secret) or RS256 (PEM public
// key). A token must carry a subject and, for submission routes, the
// telemetry:write scope. Stream and roster routes are public.
package auth
