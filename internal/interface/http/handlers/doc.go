// Package handlers holds the reusable pieces of the HTTP layer: bearer token
// identity, request middleware and health checks. Route handlers live in the
// parent package next to the router.
package handlers
