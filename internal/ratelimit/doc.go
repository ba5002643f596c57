// Package ratelimit provides per-owner request rate limiting for the API.
//
// Two implementations back the same Limiter interface: a Redis token bucket
// shared across server instances, and an in-process limiter for deployments
// that run a single instance without Redis. Limiting applies to API request
// admission only; the per-owner active job ceiling is enforced separately by
// the store's create operations.
package ratelimit
