// Package redis provides Redis-backed transports for cross-process
// concerns: publishing job lifecycle events between server instances and
// token-bucket state for API rate limiting. All components are optional;
// a single-instance deployment runs without Redis.
package redis
