// Package task defines the contract between the job engine and the code
// that actually performs work. A Handler implements one job type, a
// Registry holds the closed set of types a deployment accepts, and a
// Context gives a running handler its job snapshot plus progress, log,
// and cancellation facilities. The engine never interprets params or
// results; both are opaque JSON owned by the handler.
package task
