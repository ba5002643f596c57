// Package domain contains the core entities and domain logic of the job
// engine: jobs, their lifecycle states, and their append-only log entries.
// It is independent of any storage or delivery mechanism.
package domain
