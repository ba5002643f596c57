// Package memory provides a mutex-guarded in-memory implementation of the
// store interfaces. It backs single-process deployments and lets the engine
// packages be tested without a database; every operation is individually
// atomic under one lock, mirroring the conditional updates of the postgres
// implementation.
package memory
