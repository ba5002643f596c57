// Package events provides job lifecycle event types and publishing.
//
// Every applied job transition produces a JobEvent that is published to the
// owner's topic. Publishing is best-effort and at-most-once: a failed or
// dropped publish never fails the transition that produced it, and consumers
// reconcile authoritative state by re-reading the job.
//
// The primary components are:
// - JobEvent: a snapshot of a job after an applied transition
// - Publisher: interface for event transports
// - Broker: in-process fan-out to per-owner subscribers
package events
