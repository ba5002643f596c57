// Package service contains the producer-facing application logic: job
// creation with policy defaults, deduplicated find-or-create, the result
// cache, and owner-scoped reads. It coordinates the job store and the
// lifecycle manager without owning either; transitions stay behind the
// manager so every state change publishes the same events.
//
// Expected failures are sentinel errors (ErrJobNotFound, ErrRateLimited,
// ...) checked with errors.Is; everything else is wrapped in a
// JobServiceError carrying the failing operation.
package service
