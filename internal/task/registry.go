package task

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNilHandler is returned when a nil handler is registered.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrEmptyJobType is returned when a handler reports an empty job type.
	ErrEmptyJobType = errors.New("job type cannot be empty")
)

// Registry holds the closed set of job types a deployment accepts. Populate
// it during startup, before anything looks types up: lookups take no lock,
// so registration must not race serving.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler for its job type. Registering a second handler
// for the same type is an error.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	jobType := h.Type()
	if jobType == "" {
		return ErrEmptyJobType
	}
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("handler already registered for job type %q", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

// MustRegister is Register that panics on error, for wiring code where a
// bad registration is a programming mistake.
func (r *Registry) MustRegister(h Handler) {
	if err := r.Register(h); err != nil {
		panic(fmt.Sprintf("task: %v", err))
	}
}

// Get returns the handler for jobType, if one is registered.
func (r *Registry) Get(jobType string) (Handler, bool) {
	h, ok := r.handlers[jobType]
	return h, ok
}

// Has reports whether jobType is a registered type. The job service calls
// this at creation so unknown types are rejected before anything is stored.
func (r *Registry) Has(jobType string) bool {
	_, ok := r.handlers[jobType]
	return ok
}

// Types returns the registered job types in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for jobType := range r.handlers {
		types = append(types, jobType)
	}
	sort.Strings(types)
	return types
}

// TypeSet is a handler-free set of accepted job types. API instances use it
// to validate submissions for types whose handlers run elsewhere, so the
// server does not need every worker dependency just to accept a job.
type TypeSet map[string]struct{}

// NewTypeSet builds a TypeSet from the given job types.
func NewTypeSet(types ...string) TypeSet {
	s := make(TypeSet, len(types))
	for _, jobType := range types {
		s[jobType] = struct{}{}
	}
	return s
}

// Has reports whether jobType is in the set.
func (s TypeSet) Has(jobType string) bool {
	_, ok := s[jobType]
	return ok
}
