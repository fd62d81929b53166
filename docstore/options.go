package docstore

import (
	"strings"
)

// ContextOptions holds the per-context configuration that is registered once per context id.
//
// ContextOptions is immutable after construction; use NewContextOptions to build one.
type ContextOptions struct {
	contextID              string
	acceptAllChangesOnSave bool
	maxConcurrentRequests  int
}

// ContextOption defines a functional option for configuring ContextOptions.
type ContextOption func(*ContextOptions)

// NewContextOptions builds ContextOptions for the given context id.
//
// Deferred writes (AcceptAllChangesOnSave) are enabled by default.
// Returns ErrEmptyContextID if contextID is empty or only whitespace.
func NewContextOptions(contextID string, options ...ContextOption) (*ContextOptions, error) {
	if strings.TrimSpace(contextID) == "" {
		return nil, ErrEmptyContextID
	}

	o := &ContextOptions{
		contextID:              contextID,
		acceptAllChangesOnSave: true,
	}

	for _, option := range options {
		option(o)
	}

	return o, nil
}

// WithAcceptAllChangesOnSave selects the write-execution policy.
// true buffers every write until SaveChanges (deferred mode), false executes writes immediately.
func WithAcceptAllChangesOnSave(accept bool) ContextOption {
	return func(o *ContextOptions) {
		o.acceptAllChangesOnSave = accept
	}
}

// WithMaxConcurrentRequests sets the admission-control bound for the cluster this context talks to.
// Zero selects the default derived from the driver pool size, a negative value disables throttling.
func WithMaxConcurrentRequests(max int) ContextOption {
	return func(o *ContextOptions) {
		o.maxConcurrentRequests = max
	}
}

// ContextID returns the context id as supplied.
func (o *ContextOptions) ContextID() string {
	return o.contextID
}

// Key returns the case-insensitive registry key of the context id.
func (o *ContextOptions) Key() string {
	return NormalizeKey(o.contextID)
}

// AcceptAllChangesOnSave reports whether writes are deferred until SaveChanges.
func (o *ContextOptions) AcceptAllChangesOnSave() bool {
	return o.acceptAllChangesOnSave
}

// MaxConcurrentRequests returns the configured bound as supplied (zero means "derive from pool size").
func (o *ContextOptions) MaxConcurrentRequests() int {
	return o.maxConcurrentRequests
}

// EffectiveMaxConcurrentRequests resolves the admission-control bound for a driver pool of the given size.
// An unset (zero) bound defaults to max(poolSize/2, 1); a negative bound is returned as is and means unbounded.
func (o *ContextOptions) EffectiveMaxConcurrentRequests(poolSize int) int {
	if o.maxConcurrentRequests != 0 {
		return o.maxConcurrentRequests
	}

	return max(poolSize/2, 1)
}

// NormalizeKey returns the case-insensitive form of a registry key component.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
