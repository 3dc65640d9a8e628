package runner

import (
	"context"
	"log/slog"
)

// JobResolver looks up the numeric id for a job name.
type JobResolver interface {
	ResolveJobID(ctx context.Context, name string) (string, error)
}

// IdentityResolver swaps a job name for its numeric id when the backend
// knows one. It never fails: the name is a valid key for every endpoint.
type IdentityResolver struct {
	backend JobResolver
}

func NewIdentityResolver(backend JobResolver) *IdentityResolver {
	return &IdentityResolver{backend: backend}
}

// Resolve calls the backend once and returns the resolved id, or current
// unchanged when the call fails or the answer is not a positive integer.
func (r *IdentityResolver) Resolve(ctx context.Context, current string) string {
	resolved, err := r.backend.ResolveJobID(ctx, current)
	if err != nil {
		slog.Info("Job id resolution failed, keeping name", "jobId", current, "error", err)
		return current
	}

	if !isPositiveInteger(resolved) {
		slog.Info("Job id resolution returned no numeric id", "jobId", current, "value", resolved)
		return current
	}
	return resolved
}

// isPositiveInteger accepts a non-empty run of ASCII digits that is not zero.
// Surrounding whitespace is rejected.
func isPositiveInteger(s string) bool {
	if s == "" {
		return false
	}
	nonZero := false
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
		if c != '0' {
			nonZero = true
		}
	}
	return nonZero
}
