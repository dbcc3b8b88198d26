// Package download fetches artifact requests from an ordered set of
// repositories with graceful partial success.
package download

import (
	"context"
	"sync"

	"github.com/openfroyo/provengine/pkg/metadata"
	"github.com/openfroyo/provengine/pkg/progress"
	"github.com/openfroyo/provengine/pkg/status"
)

// Request asks for one artifact to be written to Destination. Each request
// carries its own result slot, written by the repository that served it.
type Request struct {
	Key         metadata.ArtifactKey
	Destination string

	mu     sync.Mutex
	result *status.Status
}

// NewRequest creates a request for key.
func NewRequest(key metadata.ArtifactKey, destination string) *Request {
	return &Request{Key: key, Destination: destination}
}

// Result returns the outcome of the last fetch attempt, or nil if the
// request was never attempted.
func (r *Request) Result() *status.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// SetResult records the outcome of a fetch attempt. Safe for concurrent use.
func (r *Request) SetResult(st *status.Status) {
	r.mu.Lock()
	r.result = st
	r.mu.Unlock()
}

// Fetched reports whether the request completed successfully.
func (r *Request) Fetched() bool {
	res := r.Result()
	return res != nil && res.IsOK()
}

// Repository serves artifacts.
type Repository interface {
	// Location identifies the repository in logs and metrics.
	Location() string

	// Contains reports whether the repository can serve key.
	Contains(key metadata.ArtifactKey) bool

	// Fetch serves requests, setting each request's result. Implementations
	// may process requests concurrently.
	Fetch(requests []*Request, m *progress.Monitor) *status.Status
}

// RepositorySource resolves the candidate repositories for a transaction.
type RepositorySource interface {
	Repositories(ctx context.Context) ([]Repository, error)
}

// StaticSource is a fixed, ordered list of repositories.
type StaticSource []Repository

// Repositories implements RepositorySource.
func (s StaticSource) Repositories(context.Context) ([]Repository, error) {
	return append([]Repository(nil), s...), nil
}
