package engine

import (
	"context"
	"sync"

	"github.com/openfroyo/provengine/pkg/download"
)

// ProvisioningContext carries the repositories and properties a transaction
// may consult. It implements download.RepositorySource.
type ProvisioningContext struct {
	mu           sync.RWMutex
	repositories []download.Repository
	fallback     download.RepositorySource
	properties   map[string]string
}

// NewProvisioningContext creates a context serving repos in order.
func NewProvisioningContext(repos ...download.Repository) *ProvisioningContext {
	return &ProvisioningContext{
		repositories: repos,
		properties:   make(map[string]string),
	}
}

// ContextFromAgent creates a context whose repositories come from the
// agent's repository source service when none are set explicitly.
func ContextFromAgent(agent *Agent) *ProvisioningContext {
	pc := NewProvisioningContext()
	if src, ok := agent.Service(ServiceRepositories).(download.RepositorySource); ok {
		pc.fallback = src
	}
	return pc
}

// AddRepository appends a repository.
func (c *ProvisioningContext) AddRepository(repo download.Repository) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.repositories = append(c.repositories, repo)
}

// Repositories implements download.RepositorySource.
func (c *ProvisioningContext) Repositories(ctx context.Context) ([]download.Repository, error) {
	c.mu.RLock()
	repos := append([]download.Repository(nil), c.repositories...)
	fallback := c.fallback
	c.mu.RUnlock()

	if len(repos) == 0 && fallback != nil {
		return fallback.Repositories(ctx)
	}
	return repos, nil
}

// Property returns a context property.
func (c *ProvisioningContext) Property(key string) string {
	if c == nil {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.properties[key]
}

// SetProperty sets a context property.
func (c *ProvisioningContext) SetProperty(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.properties[key] = value
}
