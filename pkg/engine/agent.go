package engine

import (
	"sort"
	"sync"
)

// Well-known agent service names.
const (
	ServiceTrust        = "trust.service"
	ServiceTrustStores  = "trust.stores"
	ServiceRepositories = "repository.source"
	ServiceUnsigned     = "trust.unsigned.policy"
)

// Stopper is implemented by services that release resources on Agent.Stop.
type Stopper interface {
	Stop()
}

// Agent is the service registry shared by the components of a transaction.
type Agent struct {
	mu       sync.RWMutex
	services map[string]interface{}
	stopped  bool
}

// NewAgent creates an empty agent.
func NewAgent() *Agent {
	return &Agent{services: make(map[string]interface{})}
}

// RegisterService binds name to svc, replacing any previous binding.
func (a *Agent) RegisterService(name string, svc interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.services[name] = svc
}

// UnregisterService removes a binding.
func (a *Agent) UnregisterService(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.services, name)
}

// Service returns the service bound to name, or nil. A nil agent has no services.
func (a *Agent) Service(name string) interface{} {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.stopped {
		return nil
	}
	return a.services[name]
}

// Services returns the registered names, sorted.
func (a *Agent) Services() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.services))
	for name := range a.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stop stops every registered Stopper in name order and releases all services.
func (a *Agent) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	services := a.services
	a.services = make(map[string]interface{})
	a.mu.Unlock()

	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if s, ok := services[name].(Stopper); ok {
			s.Stop()
		}
	}
}
