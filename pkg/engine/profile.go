package engine

import (
	"sort"
	"sync"

	"github.com/openfroyo/provengine/pkg/metadata"
)

// Profile is the installed configuration a transaction changes. Its methods
// are safe for concurrent use, but transactions against one profile must be
// serialized by the caller.
type Profile struct {
	mu         sync.RWMutex
	id         string
	properties map[string]string
	units      map[string]*metadata.Unit
}

// ProfileSnapshot is a point-in-time copy of a profile.
type ProfileSnapshot struct {
	Properties map[string]string
	Units      []*metadata.Unit
}

// NewProfile creates an empty profile.
func NewProfile(id string, properties map[string]string) *Profile {
	p := &Profile{
		id:         id,
		properties: make(map[string]string, len(properties)),
		units:      make(map[string]*metadata.Unit),
	}
	for k, v := range properties {
		p.properties[k] = v
	}
	return p
}

// ID returns the profile id.
func (p *Profile) ID() string {
	if p == nil {
		return ""
	}
	return p.id
}

// Property returns a profile property.
func (p *Profile) Property(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.properties[key]
	return v, ok
}

// SetProperty sets a property and returns its previous value.
func (p *Profile) SetProperty(key, value string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, ok := p.properties[key]
	p.properties[key] = value
	return prev, ok
}

// RemoveProperty deletes a property.
func (p *Profile) RemoveProperty(key string) {
	p.mu.Lock()
	delete(p.properties, key)
	p.mu.Unlock()
}

// Properties returns a copy of all properties.
func (p *Profile) Properties() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.properties))
	for k, v := range p.properties {
		out[k] = v
	}
	return out
}

// AddUnit records u as installed.
func (p *Profile) AddUnit(u *metadata.Unit) {
	if u == nil {
		return
	}
	p.mu.Lock()
	p.units[u.Key()] = u
	p.mu.Unlock()
}

// RemoveUnit forgets u.
func (p *Profile) RemoveUnit(u *metadata.Unit) {
	if u == nil {
		return
	}
	p.mu.Lock()
	delete(p.units, u.Key())
	p.mu.Unlock()
}

// Contains reports whether u is installed.
func (p *Profile) Contains(u *metadata.Unit) bool {
	if u == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.units[u.Key()]
	return ok
}

// Units returns the installed units sorted by key.
func (p *Profile) Units() []*metadata.Unit {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*metadata.Unit, 0, len(p.units))
	for _, u := range p.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Snapshot captures the profile's properties and units.
func (p *Profile) Snapshot() ProfileSnapshot {
	return ProfileSnapshot{
		Properties: p.Properties(),
		Units:      p.Units(),
	}
}

// Restore replaces the profile contents with snap.
func (p *Profile) Restore(snap ProfileSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.properties = make(map[string]string, len(snap.Properties))
	for k, v := range snap.Properties {
		p.properties[k] = v
	}
	p.units = make(map[string]*metadata.Unit, len(snap.Units))
	for _, u := range snap.Units {
		p.units[u.Key()] = u
	}
}
