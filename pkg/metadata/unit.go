// Package metadata describes the installable units a transaction operates on.
// The engine treats units as opaque apart from identity, touchpoint type,
// artifacts and per-phase instructions.
package metadata

import (
	"fmt"
	"sort"
	"strings"
)

// TouchpointType identifies the touchpoint responsible for a unit.
type TouchpointType struct {
	ID      string `json:"id" yaml:"id"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// NoTouchpoint is the zero value used by units that need no touchpoint.
var NoTouchpoint = TouchpointType{}

// IsZero reports whether no touchpoint is declared.
func (t TouchpointType) IsZero() bool {
	return t.ID == ""
}

// String returns id or id@version.
func (t TouchpointType) String() string {
	if t.Version == "" {
		return t.ID
	}
	return t.ID + "@" + t.Version
}

// ArtifactKey identifies an artifact in a repository.
type ArtifactKey struct {
	Classifier string `json:"classifier" yaml:"classifier" validate:"required"`
	ID         string `json:"id" yaml:"id" validate:"required"`
	Version    string `json:"version" yaml:"version" validate:"required"`
}

// String returns classifier/id/version.
func (k ArtifactKey) String() string {
	return k.Classifier + "/" + k.ID + "/" + k.Version
}

// Filename returns the file name an artifact is stored under.
func (k ArtifactKey) Filename() string {
	return k.ID + "_" + k.Version
}

// ParseArtifactKey parses the String form of a key.
func ParseArtifactKey(s string) (ArtifactKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ArtifactKey{}, fmt.Errorf("invalid artifact key: %q", s)
	}
	return ArtifactKey{Classifier: parts[0], ID: parts[1], Version: parts[2]}, nil
}

// Unit is one installable unit.
type Unit struct {
	ID             string         `json:"id" yaml:"id" validate:"required"`
	Version        string         `json:"version" yaml:"version" validate:"required"`
	TouchpointType TouchpointType `json:"touchpoint,omitempty" yaml:"touchpoint,omitempty"`
	Artifacts      []ArtifactKey  `json:"artifacts,omitempty" yaml:"artifacts,omitempty" validate:"dive"`

	// Instructions maps a phase id to an instruction string such as
	// "mkdir(path:${installFolder}/lib);setProperty(key:a,value:b)".
	Instructions map[string]string `json:"instructions,omitempty" yaml:"instructions,omitempty"`

	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Key returns id@version.
func (u *Unit) Key() string {
	if u == nil {
		return ""
	}
	return u.ID + "@" + u.Version
}

// String returns "id version".
func (u *Unit) String() string {
	if u == nil {
		return "<none>"
	}
	return u.ID + " " + u.Version
}

// Instruction returns the instruction text for a phase.
func (u *Unit) Instruction(phaseID string) string {
	if u == nil {
		return ""
	}
	return u.Instructions[phaseID]
}

// Property returns a unit property.
func (u *Unit) Property(key string) string {
	if u == nil {
		return ""
	}
	return u.Properties[key]
}

// PhaseIDs returns the phases with instructions, sorted.
func (u *Unit) PhaseIDs() []string {
	if u == nil {
		return nil
	}
	ids := make([]string, 0, len(u.Instructions))
	for id := range u.Instructions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy of the unit.
func (u *Unit) Clone() *Unit {
	if u == nil {
		return nil
	}
	c := *u
	c.Artifacts = append([]ArtifactKey(nil), u.Artifacts...)
	c.Instructions = cloneMap(u.Instructions)
	c.Properties = cloneMap(u.Properties)
	return &c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
