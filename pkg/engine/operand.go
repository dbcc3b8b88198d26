package engine

import (
	"encoding/json"
	"fmt"

	"github.com/openfroyo/provengine/pkg/metadata"
)

// OperandKind describes the shape of an operand.
type OperandKind string

const (
	// OperandInstall adds a unit (no before unit).
	OperandInstall OperandKind = "install"

	// OperandUninstall removes a unit (no after unit).
	OperandUninstall OperandKind = "uninstall"

	// OperandUpdate replaces a unit (both units set).
	OperandUpdate OperandKind = "update"
)

// Validate checks if the operand kind is valid.
func (k OperandKind) Validate() error {
	switch k {
	case OperandInstall, OperandUninstall, OperandUpdate:
		return nil
	default:
		return fmt.Errorf("invalid operand kind: %s", k)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (k OperandKind) MarshalJSON() ([]byte, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(string(k))
}

// Operand is one unit's change in a transaction. At least one side is set.
type Operand struct {
	Before *metadata.Unit `json:"before,omitempty"`
	After  *metadata.Unit `json:"after,omitempty"`
}

// NewOperand creates an operand, rejecting one with neither side set.
func NewOperand(before, after *metadata.Unit) (*Operand, error) {
	if before == nil && after == nil {
		return nil, ErrEmptyOperand
	}
	return &Operand{Before: before, After: after}, nil
}

// Kind returns the operand's shape.
func (o *Operand) Kind() OperandKind {
	switch {
	case o.Before == nil:
		return OperandInstall
	case o.After == nil:
		return OperandUninstall
	default:
		return OperandUpdate
	}
}

// Unit returns the after unit when present, else the before unit.
func (o *Operand) Unit() *metadata.Unit {
	if o.After != nil {
		return o.After
	}
	return o.Before
}

// String renders "before --> after".
func (o *Operand) String() string {
	if o == nil {
		return "<none>"
	}
	return o.Before.String() + " --> " + o.After.String()
}
