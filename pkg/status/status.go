// Package status provides the severity-tagged result tree returned by every
// provisioning operation.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Severity is a bit flag so that callers can test several severities at once
// with Matches.
type Severity int

const (
	// SeverityOK indicates success.
	SeverityOK Severity = 0

	// SeverityInfo is an informational result that does not affect the outcome.
	SeverityInfo Severity = 1 << 0

	// SeverityWarning indicates a problem that did not stop the operation.
	SeverityWarning Severity = 1 << 1

	// SeverityError indicates the operation failed.
	SeverityError Severity = 1 << 2

	// SeverityCancel indicates the operation was cancelled.
	SeverityCancel Severity = 1 << 3
)

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityOK:
		return "ok"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCancel:
		return "cancel"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity converts a name produced by String back into a Severity.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(name) {
	case "ok":
		return SeverityOK, nil
	case "info":
		return SeverityInfo, nil
	case "warning":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	case "cancel":
		return SeverityCancel, nil
	default:
		return SeverityOK, fmt.Errorf("invalid severity: %s", name)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseSeverity(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Status is a result node. A status with children is a multi-status whose
// severity is never lower than the highest severity of its children.
type Status struct {
	Severity Severity  `json:"severity"`
	Source   string    `json:"source,omitempty"`
	Code     string    `json:"code,omitempty"`
	Message  string    `json:"message,omitempty"`
	Err      error     `json:"-"`
	Children []*Status `json:"children,omitempty"`
}

// New creates a status with the given severity.
func New(severity Severity, source, message string, err error) *Status {
	return &Status{
		Severity: severity,
		Source:   source,
		Message:  message,
		Err:      err,
	}
}

// OK returns a fresh OK status.
func OK() *Status {
	return &Status{Severity: SeverityOK}
}

// Cancel returns a fresh CANCEL status.
func Cancel(source, message string) *Status {
	return New(SeverityCancel, source, message, nil)
}

// Info creates an INFO status.
func Info(source, message string, err error) *Status {
	return New(SeverityInfo, source, message, err)
}

// Warning creates a WARNING status.
func Warning(source, message string, err error) *Status {
	return New(SeverityWarning, source, message, err)
}

// Error creates an ERROR status.
func Error(source, message string, err error) *Status {
	return New(SeverityError, source, message, err)
}

// Errorf creates an ERROR status with a formatted message.
func Errorf(source, format string, args ...interface{}) *Status {
	return New(SeverityError, source, fmt.Sprintf(format, args...), nil)
}

// NewMulti creates an empty multi-status. Its severity grows as children are added.
func NewMulti(source, message string) *Status {
	return &Status{
		Severity: SeverityOK,
		Source:   source,
		Message:  message,
		Children: make([]*Status, 0),
	}
}

// IsOK reports whether the status is OK. A nil status is OK.
func (s *Status) IsOK() bool {
	return s == nil || s.Severity == SeverityOK
}

// Matches reports whether the severity of this status is one of the
// severities in mask. OK never matches a non-zero mask.
func (s *Status) Matches(mask Severity) bool {
	if s == nil {
		return false
	}
	return s.Severity&mask != 0
}

// IsMulti reports whether the status carries children.
func (s *Status) IsMulti() bool {
	return s != nil && s.Children != nil
}

// Add appends child and raises this status's severity if needed.
func (s *Status) Add(child *Status) {
	if child == nil {
		return
	}
	if s.Children == nil {
		s.Children = make([]*Status, 0, 1)
	}
	s.Children = append(s.Children, child)
	s.raise(child.Severity)
}

// Merge folds other into s. A multi-status contributes its children, a plain
// status is added as a child. Children are never discarded.
func (s *Status) Merge(other *Status) {
	if other == nil {
		return
	}
	if !other.IsMulti() {
		s.Add(other)
		return
	}
	for _, child := range other.Children {
		s.Add(child)
	}
	s.raise(other.Severity)
}

// MergeNonOK merges other only when it is not OK.
func (s *Status) MergeNonOK(other *Status) {
	if other.IsOK() {
		return
	}
	s.Merge(other)
}

func (s *Status) raise(severity Severity) {
	if severity > s.Severity {
		s.Severity = severity
	}
}

// Flatten returns every leaf status in depth-first order.
func (s *Status) Flatten() []*Status {
	if s == nil {
		return nil
	}
	if len(s.Children) == 0 {
		return []*Status{s}
	}
	leaves := make([]*Status, 0, len(s.Children))
	for _, child := range s.Children {
		leaves = append(leaves, child.Flatten()...)
	}
	return leaves
}

// String renders the status and its children on one line.
func (s *Status) String() string {
	if s == nil {
		return "ok"
	}
	var b strings.Builder
	s.write(&b)
	return b.String()
}

func (s *Status) write(b *strings.Builder) {
	b.WriteString(s.Severity.String())
	if s.Message != "" {
		b.WriteString(": ")
		b.WriteString(s.Message)
	}
	if s.Err != nil {
		b.WriteString(" (")
		b.WriteString(s.Err.Error())
		b.WriteString(")")
	}
	if len(s.Children) > 0 {
		b.WriteString(" [")
		for i, child := range s.Children {
			if i > 0 {
				b.WriteString("; ")
			}
			child.write(b)
		}
		b.WriteString("]")
	}
}

// AsError converts a non-OK status into an error. It returns nil for OK,
// INFO and WARNING results.
func (s *Status) AsError() error {
	if !s.Matches(SeverityError | SeverityCancel) {
		return nil
	}
	return &StatusError{Status: s}
}

// StatusError adapts a Status to the error interface.
type StatusError struct {
	Status *Status
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return e.Status.String()
}

// Unwrap exposes the errors attached to the status tree.
func (e *StatusError) Unwrap() []error {
	var errs []error
	for _, leaf := range e.Status.Flatten() {
		if leaf.Err != nil {
			errs = append(errs, leaf.Err)
		}
	}
	if e.Status.Err != nil && len(e.Status.Children) > 0 {
		errs = append(errs, e.Status.Err)
	}
	return errs
}

// IsCancel reports whether err carries a CANCEL status.
func IsCancel(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status.Matches(SeverityCancel)
	}
	return false
}
