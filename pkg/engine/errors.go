package engine

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// ErrorClass represents the classification of an engine error.
type ErrorClass string

const (
	// ErrorClassValidation indicates a construction-time error such as a bad
	// phase id or weight. These are never recovered.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassHook indicates a phase, operand or touchpoint hook failed.
	// Hook failures abort the current stage even in forced mode.
	ErrorClassHook ErrorClass = "hook"

	// ErrorClassAction indicates an action returned an error or panicked.
	ErrorClassAction ErrorClass = "action"

	// ErrorClassFatal indicates an unrecoverable fault.
	ErrorClassFatal ErrorClass = "fatal"

	// ErrorClassCancel indicates the transaction was cancelled.
	ErrorClassCancel ErrorClass = "cancel"

	// ErrorClassRollback indicates an undo step failed.
	ErrorClassRollback ErrorClass = "rollback"

	// ErrorClassDownload indicates an artifact could not be fetched.
	ErrorClassDownload ErrorClass = "download"

	// ErrorClassTrust indicates a trust check failed.
	ErrorClassTrust ErrorClass = "trust"
)

// Sentinel validation errors.
var (
	ErrInvalidPhaseID  = errors.New("phase id must be set")
	ErrInvalidWeight   = errors.New("phase weight must be positive")
	ErrDuplicatePhase  = errors.New("duplicate phase id")
	ErrEmptyOperand    = errors.New("operand needs a before or after unit")
	ErrUnknownAction   = errors.New("unknown action")
	ErrUndoUnavailable = errors.New("phase has not reached its main stage")
)

// EngineError represents a classified error with provisioning context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Phase is the phase id active when the error occurred.
	Phase string `json:"phase,omitempty"`

	// Operand describes the operand being processed.
	Operand string `json:"operand,omitempty"`

	// Action is the action name being executed or undone.
	Action string `json:"action,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Phase != "" {
		msg += fmt.Sprintf(" (phase=%s", e.Phase)
		if e.Operand != "" {
			msg += ", operand=" + e.Operand
		}
		if e.Action != "" {
			msg += ", action=" + e.Action
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewError creates an error of the given class.
func NewError(class ErrorClass, message string, err error) *EngineError {
	return &EngineError{
		Class:   class,
		Message: message,
		Err:     err,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *EngineError {
	return NewError(ErrorClassValidation, message, err).WithCode(ErrCodeValidation)
}

// NewHookError creates a new hook error.
func NewHookError(message string, err error) *EngineError {
	return NewError(ErrorClassHook, message, err).WithCode(ErrCodeHookFailed)
}

// NewActionError creates a new action error.
func NewActionError(message string, err error) *EngineError {
	return NewError(ErrorClassAction, message, err).WithCode(ErrCodeActionFailed)
}

// WithPhase adds phase context to an error.
func (e *EngineError) WithPhase(phaseID string) *EngineError {
	e.Phase = phaseID
	return e
}

// WithOperand adds operand context to an error.
func (e *EngineError) WithOperand(operand string) *EngineError {
	e.Operand = operand
	return e
}

// WithAction adds action context to an error.
func (e *EngineError) WithAction(action string) *EngineError {
	e.Action = action
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of err, or "" when err is not an EngineError.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeHookFailed       = "HOOK_FAILED"
	ErrCodeActionFailed     = "ACTION_FAILED"
	ErrCodeActionPanic      = "ACTION_PANIC"
	ErrCodeUndoFailed       = "UNDO_FAILED"
	ErrCodeUnknownAction    = "UNKNOWN_ACTION"
	ErrCodeInstruction      = "INSTRUCTION_SYNTAX"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeNoRepository     = "REPOSITORY_UNAVAILABLE"
	ErrCodeArtifactNotFound = "ARTIFACT_NOT_FOUND"
	ErrCodeUntrusted        = "UNTRUSTED_CONTENT"
)

// Fault is a recovered panic raised by action code.
type Fault struct {
	Value interface{}
	Stack []byte
}

// Error implements the error interface.
func (f *Fault) Error() string {
	return fmt.Sprintf("panic: %v", f.Value)
}

// Unwrap returns the panic value when it is an error.
func (f *Fault) Unwrap() error {
	if err, ok := f.Value.(error); ok {
		return err
	}
	return nil
}

// Unrecoverable is implemented by panic values that must not be absorbed by
// the engine, even in forced mode.
type Unrecoverable interface {
	Unrecoverable() bool
}

type fatalError struct {
	err error
}

func (f *fatalError) Error() string       { return "fatal: " + f.err.Error() }
func (f *fatalError) Unwrap() error       { return f.err }
func (f *fatalError) Unrecoverable() bool { return true }

// Fatal wraps err so that panicking with the result escapes every recovery
// point in the engine.
func Fatal(err error) error {
	return &fatalError{err: err}
}

// IsUnrecoverable reports whether a recovered panic value must be re-raised.
func IsUnrecoverable(v interface{}) bool {
	u, ok := v.(Unrecoverable)
	return ok && u.Unrecoverable()
}

// capture runs fn and converts a recoverable panic into a *Fault.
// Unrecoverable panics are re-raised unchanged.
func capture[T any](fn func() T) (result T, fault *Fault) {
	defer func() {
		if v := recover(); v != nil {
			if IsUnrecoverable(v) {
				panic(v)
			}
			fault = &Fault{Value: v, Stack: debug.Stack()}
		}
	}()
	return fn(), nil
}
