// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Mneme.
// Codes encode the recovery policy: memory failures degrade to empty content,
// approval failures degrade to a denial, and only model transport failures
// are allowed to end a session.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorCode classifies Mneme errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeConfig indicates invalid agent configuration. Fatal at
	// construction time, before any session starts.
	CodeConfig ErrorCode = "CONFIG_ERROR"

	// CodeMemoryIO indicates a memory file read/write failure or a
	// lock-acquisition timeout. Always recoverable: resolution falls back
	// to empty content and writes surface as warnings.
	CodeMemoryIO ErrorCode = "MEMORY_IO_ERROR"

	// CodeMalformedMemory indicates memory content that is not valid
	// UTF-8 text. Treated as empty content, never fatal.
	CodeMalformedMemory ErrorCode = "MALFORMED_MEMORY"

	// CodeApprovalTimeout indicates a pending approval expired. Resolves
	// to a denied decision, never a fault.
	CodeApprovalTimeout ErrorCode = "APPROVAL_TIMEOUT"

	// CodeApprovalDenied indicates the operator (or policy) refused a
	// tool invocation.
	CodeApprovalDenied ErrorCode = "APPROVAL_DENIED"

	// CodeToolFailure indicates a tool execution failed. Propagated into
	// the conversation as a tool-result error; the session continues.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeToolNotFound indicates the model requested an unregistered tool.
	CodeToolNotFound ErrorCode = "TOOL_NOT_FOUND"

	// CodeLLMFatal indicates the model endpoint is unreachable or returned
	// an unrecoverable transport failure. The only code that aborts a
	// session.
	CodeLLMFatal ErrorCode = "LLM_FATAL"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeContextLost indicates the context was cancelled mid-operation.
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"
)

// MnemeError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type MnemeError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
}

// Error implements the error interface.
func (e *MnemeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *MnemeError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *MnemeError) MarshalJSON() ([]byte, error) {
	type Alias MnemeError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new MnemeError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *MnemeError {
	return &MnemeError{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]interface{}),
		Attributes:  make(map[string]string),
		Recoverable: recoverableDefault(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *MnemeError) WithContext(key string, value interface{}) *MnemeError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *MnemeError) WithAttribute(key, value string) *MnemeError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *MnemeError) WithRecoverable(recoverable bool) *MnemeError {
	e.Recoverable = recoverable
	return e
}

// AsMnemeError attempts to convert an error to a MnemeError.
// Returns the error as MnemeError if it is one, or wraps it otherwise.
func AsMnemeError(err error) *MnemeError {
	if err == nil {
		return nil
	}
	var me *MnemeError
	if errors.As(err, &me) {
		return me
	}
	return New(CodeInternal, "wrapped error", err)
}

// IsCode reports whether err is (or wraps) a MnemeError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var me *MnemeError
	if !errors.As(err, &me) {
		return false
	}
	return me.Code == code
}

// GetCode returns the code of err, or CodeInternal for foreign errors.
func GetCode(err error) ErrorCode {
	var me *MnemeError
	if errors.As(err, &me) {
		return me.Code
	}
	return CodeInternal
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *MnemeError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// recoverableDefault encodes the propagation policy per code: everything
// memory- or approval-related recovers locally, only model transport and
// construction failures do not.
func recoverableDefault(code ErrorCode) bool {
	switch code {
	case CodeMemoryIO, CodeMalformedMemory, CodeApprovalTimeout,
		CodeApprovalDenied, CodeToolFailure, CodeToolNotFound, CodeTimeout:
		return true
	default:
		return false
	}
}
