// Unified error handling for the churnrig host
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Bad or missing configuration, including groups that resolve to nothing.
	ErrConfiguration ErrorCode = "CONFIGURATION"
	// A config value could not be converted to the requested type.
	ErrParse ErrorCode = "PARSE"
	// An actuator stopped moving and recovery was exhausted.
	ErrStall ErrorCode = "STALL"
	// A seek target lay outside an actuator's limits. Always clamped, never fatal.
	ErrBoundary ErrorCode = "BOUNDARY"
	// A handle that resolved at start no longer resolves.
	ErrVanishedHandle ErrorCode = "VANISHED_HANDLE"
	// A cycle was started while another one was active.
	ErrBusy ErrorCode = "BUSY"
	// A command word nobody handles.
	ErrUnknownCommand ErrorCode = "UNKNOWN_COMMAND"
	// The cycle was stopped on request.
	ErrStopped ErrorCode = "STOPPED"
	// A stage ran longer than its configured tick budget.
	ErrTimeout ErrorCode = "TIMEOUT"
	ErrRuntime ErrorCode = "RUNTIME"
)

// HostError is the unified error type for the host system
type HostError struct {
	Code    ErrorCode
	Message string
	// Axis names the actuator or group involved, if any.
	Axis string
	// Stage is the cycle stage the error surfaced in, if any.
	Stage   string
	Err     error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	msg := e.Message
	if e.Axis != "" {
		msg = e.Axis + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stage != "" {
		return fmt.Sprintf("[%s@%s] %s", e.Code, e.Stage, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

func (e *HostError) SetAxis(axis string) *HostError {
	e.Axis = axis
	return e
}

func (e *HostError) SetStage(stage string) *HostError {
	e.Stage = stage
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{Code: code, Message: message}
}

// Wrap wraps an existing error with a code and message
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{Code: code, Message: message, Err: err}
}

// ConfigurationError reports unusable configuration.
func ConfigurationError(format string, args ...interface{}) *HostError {
	return New(ErrConfiguration, fmt.Sprintf(format, args...))
}

// EmptyGroupError reports a required group that resolved to no devices.
func EmptyGroupError(key, pattern string) *HostError {
	return New(ErrConfiguration, fmt.Sprintf("%s: no blocks match %q", key, pattern)).
		SetContext("key", key).
		SetContext("pattern", pattern)
}

// ParseError reports a config value of the wrong type.
func ParseError(key, value, targetType string, err error) *HostError {
	return Wrap(err, ErrParse, fmt.Sprintf("%s: cannot parse %q as %s", key, value, targetType)).
		SetContext("key", key)
}

// StallError reports an actuator that stayed stuck after recovery.
func StallError(axis string, stableTicks int) *HostError {
	return New(ErrStall, fmt.Sprintf("stuck for %d ticks, recovery exhausted", stableTicks)).
		SetAxis(axis)
}

// BoundaryError reports a target that was clamped into [min, max].
func BoundaryError(axis string, target, min, max float64) *HostError {
	return New(ErrBoundary, fmt.Sprintf("target %.3f outside [%.3f, %.3f], clamped", target, min, max)).
		SetAxis(axis)
}

// VanishedHandleError reports a device that disappeared mid-cycle.
func VanishedHandleError(axis string) *HostError {
	return New(ErrVanishedHandle, "device no longer resolves").SetAxis(axis)
}

func BusyError() *HostError {
	return New(ErrBusy, "a cycle is already running")
}

func UnknownCommandError(command string) *HostError {
	return New(ErrUnknownCommand, fmt.Sprintf("unknown command %q", command))
}

func StoppedError(reason string) *HostError {
	return New(ErrStopped, reason)
}

func TimeoutError(stage string, ticks int) *HostError {
	return New(ErrTimeout, fmt.Sprintf("no progress after %d ticks", ticks)).SetStage(stage)
}

// RuntimeError creates a general runtime error
func RuntimeError(message string) *HostError {
	return New(ErrRuntime, message)
}

// FromPanic converts a recovered panic value into a HostError. Use it as
//
//	if r := recover(); r != nil { err = errors.FromPanic(r) }
func FromPanic(r interface{}) *HostError {
	switch x := r.(type) {
	case runtime.Error:
		return Wrap(x, ErrRuntime, "panic")
	case error:
		return Wrap(x, ErrRuntime, "panic")
	default:
		return RuntimeError(fmt.Sprintf("panic: %v", x))
	}
}

// CodeOf returns the code of the first HostError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var hostErr *HostError
	if stderrors.As(err, &hostErr) {
		return hostErr.Code
	}
	return ""
}

// Is checks if any HostError in err's chain carries code
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var hostErr *HostError
		if !stderrors.As(err, &hostErr) {
			return false
		}
		if hostErr.Code == code {
			return true
		}
		err = hostErr.Err
	}
	return false
}

// IsConfig reports configuration and parse failures, which keep a cycle from starting.
func IsConfig(err error) bool {
	return Is(err, ErrConfiguration) || Is(err, ErrParse)
}

// IsFatal reports errors that end a running cycle.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case "", ErrBoundary:
		return false
	}
	return true
}
