// Package fserr classifies filesystem failures into the codes the engine and
// its callers act on.
package fserr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// Code identifies a failure class. Codes are strings so they serialize
// naturally into API responses and log fields.
type Code string

const (
	// Resource errors.
	NotFound         Code = "NOT_FOUND"
	AlreadyExists    Code = "ALREADY_EXISTS"
	PermissionDenied Code = "PERMISSION_DENIED"

	// Transfer errors.
	CrossDeviceMove Code = "CROSS_DEVICE_MOVE"
	IOError         Code = "IO_ERROR"

	// Request errors.
	InvalidPlan  Code = "INVALID_PLAN"
	InvalidInput Code = "INVALID_INPUT"
	Cancelled    Code = "CANCELLED"

	// Environment errors.
	Unavailable Code = "UNAVAILABLE"
	Unsupported Code = "UNSUPPORTED"
	Internal    Code = "INTERNAL_ERROR"
)

// ErrCrossDevice is returned by Rename when source and destination live on
// different devices or mounts.
var ErrCrossDevice = errors.New("cross-device link")

// ErrUnsupported is returned by filesystems that cannot perform an operation
// (for example chmod on an in-memory filesystem).
var ErrUnsupported = errors.New("operation not supported")

// Error is a classified filesystem failure.
type Error struct {
	Code Code   `json:"code"`
	Op   string `json:"op"`
	Path string `json:"path,omitempty"`
	Err  error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, msg)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error { return e.Err }

// New wraps err with an explicit code.
func New(code Code, op, path string, err error) *Error {
	return &Error{Code: code, Op: op, Path: path, Err: err}
}

// Wrap classifies err and attaches op and path. A nil err returns nil.
// An err that is already classified keeps its code.
func Wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return &Error{Code: fe.Code, Op: op, Path: path, Err: err}
	}
	return &Error{Code: Classify(err), Op: op, Path: path, Err: err}
}

// Classify maps a raw error onto a Code.
func Classify(err error) Code {
	var fe *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Cancelled
	case errors.Is(err, fs.ErrNotExist):
		return NotFound
	case errors.Is(err, fs.ErrExist):
		return AlreadyExists
	case errors.Is(err, fs.ErrPermission):
		return PermissionDenied
	case errors.Is(err, ErrCrossDevice):
		return CrossDeviceMove
	case errors.Is(err, ErrUnsupported), errors.Is(err, errors.ErrUnsupported):
		return Unsupported
	default:
		return IOError
	}
}

// CodeOf returns the code of err, or "" for nil.
func CodeOf(err error) Code {
	return Classify(err)
}

// Is reports whether err classifies as code.
func Is(err error, code Code) bool {
	return err != nil && Classify(err) == code
}
