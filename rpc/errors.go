package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/zhubert/plural-editor/filesystem"
)

// ErrorKind classifies RPC failures. The string value is what clients see.
type ErrorKind string

const (
	KindStateNotFound     ErrorKind = "StateNotFound"
	KindBadToken          ErrorKind = "BadToken"
	KindTimeout           ErrorKind = "Timeout"
	KindExtensionNotFound ErrorKind = "ExtensionNotFound"
	KindFs                ErrorKind = "Fs"
)

// Error is returned by every Manager operation.
type Error struct {
	Kind ErrorKind
	// Fs is set when Kind is KindFs.
	Fs *filesystem.Error
}

var (
	ErrStateNotFound     = &Error{Kind: KindStateNotFound}
	ErrBadToken          = &Error{Kind: KindBadToken}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrExtensionNotFound = &Error{Kind: KindExtensionNotFound}
	// ErrFilesystemNotFound is returned when a state has no filesystem of the
	// requested name.
	ErrFilesystemNotFound = FsError(filesystem.ErrFilesystemNotFound)
)

// FsError wraps a filesystem error.
func FsError(err *filesystem.Error) *Error {
	return &Error{Kind: KindFs, Fs: err}
}

func (e *Error) Error() string {
	if e.Kind == KindFs && e.Fs != nil {
		return "rpc: " + e.Fs.Error()
	}
	return "rpc: " + string(e.Kind)
}

func (e *Error) Unwrap() error {
	if e.Fs == nil {
		return nil
	}
	return e.Fs
}

// Is matches another *Error by kind, and for filesystem errors also by the
// filesystem error kind when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	if e.Kind == KindFs && t.Fs != nil {
		return e.Fs != nil && e.Fs.Kind == t.Fs.Kind
	}
	return true
}

// MarshalJSON encodes the error the way the web client expects:
// "BadToken", or {"Fs":"FileNotFound"} for filesystem errors.
func (e *Error) MarshalJSON() ([]byte, error) {
	if e.Kind == KindFs {
		kind := filesystem.KindOther
		if e.Fs != nil {
			kind = e.Fs.Kind
		}
		return json.Marshal(map[string]filesystem.ErrorKind{string(KindFs): kind})
	}
	return json.Marshal(string(e.Kind))
}

// toError converts any error into an *Error. Context expiry becomes a
// timeout; untyped errors become filesystem errors of kind Other.
func toError(err error) error {
	if err == nil {
		return nil
	}

	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTimeout
	}
	var fsErr *filesystem.Error
	if errors.As(err, &fsErr) {
		return FsError(fsErr)
	}
	return FsError(&filesystem.Error{Kind: filesystem.KindOther, Err: err})
}
