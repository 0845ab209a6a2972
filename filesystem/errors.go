package filesystem

import (
	"encoding/json"
	"fmt"
)

// ErrorKind identifies a class of filesystem failure. The string value is what
// clients see on the wire.
type ErrorKind string

const (
	KindFilesystemNotFound ErrorKind = "FilesystemNotFound"
	KindFileNotFound       ErrorKind = "FileNotFound"
	KindDirNotFound        ErrorKind = "DirNotFound"
	KindNotAFile           ErrorKind = "NotAFile"
	KindNotADirectory      ErrorKind = "NotADirectory"
	KindPermissionDenied   ErrorKind = "PermissionDenied"
	KindOther              ErrorKind = "Other"
)

// Error is a typed filesystem failure.
type Error struct {
	Kind ErrorKind
	Path string
	Err  error
}

// Sentinels for errors.Is matching. They match any *Error of the same kind.
var (
	ErrFilesystemNotFound = &Error{Kind: KindFilesystemNotFound}
	ErrFileNotFound       = &Error{Kind: KindFileNotFound}
	ErrDirNotFound        = &Error{Kind: KindDirNotFound}
	ErrNotAFile           = &Error{Kind: KindNotAFile}
	ErrNotADirectory      = &Error{Kind: KindNotADirectory}
	ErrPermissionDenied   = &Error{Kind: KindPermissionDenied}
)

func newError(kind ErrorKind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Path != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return "filesystem: " + msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error by kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

// MarshalJSON encodes the error as its kind.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(e.Kind))
}
