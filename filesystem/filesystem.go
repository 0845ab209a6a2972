// Package filesystem defines the storage contract a state reads and writes files
// through, plus go-billy backed implementations.
//
// A Filesystem never panics on missing paths; every failure is reported as an
// *Error carrying one of the ErrorKind values, so callers can forward the kind
// to clients unchanged.
package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
)

// Filesystem is the capability set a state exposes under a name.
// Implementations must honour ctx cancellation before starting any I/O.
type Filesystem interface {
	ReadFileByPath(ctx context.Context, path string) (FileInfo, error)
	WriteFileByPath(ctx context.Context, path, content string) error
	ListDirByPath(ctx context.Context, path string) ([]DirItemInfo, error)
}

// FormatKind classifies file content.
type FormatKind int

const (
	FormatUnknown FormatKind = iota
	FormatBinary
	FormatText
)

// FileFormat describes how FileInfo.Content is encoded. Text formats carry the
// character encoding name.
type FileFormat struct {
	Kind     FormatKind
	Encoding string
}

// TextFormat returns a text format with the given encoding.
func TextFormat(encoding string) FileFormat {
	return FileFormat{Kind: FormatText, Encoding: encoding}
}

// MarshalJSON encodes the format as "Unknown", "Binary" or {"Text": "<encoding>"}.
func (f FileFormat) MarshalJSON() ([]byte, error) {
	switch f.Kind {
	case FormatText:
		return json.Marshal(map[string]string{"Text": f.Encoding})
	case FormatBinary:
		return json.Marshal("Binary")
	default:
		return json.Marshal("Unknown")
	}
}

// UnmarshalJSON accepts the forms produced by MarshalJSON.
func (f *FileFormat) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		switch name {
		case "Binary":
			*f = FileFormat{Kind: FormatBinary}
		case "Unknown":
			*f = FileFormat{Kind: FormatUnknown}
		default:
			return fmt.Errorf("unknown file format %q", name)
		}
		return nil
	}
	var text struct {
		Text string `json:"Text"`
	}
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("invalid file format: %w", err)
	}
	*f = TextFormat(text.Text)
	return nil
}

// FileInfo is the content of a file. Binary content is base64 encoded.
type FileInfo struct {
	Content string     `json:"content"`
	Format  FileFormat `json:"format"`
}

// DirItemInfo is one entry of a directory listing.
type DirItemInfo struct {
	Path   string `json:"path"`
	Name   string `json:"name"`
	IsFile bool   `json:"is_file"`
}

// Result pairs an operation's value with its error so the outcome can be handed
// to observers exactly as it was returned to the caller.
type Result[T any] struct {
	Value T
	Err   error
}

// OK reports whether the operation succeeded.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// MarshalJSON encodes the result as {"Ok": value} or {"Err": error}.
// Errors implementing json.Marshaler encode themselves; others encode as text.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	if r.Err == nil {
		return json.Marshal(map[string]any{"Ok": r.Value})
	}
	if m, ok := r.Err.(json.Marshaler); ok {
		return json.Marshal(map[string]any{"Err": m})
	}
	return json.Marshal(map[string]any{"Err": r.Err.Error()})
}
