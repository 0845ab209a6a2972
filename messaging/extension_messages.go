package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/zhubert/plural-editor/filesystem"
)

// ExtensionMessage kinds used in the "kind" field of EncodeExtensionMessage.
const (
	KindCoreMessage = "CoreMessage"
	KindReadFile    = "ReadFile"
	KindWriteFile   = "WriteFile"
	KindListDir     = "ListDir"
)

// ExtensionMessage is implemented only by the extension message types of this package.
type ExtensionMessage interface {
	Kind() string
	isExtensionMessage()
}

// CoreMessage re-broadcasts a router message to extensions.
type CoreMessage struct {
	Message Message
}

// ReadFile reports a file read performed through the RPC surface.
type ReadFile struct {
	StateID    uint8                                  `json:"state_id"`
	Filesystem string                                 `json:"filesystem"`
	Path       string                                 `json:"path"`
	Result     filesystem.Result[filesystem.FileInfo] `json:"result"`
}

// WriteFile reports a file write performed through the RPC surface.
type WriteFile struct {
	StateID    uint8                       `json:"state_id"`
	Filesystem string                      `json:"filesystem"`
	Path       string                      `json:"path"`
	Content    string                      `json:"content"`
	Result     filesystem.Result[struct{}] `json:"result"`
}

// ListDir reports a directory listing performed through the RPC surface.
type ListDir struct {
	StateID    uint8                                       `json:"state_id"`
	Filesystem string                                      `json:"filesystem"`
	Path       string                                      `json:"path"`
	Result     filesystem.Result[[]filesystem.DirItemInfo] `json:"result"`
}

func (CoreMessage) Kind() string { return KindCoreMessage }
func (ReadFile) Kind() string    { return KindReadFile }
func (WriteFile) Kind() string   { return KindWriteFile }
func (ListDir) Kind() string     { return KindListDir }

func (CoreMessage) isExtensionMessage() {}
func (ReadFile) isExtensionMessage()    {}
func (WriteFile) isExtensionMessage()   {}
func (ListDir) isExtensionMessage()     {}

// MarshalJSON embeds the wrapped message in its tagged wire form.
func (m CoreMessage) MarshalJSON() ([]byte, error) {
	inner, err := Encode(m.Message)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Message json.RawMessage `json:"message"`
	}{Message: inner})
}

// EncodeExtensionMessage serializes an extension message as a JSON object
// tagged with "kind". Script extensions receive this form.
func EncodeExtensionMessage(msg ExtensionMessage) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	kind, _ := json.Marshal(msg.Kind())
	fields["kind"] = kind
	return json.Marshal(fields)
}
