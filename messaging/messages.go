// Package messaging defines the messages exchanged between transports, the core
// router and extensions.
//
// # Messages
//
// Message is a closed set: ListenToState and StateUpdated are control events the
// router interprets; ShowPopup, ShowStatusBarItem and HideStatusBarItem are
// payloads the router only forwards to the active transport. On the wire every
// message is a flat JSON object tagged with "msg_type":
//
//	{"msg_type":"ListenToState","state_id":1,"trigger":"client"}
//
// # Extension messages
//
// ExtensionMessage is what extensions are notified with: either a re-broadcast
// core Message (CoreMessage) or the outcome of a filesystem operation performed
// on behalf of a client (ReadFile, WriteFile, ListDir).
package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Message type tags used in the "msg_type" field.
const (
	TypeListenToState     = "ListenToState"
	TypeStateUpdated      = "StateUpdated"
	TypeShowPopup         = "ShowPopup"
	TypeShowStatusBarItem = "ShowStatusBarItem"
	TypeHideStatusBarItem = "HideStatusBarItem"
)

// ErrUnknownMessage is returned by Decode for an unrecognised msg_type.
var ErrUnknownMessage = errors.New("unknown message type")

// Message is implemented only by the message types of this package.
type Message interface {
	MessageType() string
	isMessage()
}

// ListenToState subscribes the sender to a state. The router answers with the
// state's current data and starts the state's extensions.
type ListenToState struct {
	StateID uint8  `json:"state_id"`
	Trigger string `json:"trigger"`
}

// StateUpdated carries a state's full data.
type StateUpdated struct {
	StateData StateData `json:"state_data"`
}

// ShowPopup asks clients of a state to display a popup.
type ShowPopup struct {
	StateID uint8  `json:"state_id"`
	Trigger string `json:"trigger"`
	PopupID string `json:"popup_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ShowStatusBarItem asks clients of a state to display a status bar item.
type ShowStatusBarItem struct {
	StateID         uint8  `json:"state_id"`
	Trigger         string `json:"trigger"`
	StatusBarItemID string `json:"statusbar_item_id"`
	Label           string `json:"label"`
}

// HideStatusBarItem asks clients of a state to remove a status bar item.
type HideStatusBarItem struct {
	StateID         uint8  `json:"state_id"`
	Trigger         string `json:"trigger"`
	StatusBarItemID string `json:"statusbar_item_id"`
}

func (ListenToState) MessageType() string     { return TypeListenToState }
func (StateUpdated) MessageType() string      { return TypeStateUpdated }
func (ShowPopup) MessageType() string         { return TypeShowPopup }
func (ShowStatusBarItem) MessageType() string { return TypeShowStatusBarItem }
func (HideStatusBarItem) MessageType() string { return TypeHideStatusBarItem }

func (ListenToState) isMessage()     {}
func (StateUpdated) isMessage()      {}
func (ShowPopup) isMessage()         {}
func (ShowStatusBarItem) isMessage() {}
func (HideStatusBarItem) isMessage() {}

// TargetState returns the state a message concerns, if any.
func TargetState(msg Message) (uint8, bool) {
	switch m := msg.(type) {
	case ListenToState:
		return m.StateID, true
	case StateUpdated:
		return m.StateData.ID, true
	case ShowPopup:
		return m.StateID, true
	case ShowStatusBarItem:
		return m.StateID, true
	case HideStatusBarItem:
		return m.StateID, true
	default:
		return 0, false
	}
}

// Encode serializes a message into its tagged wire form.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("encode: nil message")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	fields["msg_type"] = json.RawMessage(strconv.Quote(msg.MessageType()))
	return json.Marshal(fields)
}

// Decode parses a tagged wire message.
func Decode(data []byte) (Message, error) {
	var tag struct {
		MsgType string `json:"msg_type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	switch tag.MsgType {
	case TypeListenToState:
		return decodeAs[ListenToState](data)
	case TypeStateUpdated:
		return decodeAs[StateUpdated](data)
	case TypeShowPopup:
		return decodeAs[ShowPopup](data)
	case TypeShowStatusBarItem:
		return decodeAs[ShowStatusBarItem](data)
	case TypeHideStatusBarItem:
		return decodeAs[HideStatusBarItem](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, tag.MsgType)
	}
}

func decodeAs[T Message](data []byte) (Message, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", msg.MessageType(), err)
	}
	return msg, nil
}
