package messaging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
)

// StateData is the client-visible payload of a state: its id plus the opaque
// editor layout (open views, tabs, cursors) clients store there. Top-level
// fields other than id and views are kept verbatim in Extra so that data read
// back is what was stored.
type StateData struct {
	ID    uint8
	Views json.RawMessage
	Extra map[string]json.RawMessage
}

// MarshalJSON writes id, views when present, and every extra field.
func (d StateData) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(d.Extra)+2)
	maps.Copy(fields, d.Extra)
	fields["id"] = json.RawMessage(fmt.Sprint(d.ID))
	if len(d.Views) > 0 {
		fields["views"] = d.Views
	}
	return json.Marshal(fields)
}

// UnmarshalJSON reads id and views and keeps any other field in Extra.
func (d *StateData) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	if fields == nil {
		return nil
	}

	var out StateData
	if raw, ok := fields["id"]; ok {
		if err := json.Unmarshal(raw, &out.ID); err != nil {
			return fmt.Errorf("state data id: %w", err)
		}
		delete(fields, "id")
	}
	if raw, ok := fields["views"]; ok {
		out.Views = bytes.Clone(raw)
		delete(fields, "views")
	}
	if len(fields) > 0 {
		out.Extra = fields
	}
	*d = out
	return nil
}

// Clone returns a deep copy of the data.
func (d StateData) Clone() StateData {
	out := StateData{ID: d.ID}
	if d.Views != nil {
		out.Views = bytes.Clone(d.Views)
	}
	if d.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(d.Extra))
		for k, v := range d.Extra {
			out.Extra[k] = bytes.Clone(v)
		}
	}
	return out
}
