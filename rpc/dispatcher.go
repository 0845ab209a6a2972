package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zhubert/plural-editor/filesystem"
	"github.com/zhubert/plural-editor/logger"
	"github.com/zhubert/plural-editor/state"
)

// Method names served by the Dispatcher.
const (
	MethodGetStateDataByID = "get_state_data_by_id"
	MethodSetStateDataByID = "set_state_data_by_id"
	MethodReadFileByPath   = "read_file_by_path"
	MethodWriteFileByPath  = "write_file_by_path"
	MethodListDirByPath    = "list_dir_by_path"
	MethodGetExtInfoByID   = "get_ext_info_by_id"
	MethodGetExtListByID   = "get_ext_list_by_id"

	// Names used by the web client.
	MethodGetStateByID = "get_state_by_id"
	MethodSetStateByID = "set_state_by_id"
)

// param names one positional parameter and the keys it may have when params
// are passed by name.
type param []string

var (
	pStateID    = param{"state_id", "stateId"}
	pToken      = param{"token"}
	pPath       = param{"path"}
	pContent    = param{"content"}
	pFilesystem = param{"filesystem_name", "filesystemName"}
	pStateData  = param{"state", "state_data", "stateData"}
	pExtID      = param{"extension_id", "extensionId"}
)

// errInvalidParams is wrapped by every params decoding failure.
var errInvalidParams = errors.New("invalid params")

type methodFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Dispatcher serves a Manager over JSON-RPC 2.0.
type Dispatcher struct {
	manager *Manager
	methods map[string]methodFunc
	log     *slog.Logger
}

// NewDispatcher creates a Dispatcher for m.
func NewDispatcher(m *Manager) *Dispatcher {
	d := &Dispatcher{
		manager: m,
		log:     logger.WithComponent("jsonrpc"),
	}
	d.methods = map[string]methodFunc{
		MethodGetStateDataByID: d.getStateData,
		MethodGetStateByID:     d.getStateData,
		MethodSetStateDataByID: d.setStateData,
		MethodSetStateByID:     d.setStateData,
		MethodReadFileByPath:   d.readFile,
		MethodWriteFileByPath:  d.writeFile,
		MethodListDirByPath:    d.listDir,
		MethodGetExtInfoByID:   d.getExtInfo,
		MethodGetExtListByID:   d.getExtList,
	}
	return d
}

// Handle processes a single request or a batch and returns the encoded
// response. It returns nil when nothing needs to be sent back, which is the
// case for notifications and batches made only of notifications.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) []byte {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		return d.handleBatch(ctx, body)
	}

	resp := d.handleOne(ctx, body)
	if resp == nil {
		return nil
	}
	return d.encode(resp)
}

func (d *Dispatcher) handleBatch(ctx context.Context, body []byte) []byte {
	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		d.log.Error("JSON parse error", "error", err)
		return d.encode(errorResponse(nil, CodeParseError, "Parse error", nil))
	}
	if len(batch) == 0 {
		return d.encode(errorResponse(nil, CodeInvalidRequest, "Invalid Request", nil))
	}

	responses := make([]*JSONRPCResponse, 0, len(batch))
	for _, raw := range batch {
		if resp := d.handleOne(ctx, raw); resp != nil {
			responses = append(responses, resp)
		}
	}
	if len(responses) == 0 {
		return nil
	}

	data, err := json.Marshal(responses)
	if err != nil {
		d.log.Error("failed to marshal batch response", "error", err)
		return d.encode(errorResponse(nil, CodeInternalError, "Internal error", nil))
	}
	return data
}

func (d *Dispatcher) handleOne(ctx context.Context, raw []byte) *JSONRPCResponse {
	var req JSONRPCRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		d.log.Error("JSON parse error", "error", err)
		return errorResponse(nil, CodeParseError, "Parse error", nil)
	}
	if req.JSONRPC != JSONRPCVersion || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "Invalid Request", nil)
	}

	d.log.Debug("received request", "method", req.Method, "id", req.ID)

	method, ok := d.methods[req.Method]
	if !ok {
		d.log.Warn("unknown method", "method", req.Method)
		if req.IsNotification() {
			return nil
		}
		return errorResponse(req.ID, CodeMethodNotFound, "Method not found", nil)
	}

	result, err := method(ctx, req.Params)
	if req.IsNotification() {
		return nil
	}
	if err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "Invalid params", err.Error())
	}

	data, err := json.Marshal(result)
	if err != nil {
		d.log.Error("failed to marshal result", "method", req.Method, "error", err)
		return errorResponse(req.ID, CodeInternalError, "Internal error", nil)
	}
	return &JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: req.ID, Result: data}
}

func (d *Dispatcher) encode(resp *JSONRPCResponse) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		d.log.Error("failed to marshal response", "error", err)
		return nil
	}
	return data
}

func errorResponse(id any, code int, message string, data any) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &RPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// outcome wraps an operation's result in the {"Ok":v} / {"Err":e} envelope.
func outcome[T any](value T, err error) filesystem.Result[T] {
	return filesystem.Result[T]{Value: value, Err: err}
}

func (d *Dispatcher) getStateData(ctx context.Context, params json.RawMessage) (any, error) {
	var (
		stateID uint8
		token   string
	)
	if err := decodeParams(params, []param{pStateID, pToken}, &stateID, &token); err != nil {
		return nil, err
	}
	data, err := d.manager.GetStateDataByID(ctx, stateID, token)
	if err != nil {
		// Clients expect the data or null.
		d.log.Debug("state data unavailable", "stateID", stateID, "error", err)
		return nil, nil
	}
	return data, nil
}

func (d *Dispatcher) setStateData(ctx context.Context, params json.RawMessage) (any, error) {
	var (
		stateID uint8
		data    state.StateData
		token   string
	)
	if err := decodeParams(params, []param{pStateID, pStateData, pToken}, &stateID, &data, &token); err != nil {
		return nil, err
	}
	return outcome[any](nil, d.manager.SetStateDataByID(ctx, stateID, data, token)), nil
}

func (d *Dispatcher) readFile(ctx context.Context, params json.RawMessage) (any, error) {
	var (
		path, fsName, token string
		stateID             uint8
	)
	if err := decodeParams(params, []param{pPath, pFilesystem, pStateID, pToken}, &path, &fsName, &stateID, &token); err != nil {
		return nil, err
	}
	info, err := d.manager.ReadFileByPath(ctx, path, fsName, stateID, token)
	return outcome(info, err), nil
}

func (d *Dispatcher) writeFile(ctx context.Context, params json.RawMessage) (any, error) {
	var (
		path, content, fsName, token string
		stateID                      uint8
	)
	if err := decodeParams(params, []param{pPath, pContent, pFilesystem, pStateID, pToken}, &path, &content, &fsName, &stateID, &token); err != nil {
		return nil, err
	}
	return outcome[any](nil, d.manager.WriteFileByPath(ctx, path, content, fsName, stateID, token)), nil
}

func (d *Dispatcher) listDir(ctx context.Context, params json.RawMessage) (any, error) {
	var (
		path, fsName, token string
		stateID             uint8
	)
	if err := decodeParams(params, []param{pPath, pFilesystem, pStateID, pToken}, &path, &fsName, &stateID, &token); err != nil {
		return nil, err
	}
	items, err := d.manager.ListDirByPath(ctx, path, fsName, stateID, token)
	return outcome(items, err), nil
}

func (d *Dispatcher) getExtInfo(ctx context.Context, params json.RawMessage) (any, error) {
	var (
		extID, token string
		stateID      uint8
	)
	if err := decodeParams(params, []param{pExtID, pStateID, pToken}, &extID, &stateID, &token); err != nil {
		return nil, err
	}
	info, err := d.manager.GetExtInfoByID(ctx, extID, stateID, token)
	return outcome(info, err), nil
}

func (d *Dispatcher) getExtList(ctx context.Context, params json.RawMessage) (any, error) {
	var (
		stateID uint8
		token   string
	)
	if err := decodeParams(params, []param{pStateID, pToken}, &stateID, &token); err != nil {
		return nil, err
	}
	ids, err := d.manager.GetExtListByID(ctx, stateID, token)
	return outcome(ids, err), nil
}

// decodeParams fills targets from positional (array) or named (object) params.
func decodeParams(raw json.RawMessage, names []param, targets ...any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return fmt.Errorf("%w: expected %d params, got none", errInvalidParams, len(names))
	}

	switch raw[0] {
	case '[':
		var values []json.RawMessage
		if err := json.Unmarshal(raw, &values); err != nil {
			return fmt.Errorf("%w: %v", errInvalidParams, err)
		}
		if len(values) != len(names) {
			return fmt.Errorf("%w: expected %d params, got %d", errInvalidParams, len(names), len(values))
		}
		for i, v := range values {
			if err := json.Unmarshal(v, targets[i]); err != nil {
				return fmt.Errorf("%w: %s: %v", errInvalidParams, names[i][0], err)
			}
		}
		return nil

	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return fmt.Errorf("%w: %v", errInvalidParams, err)
		}
		for i, p := range names {
			v, ok := lookupParam(fields, p)
			if !ok {
				return fmt.Errorf("%w: missing %s", errInvalidParams, p[0])
			}
			if err := json.Unmarshal(v, targets[i]); err != nil {
				return fmt.Errorf("%w: %s: %v", errInvalidParams, p[0], err)
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: params must be an array or an object", errInvalidParams)
	}
}

func lookupParam(fields map[string]json.RawMessage, p param) (json.RawMessage, bool) {
	for _, key := range p {
		if v, ok := fields[key]; ok {
			return v, true
		}
	}
	return nil, false
}
