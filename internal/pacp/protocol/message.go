// Package protocol implements the JSON-RPC 2.0 frame shapes carried over
// P/ACP: requests, responses, and notifications, classified structurally
// rather than by a fixed schema so that unknown fields survive a
// parse/forward/serialize round trip untouched.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSONRPCVersion is the wire version string every frame carries.
const JSONRPCVersion = "2.0"

// Kind is the structural classification of a Frame.
type Kind int

const (
	// KindInvalid is neither a request, response, nor notification.
	KindInvalid Kind = iota
	// KindRequest has both an id and a method.
	KindRequest
	// KindResponse has an id and either a result or an error.
	KindResponse
	// KindNotification has a method and no id.
	KindNotification
)

// String renders a Kind for logging.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Frame is a single JSON-RPC message of any shape. Fields absent on the
// wire are left at their zero value; ID and Method presence (not their
// values) drive classification. Extra carries any top-level key this
// package doesn't model explicitly, so a component that only inspects
// id/method/params/result/error can still forward arbitrary other keys
// unchanged.
type Frame struct {
	ID     json.RawMessage
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *RPCError
	Extra  map[string]json.RawMessage
}

// HasID reports whether the frame carries a non-null id.
func (f *Frame) HasID() bool {
	return len(f.ID) > 0 && !bytes.Equal(bytes.TrimSpace(f.ID), []byte("null"))
}

// Classify returns the structural kind of the frame per §4.2: id+method is
// a request, method without id is a notification, id with result or error
// is a response, anything else is invalid.
func (f *Frame) Classify() Kind {
	hasID := f.HasID()
	hasMethod := f.Method != ""
	hasResultOrErr := f.Result != nil || f.Error != nil

	switch {
	case hasID && hasMethod:
		return KindRequest
	case hasMethod && !hasID:
		return KindNotification
	case hasID && hasResultOrErr:
		return KindResponse
	default:
		return KindInvalid
	}
}

// frameWire is the on-the-wire shape used only for marshal/unmarshal.
type frameWire struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

var knownKeys = map[string]bool{
	"jsonrpc": true, "id": true, "method": true,
	"params": true, "result": true, "error": true,
}

// ParseFrame parses a single JSON-RPC message, validating the version tag
// and preserving any top-level key it doesn't model in Extra.
func ParseFrame(data []byte) (*Frame, error) {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}

	var wire frameWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}
	if wire.Jsonrpc != JSONRPCVersion {
		return nil, fmt.Errorf("parse frame: invalid jsonrpc version %q", wire.Jsonrpc)
	}

	f := &Frame{
		ID:     wire.ID,
		Method: wire.Method,
		Params: wire.Params,
		Result: wire.Result,
		Error:  wire.Error,
	}

	for k, v := range raw {
		if knownKeys[k] {
			continue
		}
		if f.Extra == nil {
			f.Extra = map[string]json.RawMessage{}
		}
		f.Extra[k] = v
	}

	return f, nil
}

// Marshal serializes the frame to compact JSON, merging Extra back in.
func (f *Frame) Marshal() ([]byte, error) {
	out := map[string]json.RawMessage{}
	for k, v := range f.Extra {
		out[k] = v
	}

	out["jsonrpc"] = json.RawMessage(`"` + JSONRPCVersion + `"`)
	if f.HasID() {
		out["id"] = f.ID
	}
	if f.Method != "" {
		mb, err := json.Marshal(f.Method)
		if err != nil {
			return nil, err
		}
		out["method"] = mb
	}
	if f.Params != nil {
		out["params"] = f.Params
	}
	if f.Result != nil {
		out["result"] = f.Result
	}
	if f.Error != nil {
		eb, err := json.Marshal(f.Error)
		if err != nil {
			return nil, err
		}
		out["error"] = eb
	}

	return json.Marshal(out)
}

// NewRequest builds a request frame. id must already be a valid JSON
// scalar (string or number) encoded as json.RawMessage.
func NewRequest(id json.RawMessage, method string, params any) (*Frame, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Frame{ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification frame (no id).
func NewNotification(method string, params any) (*Frame, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Frame{Method: method, Params: raw}, nil
}

// NewResult builds a success response frame.
func NewResult(id json.RawMessage, result any) (*Frame, error) {
	raw, err := marshalParams(result)
	if err != nil {
		return nil, err
	}
	return &Frame{ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response frame.
func NewErrorResponse(id json.RawMessage, rpcErr *RPCError) *Frame {
	return &Frame{ID: id, Error: rpcErr}
}

func marshalParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return data, nil
}

// IDEqual compares two ids by decoded value rather than raw bytes, so
// `1` and `1 ` (or numerically equal forms) compare equal.
func IDEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b))
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return fmt.Sprint(av) == fmt.Sprint(bv)
}

// IDKey renders an id to a comparable map key, used by pending-request
// tables that are keyed on id rather than identity.
func IDKey(id json.RawMessage) string {
	var v any
	if err := json.Unmarshal(id, &v); err != nil {
		return string(bytes.TrimSpace(id))
	}
	return fmt.Sprint(v)
}
