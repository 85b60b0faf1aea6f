package protocol

import (
	"encoding/json"
	"fmt"
)

// Symposium capability keys carried under `_meta.symposium` on an
// `initialize` request/response (§4.5).
const (
	// CapProxy is true when the component issuing it has a successor in
	// the chain (i.e. it is not the terminal link).
	CapProxy = "proxy"
	// CapMCPACPTransport is true when the component supports bridging an
	// MCP server over the ACP transport.
	CapMCPACPTransport = "mcp_acp_transport"
)

// Meta is the `_meta` object carried on initialize messages. Symposium
// holds the keys this package understands; Rest holds everything else
// under `_meta` so a rewrite pass never drops unrelated metadata.
type Meta struct {
	Symposium map[string]bool
	Rest      map[string]json.RawMessage
}

type metaWire struct {
	Symposium map[string]bool `json:"symposium,omitempty"`
}

// GetMeta extracts `_meta` from a request/response's top-level object,
// given the raw params or result bytes. Returns a zero Meta if absent.
func GetMeta(paramsOrResult json.RawMessage) (Meta, error) {
	if len(paramsOrResult) == 0 {
		return Meta{}, nil
	}
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(paramsOrResult, &raw); err != nil {
		return Meta{}, fmt.Errorf("get meta: %w", err)
	}
	metaRaw, ok := raw["_meta"]
	if !ok {
		return Meta{}, nil
	}

	rest := map[string]json.RawMessage{}
	if err := json.Unmarshal(metaRaw, &rest); err != nil {
		return Meta{}, fmt.Errorf("get meta: %w", err)
	}
	delete(rest, "symposium")

	var wire metaWire
	if err := json.Unmarshal(metaRaw, &wire); err != nil {
		return Meta{}, fmt.Errorf("get meta: %w", err)
	}

	return Meta{Symposium: wire.Symposium, Rest: rest}, nil
}

// SetMeta rewrites `_meta.symposium` within paramsOrResult, preserving
// every other top-level key and every other `_meta` key untouched. Used
// by the capability rewriter to add/remove `proxy`/`mcp_acp_transport`
// without disturbing anything else a component's initialize carries.
func SetMeta(paramsOrResult json.RawMessage, m Meta) (json.RawMessage, error) {
	raw := map[string]json.RawMessage{}
	if len(paramsOrResult) > 0 {
		if err := json.Unmarshal(paramsOrResult, &raw); err != nil {
			return nil, fmt.Errorf("set meta: %w", err)
		}
	}

	metaOut := map[string]json.RawMessage{}
	for k, v := range m.Rest {
		metaOut[k] = v
	}
	if len(m.Symposium) > 0 {
		symBytes, err := json.Marshal(m.Symposium)
		if err != nil {
			return nil, fmt.Errorf("set meta: %w", err)
		}
		metaOut["symposium"] = symBytes
	}

	if len(metaOut) == 0 {
		delete(raw, "_meta")
	} else {
		metaBytes, err := json.Marshal(metaOut)
		if err != nil {
			return nil, fmt.Errorf("set meta: %w", err)
		}
		raw["_meta"] = metaBytes
	}

	return json.Marshal(raw)
}
