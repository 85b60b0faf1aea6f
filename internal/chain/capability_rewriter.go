package chain

import (
	"encoding/json"

	"conductor/internal/pacp/protocol"
)

// CapabilityRewriter applies the `_meta.symposium` rewriting rules a
// link runs over the `initialize` exchange with its child (§4.5): the
// outbound request tells the child whether it has a successor beyond
// this link, and the inbound result's capability union tells the
// predecessor what the remainder of the chain can do.
type CapabilityRewriter struct {
	position Position

	// bridgeActivationRequired latches when an inbound initialize
	// result asks for mcp_acp_transport at a link that cannot itself
	// activate an MCP-over-ACP bridge (only the terminal link's child
	// can actually speak MCP). Detection is in scope; activation
	// (spawning an auxiliary bridge process) is not (§9).
	bridgeActivationRequired bool
}

// NewCapabilityRewriter builds a rewriter for a link at position pos.
func NewCapabilityRewriter(pos Position) *CapabilityRewriter {
	return &CapabilityRewriter{position: pos}
}

// RewriteOutboundParams rewrites `_meta.symposium` on an initialize
// request before it is forwarded to the child (§4.5):
//   - `proxy` is set true when the child is not terminal, since it is
//     itself followed by another link; for a terminal child the key is
//     removed entirely rather than set false.
//   - `mcp_acp_transport` is forced true on the way to an intermediate
//     child regardless of what the predecessor advertised; on the way
//     to the terminal child it is left exactly as the predecessor sent
//     it.
func (r *CapabilityRewriter) RewriteOutboundParams(params json.RawMessage) (json.RawMessage, error) {
	meta, err := protocol.GetMeta(params)
	if err != nil {
		return nil, err
	}
	if meta.Symposium == nil {
		meta.Symposium = map[string]bool{}
	}
	if r.position == PositionTerminal {
		delete(meta.Symposium, protocol.CapProxy)
	} else {
		meta.Symposium[protocol.CapProxy] = true
		meta.Symposium[protocol.CapMCPACPTransport] = true
	}
	return protocol.SetMeta(params, meta)
}

// RewriteInboundResult inspects an initialize result coming back from
// the child before it is forwarded to the predecessor. It merges
// nothing in itself: `_meta.symposium`, `proxy`/`mcp_acp_transport`
// included, is carried upstream exactly as the child sent it, so any
// union of the child's capabilities with its successor's is the one the
// child put in its own result. The predecessor needs to know what the remainder of the
// chain (this link's child and everything past it) can actually do,
// not just what the immediate child supports in isolation. The one
// exception is recording (not rewriting) a bridge request this link
// cannot satisfy, surfaced via BridgeActivationRequired.
func (r *CapabilityRewriter) RewriteInboundResult(result json.RawMessage) (json.RawMessage, error) {
	meta, err := protocol.GetMeta(result)
	if err != nil {
		return nil, err
	}
	if meta.Symposium[protocol.CapMCPACPTransport] && r.position != PositionTerminal {
		r.bridgeActivationRequired = true
	}
	return protocol.SetMeta(result, meta)
}

// BridgeActivationRequired reports whether an inbound initialize result
// asked for MCP-over-ACP bridging this link cannot itself activate.
func (r *CapabilityRewriter) BridgeActivationRequired() bool {
	return r.bridgeActivationRequired
}
