// Package research implements the reference "research" proxy component:
// it exposes a `rust_crate_query` tool upstream, services each call by
// opening a nested downstream session to let a sub-agent do the actual
// research, auto-approves permission requests from sessions it owns,
// and completes the call once the sub-agent signals it is done via the
// `return_response_to_user` sentinel tool.
package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"conductor/internal/mcptool"
	"conductor/internal/pacp/framer"
	"conductor/internal/pacp/protocol"
	"conductor/pkg/logger"
)

// BuiltinCommand is the reserved ComponentSpec.Command value the
// conductor recognizes as "run the in-process research component"
// rather than spawning a subprocess.
const BuiltinCommand = "internal:research"

// ErrResearchIncomplete is returned from Run (via the component's
// ExitStatus.Err) when Run's context is canceled while a
// `rust_crate_query` call is still waiting for `return_response_to_user`.
// The end of a nested session is not otherwise detected: a session that
// stops without the sentinel leaves its query waiting until then.
var ErrResearchIncomplete = errors.New("research: session ended before return_response_to_user")

// component is the research component's own runtime state for one
// chain run.
type component struct {
	r *framer.Reader
	w *framer.Writer

	sessions *sessionSet
	registry *mcptool.Registry
	subtools *mcptool.Registry

	outbound   sync.Map // string(outer id) -> chan *protocol.Frame
	outboundID int64

	incompleteMu sync.Mutex
	incomplete   error
}

// Run drives the research component over r (its "stdin", frames sent by
// its predecessor or the responses to requests it issued) and w (its
// "stdout", frames addressed to its predecessor or enveloped requests
// addressed to its successor). It returns when r is closed (normal
// shutdown) or a protocol error makes continuing impossible.
func Run(ctx context.Context, r io.Reader, w io.Writer) error {
	c := &component{
		r:        framer.NewReader(r),
		w:        framer.NewWriter(w),
		sessions: newSessionSet(),
	}
	c.registry = c.buildUpstreamRegistry()
	c.subtools = c.buildSubtoolRegistry()

	for {
		raw, err := c.r.ReadFrame(ctx)
		if err != nil {
			return c.finalError()
		}

		frame, err := protocol.ParseFrame(raw)
		if err != nil {
			logger.Warnf("research: malformed frame: %v", err)
			continue
		}

		c.dispatch(ctx, frame)
	}
}

func (c *component) finalError() error {
	c.incompleteMu.Lock()
	defer c.incompleteMu.Unlock()
	return c.incomplete
}

func (c *component) flagIncomplete(err error) {
	c.incompleteMu.Lock()
	if c.incomplete == nil {
		c.incomplete = err
	}
	c.incompleteMu.Unlock()
}

func (c *component) dispatch(ctx context.Context, frame *protocol.Frame) {
	switch frame.Classify() {
	case protocol.KindResponse:
		c.deliverOutboundResponse(frame)
	case protocol.KindRequest:
		c.handleRequest(ctx, frame)
	case protocol.KindNotification:
		c.handleNotification(ctx, frame)
	default:
		logger.Warnf("research: unclassifiable frame")
	}
}

func (c *component) handleRequest(ctx context.Context, frame *protocol.Frame) {
	switch frame.Method {
	case MethodInitialize:
		c.respond(frame.ID, map[string]any{
			"protocolVersion": 1,
			"serverInfo":      map[string]any{"name": "research", "version": "1"},
		})
	case MethodToolsList:
		c.respond(frame.ID, map[string]any{"tools": c.registry.List()})
	case MethodToolsCall:
		go c.handleToolsCall(ctx, frame)
	case MethodRequestPermission:
		c.handlePermissionRequest(frame)
	default:
		c.respondError(frame.ID, protocol.NewMethodNotFoundError(frame.ID, frame.Method).Error)
	}
}

func (c *component) handleNotification(ctx context.Context, frame *protocol.Frame) {
	if frame.Method != MethodSessionUpdate {
		return
	}
	var params SessionUpdateParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return
	}
	if params.ToolCall == nil || !c.sessions.owns(params.SessionID) {
		return
	}
	if params.ToolCall.Name == ToolReturnResponseToUser {
		text, _ := params.ToolCall.Arguments["response"].(string)
		if st, ok := c.sessions.get(params.SessionID); ok {
			select {
			case st.done <- text:
			default:
			}
			c.sessions.remove(params.SessionID)
		}
	}
}

// handleToolsCall dispatches `tools/call`: a sessionId present and
// owned means the nested sub-agent is calling one of research's
// sub-tools; otherwise it is the upstream `rust_crate_query` call.
func (c *component) handleToolsCall(ctx context.Context, frame *protocol.Frame) {
	var params ToolCallParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		c.respondError(frame.ID, protocol.NewInvalidParamsError(frame.ID, err.Error()).Error)
		return
	}

	if params.SessionID != "" && c.sessions.owns(params.SessionID) {
		res, err := c.subtools.Call(mcptool.CallParams{Name: params.Name, Arguments: params.Arguments})
		if err != nil {
			c.respondError(frame.ID, protocol.NewInternalError(frame.ID, err.Error()).Error)
			return
		}
		c.respond(frame.ID, res)
		return
	}

	if params.Name != ToolRustCrateQuery {
		c.respondError(frame.ID, protocol.NewMethodNotFoundError(frame.ID, params.Name).Error)
		return
	}

	res, err := c.runRustCrateQuery(ctx, params.Arguments)
	if err != nil {
		c.respond(frame.ID, mcptool.NewErrorResult(err.Error()))
		return
	}
	c.respond(frame.ID, res)
}

// handlePermissionRequest auto-approves permission requests for
// sessions research owns: picks the first allow option, or responds
// "cancelled" if the option list is empty (§9).
func (c *component) handlePermissionRequest(frame *protocol.Frame) {
	var params RequestPermissionParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		c.respondError(frame.ID, protocol.NewInvalidParamsError(frame.ID, err.Error()).Error)
		return
	}

	if !c.sessions.owns(params.SessionID) {
		// Not ours to auto-approve; cancel rather than silently hang,
		// since this component never forwards it to a human reviewer.
		c.respond(frame.ID, RequestPermissionResult{Outcome: PermissionOutcome{Outcome: "cancelled"}})
		return
	}

	if len(params.Options) == 0 {
		c.respond(frame.ID, RequestPermissionResult{Outcome: PermissionOutcome{Outcome: "cancelled"}})
		return
	}

	for _, opt := range params.Options {
		if opt.Kind == "allow_once" || opt.Kind == "allow_always" {
			c.respond(frame.ID, RequestPermissionResult{
				Outcome: PermissionOutcome{Outcome: "selected", OptionID: opt.OptionID},
			})
			return
		}
	}
	c.respond(frame.ID, RequestPermissionResult{Outcome: PermissionOutcome{Outcome: "cancelled"}})
}

func (c *component) respond(id json.RawMessage, result any) {
	frame, err := protocol.NewResult(id, result)
	if err != nil {
		logger.Warnf("research: marshal result: %v", err)
		return
	}
	c.write(frame)
}

func (c *component) respondError(id json.RawMessage, rpcErr *protocol.RPCError) {
	c.write(protocol.NewErrorResponse(id, rpcErr))
}

func (c *component) write(frame *protocol.Frame) {
	data, err := frame.Marshal()
	if err != nil {
		logger.Warnf("research: marshal frame: %v", err)
		return
	}
	if err := c.w.WriteFrame(data); err != nil {
		logger.Warnf("research: write frame: %v", err)
	}
}

// sendEnvelope wraps inner in a `_proxy/successor/request` envelope,
// writes it, and blocks until the matching envelope response arrives.
func (c *component) sendEnvelope(ctx context.Context, inner *protocol.Frame) (*protocol.Frame, error) {
	outerID := json.RawMessage(fmt.Sprintf("%d", atomic.AddInt64(&c.outboundID, 1)))

	envelope, err := protocol.WrapRequest(outerID, inner)
	if err != nil {
		return nil, err
	}

	ch := make(chan *protocol.Frame, 1)
	c.outbound.Store(string(outerID), ch)
	defer c.outbound.Delete(string(outerID))

	c.write(envelope)

	select {
	case resp := <-ch:
		return protocol.UnwrapResponse(resp)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *component) deliverOutboundResponse(frame *protocol.Frame) {
	key := string(frame.ID)
	v, ok := c.outbound.Load(key)
	if !ok {
		logger.Warnf("research: spurious outbound response for id %s", frame.ID)
		return
	}
	ch := v.(chan *protocol.Frame)
	ch <- frame
}

// runRustCrateQuery opens a nested session, kicks off the sub-agent
// with a prompt built from the query arguments, and waits for its
// return_response_to_user call.
func (c *component) runRustCrateQuery(ctx context.Context, args map[string]any) (mcptool.CallResult, error) {
	crateName, _ := args["crate"].(string)
	if crateName == "" {
		return mcptool.CallResult{}, fmt.Errorf("rust_crate_query: missing required argument \"crate\"")
	}

	newSessionReq, err := protocol.NewRequest(json.RawMessage(`"`+uuid.NewString()+`"`), MethodSessionNew, SessionNewParams{})
	if err != nil {
		return mcptool.CallResult{}, err
	}
	newSessionResp, err := c.sendEnvelope(ctx, newSessionReq)
	if err != nil {
		return mcptool.CallResult{}, fmt.Errorf("rust_crate_query: create session: %w", err)
	}
	if newSessionResp.Error != nil {
		return mcptool.CallResult{}, fmt.Errorf("rust_crate_query: create session: %s", newSessionResp.Error.Message)
	}

	var newSessionResult SessionNewResult
	if err := json.Unmarshal(newSessionResp.Result, &newSessionResult); err != nil {
		return mcptool.CallResult{}, fmt.Errorf("rust_crate_query: parse session/new result: %w", err)
	}
	sessionID := newSessionResult.SessionID

	st := c.sessions.add(sessionID)

	promptReq, err := protocol.NewRequest(
		json.RawMessage(`"`+sessionID+`-prompt"`),
		MethodSessionPrompt,
		SessionPromptParams{SessionID: sessionID, Prompt: "Research the Rust crate " + crateName + " and call return_response_to_user with your findings."},
	)
	if err != nil {
		c.sessions.remove(sessionID)
		return mcptool.CallResult{}, err
	}

	go func() {
		if _, err := c.sendEnvelope(ctx, promptReq); err != nil {
			logger.Warnf("research: session %s prompt turn failed: %v", sessionID, err)
		}
	}()

	select {
	case answer := <-st.done:
		return mcptool.NewTextContent(answer), nil
	case <-ctx.Done():
		c.sessions.remove(sessionID)
		c.flagIncomplete(ErrResearchIncomplete)
		return mcptool.CallResult{}, ctx.Err()
	}
}

func (c *component) buildUpstreamRegistry() *mcptool.Registry {
	reg := mcptool.NewRegistry()
	reg.Register(mcptool.Tool{
		Name:        ToolRustCrateQuery,
		Description: "Research a Rust crate and report back a summary.",
		InputSchema: mcptool.InputSchema(map[string]any{
			"crate": map[string]any{"type": "string", "description": "crates.io crate name"},
		}, []string{"crate"}),
	}, nil) // dispatched specially in handleToolsCall, not via Call
	return reg
}

func (c *component) buildSubtoolRegistry() *mcptool.Registry {
	reg := mcptool.NewRegistry()
	reg.Register(mcptool.Tool{
		Name:        ToolGetCrateSource,
		Description: "Fetch the published source of a crate version.",
		InputSchema: mcptool.InputSchema(map[string]any{
			"crate":   map[string]any{"type": "string"},
			"version": map[string]any{"type": "string"},
		}, []string{"crate"}),
	}, func(args map[string]any) (mcptool.CallResult, error) {
		crate, _ := args["crate"].(string)
		return mcptool.NewTextContent(fmt.Sprintf("source lookup for %s is not implemented in this reference component", crate)), nil
	})
	reg.Register(mcptool.Tool{
		Name:        ToolReturnResponseToUser,
		Description: "Signal that the research turn is complete with a final response.",
		InputSchema: mcptool.InputSchema(map[string]any{
			"response": map[string]any{"type": "string"},
		}, []string{"response"}),
	}, func(args map[string]any) (mcptool.CallResult, error) {
		// The actual completion signaling happens in
		// handleNotification when the wrapping session/update arrives;
		// the tool call itself just acknowledges receipt to the
		// sub-agent.
		return mcptool.NewTextContent("acknowledged"), nil
	})
	return reg
}
