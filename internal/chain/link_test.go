package chain

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"conductor/internal/pacp/framer"
	"conductor/internal/pacp/protocol"
)

// testHarness wires a Link between two in-memory pipes: one standing in
// for the predecessor (editor or previous link), one for the child
// component, both driven directly by the test via framer readers/
// writers so no real subprocess is needed.
type testHarness struct {
	link *Link

	// predecessor-side ends, used by the test to act as the predecessor.
	predR *framer.Reader
	predW *framer.Writer

	// child-side ends, used by the test to act as the child.
	childR *framer.Reader
	childW *framer.Writer
}

func newTestHarness(t *testing.T, pos Position) *testHarness {
	t.Helper()

	predToLinkR, predToLinkW := io.Pipe()
	linkToPredR, linkToPredW := io.Pipe()

	pc, driverIn, driverOut := NewPipeComponent("child")

	link := NewLink(
		ComponentSpec{ID: "child", Position: pos},
		pc,
		framer.NewReader(predToLinkR),
		framer.NewWriter(linkToPredW),
	)

	go link.Run(context.Background())

	return &testHarness{
		link:   link,
		predR:  framer.NewReader(linkToPredR),
		predW:  framer.NewWriter(predToLinkW),
		childR: framer.NewReader(driverIn),
		childW: framer.NewWriter(driverOut),
	}
}

func sendFrame(t *testing.T, w *framer.Writer, f *protocol.Frame) {
	t.Helper()
	data, err := f.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := w.WriteFrame(data); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
}

func recvFrame(t *testing.T, r *framer.Reader) *protocol.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := r.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	f, err := protocol.ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	return f
}

func TestLinkForwardsPlainRequestAndTranslatesResponseID(t *testing.T) {
	h := newTestHarness(t, PositionIntermediate)

	req, _ := protocol.NewRequest(json.RawMessage(`"orig-1"`), "session/prompt", map[string]any{"text": "hi"})
	sendFrame(t, h.predW, req)

	atChild := recvFrame(t, h.childR)
	if atChild.Method != "session/prompt" {
		t.Fatalf("child got method %q, want session/prompt", atChild.Method)
	}
	if protocol.IDEqual(atChild.ID, req.ID) {
		t.Fatalf("expected child to see a link-assigned id distinct from the predecessor's, got same id %s", atChild.ID)
	}

	resp, _ := protocol.NewResult(atChild.ID, map[string]any{"ok": true})
	sendFrame(t, h.childW, resp)

	atPred := recvFrame(t, h.predR)
	if !protocol.IDEqual(atPred.ID, req.ID) {
		t.Errorf("predecessor got id %s, want original %s", atPred.ID, req.ID)
	}
}

func TestLinkRewritesProxyCapabilityOnInitialize(t *testing.T) {
	h := newTestHarness(t, PositionTerminal)

	req, _ := protocol.NewRequest(json.RawMessage(`1`), MethodInitialize, map[string]any{"protocolVersion": 1})
	sendFrame(t, h.predW, req)

	atChild := recvFrame(t, h.childR)
	meta, err := protocol.GetMeta(atChild.Params)
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if meta.Symposium[protocol.CapProxy] {
		t.Errorf("terminal link's child should see no proxy key, got proxy=true")
	}

	resultMeta := json.RawMessage(`{"_meta":{"symposium":{"proxy":false}}}`)
	resp, _ := protocol.NewResult(atChild.ID, json.RawMessage(`{}`))
	resp.Result = resultMeta
	sendFrame(t, h.childW, resp)

	atPred := recvFrame(t, h.predR)
	if atPred.Classify() != protocol.KindResponse {
		t.Fatalf("expected a response at predecessor, got %v", atPred.Classify())
	}
}

func TestLinkEnvelopeRoundTrip(t *testing.T) {
	h := newTestHarness(t, PositionIntermediate)

	inner, _ := protocol.NewRequest(json.RawMessage(`"c-9"`), "custom/tool", nil)
	envelope, err := protocol.WrapRequest(json.RawMessage(`"env-1"`), inner)
	if err != nil {
		t.Fatalf("WrapRequest: %v", err)
	}
	sendFrame(t, h.predW, envelope)

	atChild := recvFrame(t, h.childR)
	if atChild.Method != "custom/tool" {
		t.Fatalf("child got method %q, want custom/tool", atChild.Method)
	}

	childResp, _ := protocol.NewResult(atChild.ID, map[string]any{"done": true})
	sendFrame(t, h.childW, childResp)

	atPred := recvFrame(t, h.predR)
	if !protocol.IDEqual(atPred.ID, envelope.ID) {
		t.Fatalf("expected envelope response addressed back to %s, got %s", envelope.ID, atPred.ID)
	}
	innerResp, err := protocol.UnwrapResponse(atPred)
	if err != nil {
		t.Fatalf("UnwrapResponse: %v", err)
	}
	if !protocol.IDEqual(innerResp.ID, inner.ID) {
		t.Errorf("inner response id = %s, want %s", innerResp.ID, inner.ID)
	}
}

func TestLinkForwardsChildOriginatedRequest(t *testing.T) {
	h := newTestHarness(t, PositionIntermediate)

	childReq, _ := protocol.NewRequest(json.RawMessage(`"child-7"`), "session/request_permission", nil)
	sendFrame(t, h.childW, childReq)

	atPred := recvFrame(t, h.predR)
	if atPred.Method != "session/request_permission" {
		t.Fatalf("predecessor got method %q, want session/request_permission", atPred.Method)
	}
	if protocol.IDEqual(atPred.ID, childReq.ID) {
		t.Fatal("expected predecessor to see a link-assigned id distinct from the child's")
	}

	predResp, _ := protocol.NewResult(atPred.ID, map[string]any{"outcome": "allow"})
	sendFrame(t, h.predW, predResp)

	atChild := recvFrame(t, h.childR)
	if !protocol.IDEqual(atChild.ID, childReq.ID) {
		t.Errorf("child got id %s, want original %s", atChild.ID, childReq.ID)
	}
}

func TestLinkDuplicateIDAnsweredWithoutForwarding(t *testing.T) {
	h := newTestHarness(t, PositionIntermediate)

	first, _ := protocol.NewRequest(json.RawMessage(`1`), "a", nil)
	sendFrame(t, h.predW, first)
	atChildFirst := recvFrame(t, h.childR)
	if atChildFirst.Method != "a" {
		t.Fatalf("child got method %q for first request, want a", atChildFirst.Method)
	}

	second, _ := protocol.NewRequest(json.RawMessage(`1`), "b", nil)
	sendFrame(t, h.predW, second)

	atPred := recvFrame(t, h.predR)
	if !protocol.IDEqual(atPred.ID, second.ID) {
		t.Fatalf("duplicate-id response id = %s, want %s", atPred.ID, second.ID)
	}
	if atPred.Error == nil || atPred.Error.Code != protocol.ErrCodeInvalidRequest {
		t.Fatalf("expected a -32600 error for the duplicate id, got %+v", atPred.Error)
	}

	// The first request must still proceed normally: its response
	// reaches the predecessor untouched by the duplicate.
	resp, _ := protocol.NewResult(atChildFirst.ID, map[string]any{"ok": true})
	sendFrame(t, h.childW, resp)

	atPredForFirst := recvFrame(t, h.predR)
	if !protocol.IDEqual(atPredForFirst.ID, first.ID) {
		t.Errorf("first request's response id = %s, want %s", atPredForFirst.ID, first.ID)
	}
}

func TestLinkUnclassifiableFrameFromPredecessorGetsInvalidRequestResponse(t *testing.T) {
	h := newTestHarness(t, PositionIntermediate)

	garbled := &protocol.Frame{ID: json.RawMessage(`9`)} // neither method nor result/error
	sendFrame(t, h.predW, garbled)

	atPred := recvFrame(t, h.predR)
	if atPred.Error == nil || atPred.Error.Code != protocol.ErrCodeInvalidRequest {
		t.Fatalf("expected a -32600 error back to the predecessor, got %+v", atPred)
	}
}

func TestLinkUnclassifiableFrameFromChildGetsInvalidRequestResponse(t *testing.T) {
	h := newTestHarness(t, PositionIntermediate)

	garbled := &protocol.Frame{ID: json.RawMessage(`9`)}
	sendFrame(t, h.childW, garbled)

	atChild := recvFrame(t, h.childR)
	if atChild.Error == nil || atChild.Error.Code != protocol.ErrCodeInvalidRequest {
		t.Fatalf("expected a -32600 error back to the child, got %+v", atChild)
	}
}

// TestTwoLinkChainDoesNotAliasMiddleComponentPipes exercises a chain of
// length 2 the way the conductor wires it: link0's successor queue
// feeds link1's predecessor side, instead of link1 reading link0's
// child's stdout directly. It proves comp0's stdio is touched by
// exactly one reader and one writer even though comp0 is both a child
// (of link0) and a predecessor-side source (for link1).
func TestTwoLinkChainDoesNotAliasMiddleComponentPipes(t *testing.T) {
	predToLink0R, predToLink0W := io.Pipe()
	link0ToPredR, link0ToPredW := io.Pipe()

	pc0, driver0In, driver0Out := NewPipeComponent("comp0")
	pc1, driver1In, driver1Out := NewPipeComponent("comp1")

	link0 := NewLink(ComponentSpec{ID: "comp0", Position: PositionIntermediate}, pc0,
		framer.NewReader(predToLink0R), framer.NewWriter(link0ToPredW))
	queueIn, queueOut := link0.AttachSuccessor()
	link1 := NewLink(ComponentSpec{ID: "comp1", Position: PositionTerminal}, pc1, queueIn, queueOut)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link0.Run(ctx)
	go link1.Run(ctx)

	comp0In := framer.NewReader(driver0In)
	comp0Out := framer.NewWriter(driver0Out)
	comp1In := framer.NewReader(driver1In)
	comp1Out := framer.NewWriter(driver1Out)
	editorW := framer.NewWriter(predToLink0W)
	editorR := framer.NewReader(link0ToPredR)

	// Plain pass-through from the editor reaches comp0 alone.
	ping, _ := protocol.NewRequest(json.RawMessage(`1`), "ping", nil)
	sendFrame(t, editorW, ping)
	atComp0 := recvFrame(t, comp0In)
	if atComp0.Method != "ping" {
		t.Fatalf("comp0 got method %q, want ping", atComp0.Method)
	}
	pong, _ := protocol.NewResult(atComp0.ID, map[string]any{"ok": true})
	sendFrame(t, comp0Out, pong)
	atEditor := recvFrame(t, editorR)
	if !protocol.IDEqual(atEditor.ID, ping.ID) {
		t.Fatalf("editor got id %s, want %s", atEditor.ID, ping.ID)
	}

	// comp0 addresses its successor (comp1); the envelope must reach
	// comp1 intact and the reply must come back to comp0's own stdin,
	// never racing with the plain traffic above.
	inner, _ := protocol.NewRequest(json.RawMessage(`"a"`), MethodInitialize, map[string]any{"_meta": map[string]any{"symposium": map[string]any{}}})
	envelope, err := protocol.WrapRequest(json.RawMessage(`"env-1"`), inner)
	if err != nil {
		t.Fatalf("WrapRequest: %v", err)
	}
	sendFrame(t, comp0Out, envelope)

	atComp1 := recvFrame(t, comp1In)
	if atComp1.Method != MethodInitialize {
		t.Fatalf("comp1 got method %q, want %s", atComp1.Method, MethodInitialize)
	}
	meta, err := protocol.GetMeta(atComp1.Params)
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if _, ok := meta.Symposium[protocol.CapProxy]; ok {
		t.Errorf("terminal comp1 should see no proxy key, got %v", meta.Symposium)
	}

	comp1Resp, _ := protocol.NewResult(atComp1.ID, map[string]any{"capabilities": map[string]any{}})
	sendFrame(t, comp1Out, comp1Resp)

	backAtComp0 := recvFrame(t, comp0In)
	if !protocol.IDEqual(backAtComp0.ID, envelope.ID) {
		t.Fatalf("reply to comp0 had id %s, want envelope id %s", backAtComp0.ID, envelope.ID)
	}
}
