package chain

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"conductor/internal/pacp/framer"
	"conductor/internal/pacp/protocol"
	"conductor/pkg/logger"
)

// MethodInitialize is the one method the capability rewriter inspects;
// every other method passes through untouched.
const MethodInitialize = "initialize"

// Link binds one Component to the message flow between its predecessor
// (the previous link, or the editor for the first link) and its child.
// It runs four concurrent activities: forward predecessor traffic to
// the child, forward child traffic to the predecessor, drain the
// child's stderr to the logger, and watch for the child's exit.
type Link struct {
	ID       string
	Position Position

	comp     Component
	rewriter *CapabilityRewriter

	predIn  PredReader
	predOut PredWriter

	childIn  *framer.Writer
	childOut *framer.Reader

	// successor is the in-memory queue toward the link that owns this
	// link's own successor component, attached via AttachSuccessor. It
	// is nil for the terminal link, which has no successor.
	successor *SuccessorQueue

	// downPending tracks requests forwarded from predecessor to child
	// (plain pass-through, or unwrapped from a `_proxy/successor/request`
	// envelope the predecessor sent addressed to this link's child).
	downPending *PendingTable
	// upPending tracks requests the child originated toward the
	// predecessor, so their eventual responses (arriving from the
	// predecessor) translate back to the child's own id.
	upPending *PendingTable

	onCrash func(id string, status ExitStatus)

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewLink creates a link. predIn/predOut are the framed connection to
// the predecessor (the real editor connection for link 0, or the
// previous link's SuccessorQueue for every later link); comp is
// already spawned and running.
func NewLink(spec ComponentSpec, comp Component, predIn PredReader, predOut PredWriter) *Link {
	return &Link{
		ID:          spec.ID,
		Position:    spec.Position,
		comp:        comp,
		rewriter:    NewCapabilityRewriter(spec.Position),
		predIn:      predIn,
		predOut:     predOut,
		childIn:     framer.NewWriter(comp.Writer()),
		childOut:    framer.NewReader(comp.Reader()),
		downPending: NewPendingTable(),
		upPending:   NewPendingTable(),
		shutdownCh:  make(chan struct{}),
	}
}

// AttachSuccessor creates the in-memory queue connecting this link to
// the link that will own its successor component, and returns it as
// that link's predecessor connection. Must be called before Run, and
// not at all for the terminal link.
func (l *Link) AttachSuccessor() (PredReader, PredWriter) {
	q := newSuccessorQueue()
	l.successor = q
	return q, q
}

// BridgeActivationRequired reports whether this link's capability
// rewriter saw an initialize result asking for MCP-over-ACP bridging it
// could not itself satisfy.
func (l *Link) BridgeActivationRequired() bool {
	return l.rewriter.BridgeActivationRequired()
}

// PendingCounts reports how many requests this link currently has in
// flight in each direction, for observability snapshots.
func (l *Link) PendingCounts() (down, up int) {
	return l.downPending.Len(), l.upPending.Len()
}

// OnCrash registers a callback invoked once, from the exit-watcher
// activity, if the child terminates before the link is shut down
// cooperatively.
func (l *Link) OnCrash(f func(id string, status ExitStatus)) {
	l.onCrash = f
}

// Run starts the link's four concurrent activities (plus the successor
// reply relay for a non-terminal link) and blocks until all of them
// have returned. The exit watcher returns when the child exits or ctx is
// canceled; the forwarders return when their input fails or ctx is
// canceled, so a child exit alone does not end Run.
func (l *Link) Run(ctx context.Context) {
	var wg sync.WaitGroup
	n := 3
	if l.successor != nil {
		n++
	}
	wg.Add(n)

	go func() { defer wg.Done(); l.forwardDown(ctx) }()
	go func() { defer wg.Done(); l.forwardUp(ctx) }()
	go func() { defer wg.Done(); l.drainStderr(ctx) }()
	if l.successor != nil {
		go func() { defer wg.Done(); l.drainSuccessorReplies(ctx) }()
	}

	l.watchExit(ctx)

	wg.Wait()
}

// forwardDown reads frames from the predecessor and delivers them to
// the child, assigning a fresh outer id per request so this link's id
// space never collides with another link's.
func (l *Link) forwardDown(ctx context.Context) {
	for {
		raw, err := l.predIn.ReadFrame(ctx)
		if err != nil {
			l.logReadErr("predecessor", err)
			return
		}

		frame, err := protocol.ParseFrame(raw)
		if err != nil {
			logger.Warnf("link %s: malformed frame from predecessor: %v", l.ID, err)
			continue
		}

		if err := l.handleFromPredecessor(frame); err != nil {
			logger.Warnf("link %s: %v", l.ID, err)
		}
	}
}

func (l *Link) handleFromPredecessor(frame *protocol.Frame) error {
	if frame.Method == protocol.MethodProxySuccessorRequest {
		inner, err := protocol.UnwrapRequest(frame)
		if err != nil {
			return err
		}
		if inner.Method == MethodInitialize {
			rewritten, err := l.rewriter.RewriteOutboundParams(inner.Params)
			if err != nil {
				return err
			}
			inner.Params = rewritten
		}
		return l.sendToChild(inner, OriginEnvelope, frame.ID, l.downPending)
	}
	if frame.Method == protocol.MethodProxySuccessorNotification {
		inner, err := protocol.UnwrapNotification(frame)
		if err != nil {
			return err
		}
		return l.writeToChild(inner)
	}

	switch frame.Classify() {
	case protocol.KindRequest:
		if frame.Method == MethodInitialize {
			rewritten, err := l.rewriter.RewriteOutboundParams(frame.Params)
			if err != nil {
				return err
			}
			frame.Params = rewritten
		}
		return l.sendToChild(frame, OriginPlain, frame.ID, l.downPending)
	case protocol.KindNotification:
		return l.writeToChild(frame)
	case protocol.KindResponse:
		// A response to a request the child itself originated toward
		// the predecessor; translate back to the child's own id.
		return l.deliverResponse(frame, l.upPending, l.writeToChild)
	default:
		logger.Warnf("link %s: predecessor sent an unclassifiable frame", l.ID)
		return l.writeToPredecessor(protocol.NewInvalidRequestError(frame.ID, "invalid request"))
	}
}

// sendToChild assigns a fresh outer id for frame in table, substitutes
// it, and writes the frame to the child. If routeID is already pending
// in table, the request is answered with a duplicate-id error on the
// predecessor side instead of being forwarded (§4.4, §7 duplicate-id).
func (l *Link) sendToChild(frame *protocol.Frame, origin Origin, routeID json.RawMessage, table *PendingTable) error {
	outerID, dup := table.Put(origin, routeID, frame.Method)
	if dup {
		return l.writeToPredecessor(protocol.NewInvalidRequestError(routeID, "duplicate id"))
	}
	frame.ID = outerID
	return l.writeToChild(frame)
}

func (l *Link) writeToChild(frame *protocol.Frame) error {
	data, err := frame.Marshal()
	if err != nil {
		return err
	}
	return l.childIn.WriteFrame(data)
}

// forwardUp reads frames from the child and delivers them to the
// predecessor, translating response ids and handling requests/
// notifications the child originates itself.
func (l *Link) forwardUp(ctx context.Context) {
	for {
		raw, err := l.childOut.ReadFrame(ctx)
		if err != nil {
			l.logReadErr("child", err)
			l.shutdownPending()
			return
		}

		frame, err := protocol.ParseFrame(raw)
		if err != nil {
			logger.Warnf("link %s: malformed frame from child: %v", l.ID, err)
			continue
		}

		if err := l.handleFromChild(frame); err != nil {
			logger.Warnf("link %s: %v", l.ID, err)
		}
	}
}

func (l *Link) handleFromChild(frame *protocol.Frame) error {
	if frame.Method == protocol.MethodProxySuccessorRequest || frame.Method == protocol.MethodProxySuccessorNotification {
		return l.forwardToSuccessor(frame)
	}

	switch frame.Classify() {
	case protocol.KindRequest:
		return l.sendToPredecessor(frame, OriginPlain, frame.ID, l.upPending)
	case protocol.KindNotification:
		return l.writeToPredecessor(frame)
	case protocol.KindResponse:
		return l.deliverChildResponse(frame)
	default:
		logger.Warnf("link %s: child sent an unclassifiable frame", l.ID)
		return l.writeToChild(protocol.NewInvalidRequestError(frame.ID, "invalid request"))
	}
}

// forwardToSuccessor relays an envelope frame this link's own child
// addressed to its successor onto the queue the next link reads as
// its predecessor input, instead of treating it as traffic bound for
// this link's own predecessor. The eventual reply, if any, comes back
// on the same queue and is relayed straight to the child by
// drainSuccessorReplies: the ids already belong to the child's own id
// space, so no pending-table translation applies here.
func (l *Link) forwardToSuccessor(frame *protocol.Frame) error {
	if l.successor == nil {
		if frame.Method == protocol.MethodProxySuccessorRequest {
			return l.writeToChild(protocol.NewInvalidRequestError(frame.ID, "terminal component must not use "+frame.Method))
		}
		logger.Warnf("link %s: terminal component emitted %s, dropping", l.ID, frame.Method)
		return nil
	}
	data, err := frame.Marshal()
	if err != nil {
		return err
	}
	return l.successor.pushDown(data)
}

// drainSuccessorReplies relays frames the successor link wrote back
// (responses to envelope requests this link's own child issued)
// directly onto the child's stdin.
func (l *Link) drainSuccessorReplies(ctx context.Context) {
	for {
		data, err := l.successor.readUp(ctx)
		if err != nil {
			return
		}
		if err := l.childIn.WriteFrame(data); err != nil {
			logger.Warnf("link %s: relaying successor reply to child: %v", l.ID, err)
		}
	}
}

func (l *Link) deliverChildResponse(frame *protocol.Frame) error {
	origin, innerID, method, ok := l.downPending.Take(frame.ID)
	if !ok {
		logger.Warnf("link %s: spurious response from child for id %s", l.ID, frame.ID)
		return nil
	}

	if frame.Error == nil && method == MethodInitialize {
		rewritten, err := l.rewriter.RewriteInboundResult(frame.Result)
		if err == nil {
			frame.Result = rewritten
		}
	}

	frame.ID = innerID
	if origin == OriginEnvelope {
		wrapped, err := protocol.WrapResponse(innerID, frame)
		if err != nil {
			return err
		}
		return l.writeToPredecessor(wrapped)
	}
	return l.writeToPredecessor(frame)
}

// sendToPredecessor assigns a fresh outer id for a request the child
// originated and forwards it upstream. If routeID is already pending
// in table, the request is answered with a duplicate-id error on the
// child side instead of being forwarded (§4.4, §7 duplicate-id).
func (l *Link) sendToPredecessor(frame *protocol.Frame, origin Origin, routeID json.RawMessage, table *PendingTable) error {
	outerID, dup := table.Put(origin, routeID, frame.Method)
	if dup {
		return l.writeToChild(protocol.NewInvalidRequestError(routeID, "duplicate id"))
	}
	frame.ID = outerID
	return l.writeToPredecessor(frame)
}

func (l *Link) writeToPredecessor(frame *protocol.Frame) error {
	data, err := frame.Marshal()
	if err != nil {
		return err
	}
	return l.predOut.WriteFrame(data)
}

// deliverResponse is the generic "translate and forward" step shared by
// forwardDown's response handling (predecessor answering a request the
// child had originated).
func (l *Link) deliverResponse(frame *protocol.Frame, table *PendingTable, forward func(*protocol.Frame) error) error {
	_, innerID, _, ok := table.Take(frame.ID)
	if !ok {
		logger.Warnf("link %s: spurious response from predecessor for id %s", l.ID, frame.ID)
		return nil
	}
	frame.ID = innerID
	return forward(frame)
}

// drainStderr copies the child's stderr to the logger, never treating
// it as protocol traffic.
func (l *Link) drainStderr(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		n, err := l.comp.Stderr().Read(buf)
		if n > 0 {
			logger.Warnf("component %s stderr: %s", l.ID, buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				logger.Debugf("link %s: stderr drain ended: %v", l.ID, err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// watchExit blocks until the child exits or ctx is canceled, then
// drains both pending tables with synthesized chain-shutdown errors.
func (l *Link) watchExit(ctx context.Context) {
	status, err := l.comp.AwaitExit(ctx)
	if err != nil {
		// ctx canceled first; a cooperative Shutdown elsewhere owns
		// draining.
		return
	}

	logger.Infof("link %s: component exited (code=%d err=%v)", l.ID, status.ExitCode, status.Err)
	l.shutdownPending()

	if l.onCrash != nil {
		l.onCrash(l.ID, status)
	}
}

// shutdownPending synthesizes chain-shutdown error responses for every
// request this link has in flight in either direction, exactly once.
func (l *Link) shutdownPending() {
	l.shutdownOnce.Do(func() {
		close(l.shutdownCh)
		if l.successor != nil {
			l.successor.close()
		}

		for _, e := range l.downPending.Drain() {
			errResp := protocol.NewChainShutdownError(e.InnerID)
			if e.Origin == OriginEnvelope {
				wrapped, err := protocol.WrapResponse(e.InnerID, errResp)
				if err == nil {
					errResp = wrapped
				}
			}
			_ = l.writeToPredecessor(errResp)
		}
		for _, e := range l.upPending.Drain() {
			_ = l.writeToChild(protocol.NewChainShutdownError(e.InnerID))
		}
	})
}

// Shutdown asks the child to terminate and waits up to grace, then
// drains any still-pending requests.
func (l *Link) Shutdown(ctx context.Context, grace time.Duration) error {
	err := l.comp.Shutdown(ctx, grace)
	l.shutdownPending()
	return err
}

func (l *Link) logReadErr(side string, err error) {
	if err == io.EOF {
		logger.Infof("link %s: %s closed (io-closed)", l.ID, side)
		return
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return
	}
	logger.Warnf("link %s: read from %s failed: %v", l.ID, side, err)
}
