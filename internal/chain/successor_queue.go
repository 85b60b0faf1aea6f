package chain

import (
	"context"
	"sync"

	"conductor/internal/pacp/framer"
)

// PredReader is anything a link can read predecessor-bound frames from:
// the real editor connection for link 0, or a SuccessorQueue for every
// later link in the chain.
type PredReader interface {
	ReadFrame(ctx context.Context) ([]byte, error)
}

// PredWriter is anything a link can write a frame addressed to its
// predecessor to.
type PredWriter interface {
	WriteFrame(data []byte) error
}

// SuccessorQueue is the in-memory connection between a link and the
// link that owns its successor component. A component addresses its
// successor by emitting a `_proxy/successor/*` envelope on its own
// stdout; since a component's stdio belongs to exactly one link, the
// owning link relays that envelope here rather than letting the next
// link read the component's pipes directly. SuccessorQueue implements
// both PredReader and PredWriter, so the successor link can use it
// verbatim as its predecessor connection.
type SuccessorQueue struct {
	down chan []byte // owner -> successor link's predecessor reader
	up   chan []byte // successor link -> owner, relayed to the owner's own child

	closeOnce sync.Once
	closed    chan struct{}
}

func newSuccessorQueue() *SuccessorQueue {
	return &SuccessorQueue{
		down:   make(chan []byte, 16),
		up:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (q *SuccessorQueue) close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// pushDown is called by the owning link to relay an envelope frame its
// own child emitted to the successor link's predecessor reader.
func (q *SuccessorQueue) pushDown(data []byte) error {
	select {
	case q.down <- data:
		return nil
	case <-q.closed:
		return framer.ErrClosed
	}
}

// readUp is called by the owning link to receive frames the successor
// link wrote back, for relay onto the owning link's own child stdin.
func (q *SuccessorQueue) readUp(ctx context.Context) ([]byte, error) {
	select {
	case data := <-q.up:
		return data, nil
	case <-q.closed:
		return nil, framer.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReadFrame implements PredReader for the successor link: it yields
// frames the owning link relayed via pushDown.
func (q *SuccessorQueue) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case data := <-q.down:
		return data, nil
	case <-q.closed:
		return nil, framer.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteFrame implements PredWriter for the successor link: it sends a
// frame back toward the owning link's child.
func (q *SuccessorQueue) WriteFrame(data []byte) error {
	select {
	case q.up <- data:
		return nil
	case <-q.closed:
		return framer.ErrClosed
	}
}
