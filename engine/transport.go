package engine

import (
	"context"
	"sync"
)

// Request is one inbound message waiting for a worker.
type Request struct {
	Data  []byte
	reply func([]byte) error
}

// NewRequest wraps data with the function that sends its reply.
func NewRequest(data []byte, reply func([]byte) error) *Request {
	return &Request{Data: data, reply: reply}
}

// Reply sends the reply message back to the caller.
func (r *Request) Reply(data []byte) error {
	if r.reply == nil {
		return nil
	}
	return r.reply(data)
}

// Listener delivers requests for one endpoint. After Close returns the
// listener never delivers another request, but replies to requests already
// delivered must still reach their callers until Shutdown.
type Listener interface {
	Close() error
	Shutdown() error
}

// Conn is a client connection that exchanges one message for one reply.
type Conn interface {
	RoundTrip(ctx context.Context, data []byte) ([]byte, error)
	Close() error
}

// Transport moves PDUs for one protocol sequence.
type Transport interface {
	Protseq() ProtocolSequence
	// Listen starts delivering requests addressed to sb into queue.
	Listen(ctx context.Context, sb StringBinding, queue chan<- *Request) (Listener, error)
	// Dial opens a connection to the endpoint named by sb.
	Dial(ctx context.Context, sb StringBinding) (Conn, error)
}

var (
	transportsMu sync.RWMutex
	transports   = map[ProtocolSequence]Transport{}
)

// RegisterTransport makes t available for its protocol sequence, replacing
// any previous transport.
func RegisterTransport(t Transport) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[t.Protseq()] = t
}

func transportFor(p ProtocolSequence) (Transport, error) {
	transportsMu.RLock()
	t, ok := transports[p]
	transportsMu.RUnlock()
	if !ok {
		return nil, bindError(StatusProtseqNotSupported, string(p), nil)
	}
	return t, nil
}

func init() {
	RegisterTransport(newLocalTransport())
	RegisterTransport(NewNATSTransport())
}

// gate serializes delivery against close. Deliveries hold the read lock
// while they wait for queue space, so once close holds the write lock no
// delivery is in progress and none can start.
type gate struct {
	mu     sync.RWMutex
	done   chan struct{}
	closed bool
	once   sync.Once
}

func newGate() *gate {
	return &gate{done: make(chan struct{})}
}

func (g *gate) deliver(ctx context.Context, queue chan<- *Request, req *Request) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return bindError(StatusServerUnavailable, "endpoint closed", nil)
	}
	select {
	case queue <- req:
		return nil
	case <-g.done:
		return bindError(StatusServerUnavailable, "endpoint closed", nil)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) close() {
	g.once.Do(func() {
		close(g.done)
		g.mu.Lock()
		g.closed = true
		g.mu.Unlock()
	})
}
