package engine

import (
	"context"
	"sync"
)

// localTransport connects clients and endpoints of the same process
// through a process-wide endpoint table.
type localTransport struct {
	mu        sync.Mutex
	endpoints map[string]*localListener
}

func newLocalTransport() *localTransport {
	return &localTransport{endpoints: make(map[string]*localListener)}
}

func (t *localTransport) Protseq() ProtocolSequence { return ProtocolLocal }

type localListener struct {
	t     *localTransport
	name  string
	queue chan<- *Request
	gate  *gate
}

func (t *localTransport) Listen(_ context.Context, sb StringBinding, queue chan<- *Request) (Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.endpoints[sb.Endpoint]; ok {
		return nil, bindError(StatusDuplicateEndpoint, sb.String(), nil)
	}
	l := &localListener{t: t, name: sb.Endpoint, queue: queue, gate: newGate()}
	t.endpoints[sb.Endpoint] = l
	return l, nil
}

func (l *localListener) Close() error {
	l.t.mu.Lock()
	if l.t.endpoints[l.name] == l {
		delete(l.t.endpoints, l.name)
	}
	l.t.mu.Unlock()
	l.gate.close()
	return nil
}

func (l *localListener) Shutdown() error { return nil }

type localConn struct {
	t    *localTransport
	name string
}

func (t *localTransport) Dial(_ context.Context, sb StringBinding) (Conn, error) {
	t.mu.Lock()
	_, ok := t.endpoints[sb.Endpoint]
	t.mu.Unlock()
	if !ok {
		return nil, bindError(StatusServerUnavailable, sb.String(), nil)
	}
	return &localConn{t: t, name: sb.Endpoint}, nil
}

func (c *localConn) RoundTrip(ctx context.Context, data []byte) ([]byte, error) {
	c.t.mu.Lock()
	l, ok := c.t.endpoints[c.name]
	c.t.mu.Unlock()
	if !ok {
		return nil, bindError(StatusServerUnavailable, "ncalrpc endpoint "+c.name, nil)
	}

	replies := make(chan []byte, 1)
	msg := append([]byte(nil), data...)
	req := NewRequest(msg, func(b []byte) error {
		replies <- append([]byte(nil), b...)
		return nil
	})
	if err := l.gate.deliver(ctx, l.queue, req); err != nil {
		return nil, err
	}
	select {
	case b := <-replies:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *localConn) Close() error { return nil }
