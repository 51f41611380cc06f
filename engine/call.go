package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/ndr-runtime/errors"
	"github.com/wippyai/ndr-runtime/metadata"
	"github.com/wippyai/ndr-runtime/ndr"
	"github.com/wippyai/ndr-runtime/transcoder"
)

// DefaultCallTimeout applies to calls whose context has no deadline.
const DefaultCallTimeout = 30 * time.Second

type bindOptions struct {
	offers  []ndr.Syntax
	timeout time.Duration
}

// BindOption configures Bind.
type BindOption func(*bindOptions)

// WithSyntax restricts the offer to a single transfer syntax.
func WithSyntax(s ndr.Syntax) BindOption {
	return func(o *bindOptions) { o.offers = []ndr.Syntax{s} }
}

// WithCallTimeout sets the timeout for calls whose context has no
// deadline. Zero disables it.
func WithCallTimeout(d time.Duration) BindOption {
	return func(o *bindOptions) { o.timeout = d }
}

// Binding is a client's handle on one server endpoint. Transfer syntax is
// negotiated once per interface and cached. A Binding is safe for
// concurrent calls.
type Binding struct {
	sb      StringBinding
	conn    Conn
	offers  []ndr.Syntax
	timeout time.Duration

	mu         sync.Mutex
	negotiated map[metadata.SyntaxID]ndr.Syntax
}

// Bind parses stringBinding and connects to its endpoint. By default NDR64
// is offered ahead of NDR.
func Bind(ctx context.Context, stringBinding string, opts ...BindOption) (*Binding, error) {
	o := bindOptions{
		offers:  []ndr.Syntax{ndr.SyntaxNDR64, ndr.SyntaxNDR},
		timeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	sb, err := ParseStringBinding(stringBinding)
	if err != nil {
		return nil, err
	}
	t, err := transportFor(sb.Protseq)
	if err != nil {
		return nil, err
	}
	conn, err := t.Dial(ctx, sb)
	if err != nil {
		return nil, err
	}
	return &Binding{
		sb:         sb,
		conn:       conn,
		offers:     o.offers,
		timeout:    o.timeout,
		negotiated: make(map[metadata.SyntaxID]ndr.Syntax),
	}, nil
}

// String returns the string binding.
func (b *Binding) String() string { return b.sb.String() }

// Close releases the connection.
func (b *Binding) Close() error { return b.conn.Close() }

func (b *Binding) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || b.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

// Negotiate performs the bind handshake for interface id unless it already
// succeeded, and returns the transfer syntax the server accepted.
func (b *Binding) Negotiate(ctx context.Context, id metadata.SyntaxID) (ndr.Syntax, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.negotiated[id]; ok {
		return s, nil
	}

	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	req := &PDU{Type: PDUBind, CallID: uuid.New(), Interface: id}
	for _, s := range b.offers {
		req.Offers = append(req.Offers, metadata.TransferSyntax(s))
	}
	data, err := b.conn.RoundTrip(ctx, req.Encode())
	if err != nil {
		return 0, transportError(err, "bind "+b.sb.String())
	}
	resp, err := DecodePDU(data)
	if err != nil {
		return 0, errors.Binding(StatusProtocolError, "bind reply", err)
	}
	if resp.CallID != req.CallID {
		return 0, bindError(StatusProtocolError, "bind reply for another call", nil)
	}
	switch resp.Type {
	case PDUBindAck:
		if !offered(b.offers, resp.Syntax) {
			return 0, bindError(StatusUnsupportedSyntax, "server chose "+resp.Syntax.String(), nil)
		}
		b.negotiated[id] = resp.Syntax
		Logger().Debug("bound",
			zap.Stringer("binding", b.sb),
			zap.Stringer("interface", id.ID),
			zap.Stringer("syntax", resp.Syntax))
		return resp.Syntax, nil
	case PDUBindNak:
		return 0, bindError(resp.Status, fmt.Sprintf("interface %s v%s", id.ID, id.Version), nil)
	}
	return 0, bindError(StatusProtocolError, "bind answered with "+resp.Type.String(), nil)
}

func offered(offers []ndr.Syntax, s ndr.Syntax) bool {
	for _, o := range offers {
		if o == s {
			return true
		}
	}
	return false
}

// transportError classifies a RoundTrip failure as a binding error.
func transportError(err error, detail string) error {
	var e *errors.Error
	if stderrors.As(err, &e) && e.Status != 0 {
		return err
	}
	code := StatusServerUnavailable
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		code = StatusCallCancelled
	}
	return errors.Binding(code, detail, err)
}

// Call performs one remote call. The frame must have been allocated for
// the syntax negotiated for bundle's interface and hold the input
// parameters at the offsets of that syntax's procedure record. On success
// the return slot holds the result.
//
// Transport failures are binding errors; everything else, including a
// fault reported by the server, is a remote call failure carrying the
// engine status.
func Call(ctx context.Context, b *Binding, bundle *metadata.ClientBundle, ordinal int, frame *Frame) error {
	method := fmt.Sprintf("proc%d", ordinal)
	if ordinal >= 0 && ordinal < len(bundle.Compiled.Interface.Methods) {
		method = bundle.Compiled.Interface.Methods[ordinal].Name
	}
	fail := func(code Status, cause error) error {
		return errors.RemoteCall(code, method, cause)
	}

	syntax, err := b.Negotiate(ctx, bundle.ID())
	if err != nil {
		return err
	}
	if frame.Syntax != syntax {
		return fail(StatusUnsupportedSyntax,
			fmt.Errorf("frame is %s, binding negotiated %s", frame.Syntax, syntax))
	}
	proc, ok := bundle.Proc(syntax, ordinal)
	if !ok {
		return fail(StatusProcnumOutOfRange, nil)
	}
	stub, err := transcoder.MarshalRequest(proc, frame)
	if err != nil {
		return fail(statusFor(err), err)
	}

	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	req := &PDU{
		Type:      PDURequest,
		CallID:    uuid.New(),
		Interface: bundle.ID(),
		Syntax:    syntax,
		Ordinal:   uint16(ordinal),
		Stub:      stub,
	}
	debugf("call %s on %s (%s, %d bytes)", method, b.sb, syntax, len(stub))
	data, err := b.conn.RoundTrip(ctx, req.Encode())
	if err != nil {
		return transportError(err, method+" on "+b.sb.String())
	}
	resp, err := DecodePDU(data)
	if err != nil {
		return fail(StatusProtocolError, err)
	}
	if resp.CallID != req.CallID {
		return fail(StatusProtocolError, fmt.Errorf("reply for call %s", resp.CallID))
	}
	switch resp.Type {
	case PDUResponse:
		if err := transcoder.UnmarshalResponse(proc, resp.Stub, frame); err != nil {
			return fail(StatusBadStubData, err)
		}
		return nil
	case PDUFault:
		return fail(resp.Status, nil)
	}
	return fail(StatusProtocolError, fmt.Errorf("unexpected %s", resp.Type))
}
