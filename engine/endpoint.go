package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/ndr-runtime/errors"
	"github.com/wippyai/ndr-runtime/metadata"
	"github.com/wippyai/ndr-runtime/ndr"
	"github.com/wippyai/ndr-runtime/transcoder"
)

// EndpointConfig sizes an endpoint.
type EndpointConfig struct {
	// Workers is the number of dispatch workers. Zero means GOMAXPROCS.
	Workers int
	// MaxCalls bounds the requests queued ahead of the workers. Zero means
	// 4 per worker.
	MaxCalls int
	// Host provides native memory for request frames. Nil means the
	// default host.
	Host *Host
}

type endpointState int

const (
	endpointBound endpointState = iota
	endpointListening
	endpointStopped
)

// Endpoint receives calls on one string binding and dispatches them on a
// fixed pool of workers numbered 0..Workers-1.
type Endpoint struct {
	binding  StringBinding
	host     *Host
	workers  int
	queue    chan *Request
	listener Listener
	log      *zap.Logger

	mu    sync.Mutex
	state endpointState
	group *errgroup.Group
	done  chan struct{}
	// drained is set once the listener and queue are closed; a Stop that
	// timed out waiting on it can be retried.
	drained chan struct{}

	servedMu sync.RWMutex
	served   []*metadata.ServerBundle
}

// UseEndpoint parses stringBinding and claims the endpoint on its
// transport. Requests queue until Start.
func UseEndpoint(ctx context.Context, stringBinding string, cfg EndpointConfig) (*Endpoint, error) {
	sb, err := ParseStringBinding(stringBinding)
	if err != nil {
		return nil, err
	}
	t, err := transportFor(sb.Protseq)
	if err != nil {
		return nil, err
	}
	host := cfg.Host
	if host == nil {
		if host, err = DefaultHost(ctx); err != nil {
			return nil, err
		}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > 1<<16 {
		return nil, errors.InvalidInput(errors.PhaseRegister, fmt.Sprintf("%d workers", workers))
	}
	maxCalls := cfg.MaxCalls
	if maxCalls <= 0 {
		maxCalls = 4 * workers
	}

	e := &Endpoint{
		binding: sb,
		host:    host,
		workers: workers,
		queue:   make(chan *Request, maxCalls),
		log:     Logger().With(zap.Stringer("endpoint", sb)),
		done:    make(chan struct{}),
	}
	e.listener, err = t.Listen(ctx, sb, e.queue)
	if err != nil {
		return nil, err
	}
	e.log.Debug("endpoint bound", zap.Int("workers", workers), zap.Int("max_calls", maxCalls))
	return e, nil
}

// Binding returns the endpoint's string binding.
func (e *Endpoint) Binding() StringBinding { return e.binding }

// Workers returns the worker count. Worker ids are 0..Workers()-1.
func (e *Endpoint) Workers() int { return e.workers }

// Serve makes b callable on this endpoint. b must be registered with
// RegisterInterface. Requests for interfaces the endpoint does not serve
// are refused with StatusUnknownInterface.
func (e *Endpoint) Serve(b *metadata.ServerBundle) error {
	if !registered(b) {
		return errors.New(errors.PhaseRegister, errors.KindNotFound).
			Status(StatusUnknownInterface).Detail("interface %s v%s is not registered", b.ID().ID, b.ID().Version).Build()
	}
	e.servedMu.Lock()
	defer e.servedMu.Unlock()
	for _, have := range e.served {
		if have.ID() == b.ID() {
			return errors.New(errors.PhaseRegister, errors.KindRegistration).
				Status(StatusAlreadyRegistered).Detail("interface %s v%s on %s", b.ID().ID, b.ID().Version, e.binding).Build()
		}
	}
	e.served = append(e.served, b)
	return nil
}

// Withdraw stops serving the interface version id. Calls already
// dispatched keep the bundle they resolved.
func (e *Endpoint) Withdraw(id metadata.SyntaxID) {
	e.servedMu.Lock()
	defer e.servedMu.Unlock()
	for i, have := range e.served {
		if have.ID() == id {
			e.served = append(e.served[:i:i], e.served[i+1:]...)
			return
		}
	}
}

func (e *Endpoint) lookup(id metadata.SyntaxID) (*metadata.ServerBundle, bool) {
	e.servedMu.RLock()
	defer e.servedMu.RUnlock()
	return bestMatch(e.served, id)
}

// Start launches the workers and returns. ctx is handed to every
// dispatched routine; cancelling it does not stop the endpoint.
func (e *Endpoint) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case endpointListening:
		return errors.New(errors.PhaseRegister, errors.KindState).
			Status(StatusAlreadyListening).Detail("endpoint %s", e.binding).Build()
	case endpointStopped:
		return errors.New(errors.PhaseRegister, errors.KindState).
			Status(StatusNotListening).Detail("endpoint %s is stopped", e.binding).Build()
	}
	if e.drained != nil {
		return errors.New(errors.PhaseRegister, errors.KindState).
			Status(StatusNotListening).Detail("endpoint %s is stopping", e.binding).Build()
	}

	base := context.WithoutCancel(ctx)
	g := new(errgroup.Group)
	for i := 0; i < e.workers; i++ {
		id := WorkerID(i)
		g.Go(func() error {
			e.work(base, id)
			return nil
		})
	}
	e.group = g
	e.state = endpointListening
	e.log.Info("endpoint listening")
	return nil
}

// Wait blocks until the endpoint has stopped and drained.
func (e *Endpoint) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops accepting requests, lets the workers finish every request
// already accepted, and returns once all workers have exited.
func (e *Endpoint) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == endpointStopped {
		return errors.New(errors.PhaseRegister, errors.KindState).
			Status(StatusNotListening).Detail("endpoint %s is stopped", e.binding).Build()
	}

	var closeErr error
	if e.drained == nil {
		closeErr = e.listener.Close()
		close(e.queue)
		e.drained = make(chan struct{})
		if e.state == endpointListening {
			go func(drained chan struct{}) {
				_ = e.group.Wait()
				close(drained)
			}(e.drained)
		} else {
			// never started: nobody will answer what is queued
			for req := range e.queue {
				_ = req.Reply(faultPDU(uuid.Nil, StatusServerUnavailable))
			}
			close(e.drained)
		}
	}
	select {
	case <-e.drained:
	case <-ctx.Done():
		return fmt.Errorf("endpoint %s: drain: %w", e.binding, ctx.Err())
	}
	e.state = endpointStopped
	close(e.done)

	shutdownErr := e.listener.Shutdown()
	e.log.Info("endpoint stopped")
	return stderrors.Join(closeErr, shutdownErr)
}

func (e *Endpoint) work(ctx context.Context, id WorkerID) {
	for req := range e.queue {
		reply := e.handle(ctx, id, req.Data)
		if err := req.Reply(reply); err != nil {
			e.log.Warn("reply failed", zap.Uint16("worker", uint16(id)), zap.Error(err))
		}
	}
}

func (e *Endpoint) handle(ctx context.Context, id WorkerID, data []byte) []byte {
	pdu, err := DecodePDU(data)
	if err != nil {
		e.log.Debug("bad pdu", zap.Error(err))
		return faultPDU(uuid.Nil, StatusProtocolError)
	}
	switch pdu.Type {
	case PDUBind:
		return e.bind(pdu).Encode()
	case PDURequest:
		return e.dispatch(ctx, id, pdu)
	}
	return faultPDU(pdu.CallID, StatusProtocolError)
}

// bind accepts the first offered transfer syntax the interface supports.
func (e *Endpoint) bind(pdu *PDU) *PDU {
	b, ok := e.lookup(pdu.Interface)
	if !ok {
		return &PDU{Type: PDUBindNak, CallID: pdu.CallID, Status: StatusUnknownInterface}
	}
	for _, offer := range pdu.Offers {
		if s, ok := metadata.SyntaxOf(offer); ok {
			return &PDU{Type: PDUBindAck, CallID: pdu.CallID, Interface: b.ID(), Syntax: s}
		}
	}
	return &PDU{Type: PDUBindNak, CallID: pdu.CallID, Status: StatusUnsupportedSyntax}
}

func (e *Endpoint) dispatch(ctx context.Context, id WorkerID, pdu *PDU) []byte {
	b, ok := e.lookup(pdu.Interface)
	if !ok {
		return faultPDU(pdu.CallID, StatusUnknownInterface)
	}
	ord := int(pdu.Ordinal)
	proc, ok := b.Proc(pdu.Syntax, ord)
	if !ok {
		return faultPDU(pdu.CallID, StatusProcnumOutOfRange)
	}
	routine, ok := b.Routine(pdu.Syntax, ord)
	if !ok {
		return faultPDU(pdu.CallID, StatusProcnumOutOfRange)
	}
	debugf("worker %d: %s proc %d (%s)", id, b.Compiled.Interface.Name, ord, pdu.Syntax)

	frame, err := e.host.NewFrame(pdu.Syntax, proc.StackSize)
	if err != nil {
		return faultPDU(pdu.CallID, statusFor(err))
	}
	defer func() {
		if err := frame.Release(); err != nil {
			e.log.Error("release frame", zap.Error(err))
		}
	}()
	if err := frame.SetHandle(uint32(id) + 1); err != nil {
		return faultPDU(pdu.CallID, statusFor(err))
	}
	if err := transcoder.UnmarshalRequest(proc, pdu.Stub, frame); err != nil {
		e.log.Debug("bad stub data", zap.Int("ordinal", ord), zap.Error(err))
		return faultPDU(pdu.CallID, StatusBadStubData)
	}

	if code := invoke(ctx, routine, id, frame); code != StatusOK {
		return faultPDU(pdu.CallID, code)
	}

	stub, err := transcoder.MarshalResponse(proc, frame)
	if err != nil {
		e.log.Warn("marshal response", zap.Int("ordinal", ord), zap.Error(err))
		return faultPDU(pdu.CallID, statusFor(err))
	}
	return (&PDU{Type: PDUResponse, CallID: pdu.CallID, Stub: stub}).Encode()
}

// invoke runs a routine, turning a panic into a call failure. A missing
// dispatch context is a server bug and is re-raised.
func invoke(ctx context.Context, routine metadata.Routine, id WorkerID, frame *ndr.Frame) (code Status) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if err, ok := r.(error); ok && stderrors.Is(err, errors.ErrContextMissing) {
			panic(r)
		}
		Logger().Error("routine panicked", zap.Uint16("worker", uint16(id)), zap.Any("panic", r))
		code = StatusCallFailed
		if err, ok := r.(error); ok {
			if c := errors.StatusOf(err); c != 0 {
				code = c
			}
		}
	}()
	routine(ctx, id, frame)
	return StatusOK
}
