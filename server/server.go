package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/ndr-runtime/engine"
	"github.com/wippyai/ndr-runtime/errors"
	"github.com/wippyai/ndr-runtime/idl"
	"github.com/wippyai/ndr-runtime/metadata"
	"github.com/wippyai/ndr-runtime/ndr"
)

// State is the lifecycle state of a Server.
type State int

const (
	StateIdle State = iota
	StateRegistered
	StateListening
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRegistered:
		return "registered"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type options struct {
	endpoint engine.EndpointConfig
}

// Option configures a Server.
type Option func(*options)

// WithWorkers sets the number of dispatch workers.
func WithWorkers(n int) Option {
	return func(o *options) { o.endpoint.Workers = n }
}

// WithMaxCalls bounds the requests queued ahead of the workers.
func WithMaxCalls(n int) Option {
	return func(o *options) { o.endpoint.MaxCalls = n }
}

// WithHost allocates request frames from h.
func WithHost(h *engine.Host) Option {
	return func(o *options) { o.endpoint.Host = h }
}

// Server hosts one implementation of one interface:
//
//	idle ─Register─▶ registered ─Listen/ListenAsync─▶ listening ─Stop─▶ stopped
type Server struct {
	compiled *ndr.Compiled
	bundle   *metadata.ServerBundle
	impl     *Implementation
	handles  *HandleTable
	handle   Handle
	registry *Registry
	opts     options
	log      *zap.Logger

	mu       sync.Mutex
	state    State
	binding  string
	endpoint *engine.Endpoint
}

// New compiles ifc and binds impl to it. impl needs one exported method
// per interface method; mismatches are reported here, not at call time.
func New(ifc *idl.Interface, impl any, opts ...Option) (*Server, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	compiled, err := ndr.Compile(ifc)
	if err != nil {
		return nil, err
	}
	bound, err := bindImplementation(compiled.Interface, impl)
	if err != nil {
		return nil, err
	}

	handles := NewHandleTable()
	h, err := handles.Create(bound)
	if err != nil {
		return nil, err
	}
	registry := NewRegistry(handles)

	routines := make([]metadata.Routine, compiled.MethodCount())
	for i := range routines {
		routines[i] = newRoutine(compiled, registry, i)
	}
	bundle, err := metadata.AssembleServer(compiled, routines)
	if err != nil {
		return nil, err
	}

	return &Server{
		compiled: compiled,
		bundle:   bundle,
		impl:     bound,
		handles:  handles,
		handle:   h,
		registry: registry,
		opts:     o,
		log:      Logger().With(zap.String("interface", ifc.Name)),
	}, nil
}

// Interface returns the served interface.
func (s *Server) Interface() *idl.Interface { return s.compiled.Interface }

// Bundle returns the server metadata bundle.
func (s *Server) Bundle() *metadata.ServerBundle { return s.bundle }

// Registry returns the worker context registry.
func (s *Server) Registry() *Registry { return s.registry }

// RoutineFor returns the dispatch routine of ordinal as the engine sees
// it through the bundle.
func (s *Server) RoutineFor(ordinal int) (metadata.Routine, bool) {
	return s.bundle.Routine(ndr.SyntaxNDR, ordinal)
}

// State returns the lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Endpoint returns the engine endpoint once registered.
func (s *Server) Endpoint() *engine.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// Register registers the interface with the engine and claims the
// endpoint named by stringBinding. Registering again on the same binding
// is a no-op.
func (s *Server) Register(ctx context.Context, stringBinding string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRegistered, StateListening:
		if stringBinding == s.binding {
			return nil
		}
		return errors.InvalidState(errors.PhaseRegister,
			fmt.Sprintf("already registered on %s", s.binding))
	case StateStopped:
		return errors.InvalidState(errors.PhaseRegister, "server is stopped")
	}

	if err := engine.RegisterInterface(s.bundle); err != nil {
		return errors.Registration("register interface "+s.compiled.Interface.Name, err)
	}
	ep, err := engine.UseEndpoint(ctx, stringBinding, s.opts.endpoint)
	if err != nil {
		_ = engine.UnregisterInterface(s.bundle.ID())
		return errors.Registration("use endpoint "+stringBinding, err)
	}
	// the registry only covers this endpoint's workers
	if err := ep.Serve(s.bundle); err != nil {
		_ = ep.Stop(ctx)
		_ = engine.UnregisterInterface(s.bundle.ID())
		return errors.Registration("serve on "+stringBinding, err)
	}
	s.endpoint = ep
	s.binding = stringBinding
	s.state = StateRegistered
	s.log.Info("registered", zap.String("binding", stringBinding), zap.Int("workers", ep.Workers()))
	return nil
}

// ListenAsync starts dispatching and returns immediately.
func (s *Server) ListenAsync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenLocked(ctx)
}

func (s *Server) listenLocked(ctx context.Context) error {
	switch s.state {
	case StateIdle:
		return errors.InvalidState(errors.PhaseRegister, "listen before register")
	case StateListening:
		return errors.New(errors.PhaseRegister, errors.KindState).
			Status(engine.StatusAlreadyListening).Detail("already listening on %s", s.binding).Build()
	case StateStopped:
		return errors.InvalidState(errors.PhaseRegister, "server is stopped")
	}

	// every worker must find the implementation before the first dispatch
	if err := s.registry.Populate(s.endpoint.Workers(), s.handle); err != nil {
		return errors.Registration("populate registry", err)
	}
	if err := s.endpoint.Start(ctx); err != nil {
		_ = s.registry.Clear()
		return err
	}
	s.state = StateListening
	s.log.Info("listening", zap.String("binding", s.binding))
	return nil
}

// Listen starts dispatching and blocks until the server is stopped or ctx
// is done, in which case it stops the server itself.
func (s *Server) Listen(ctx context.Context) error {
	s.mu.Lock()
	if err := s.listenLocked(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	ep := s.endpoint
	s.mu.Unlock()

	if err := ep.Wait(ctx); err != nil {
		return s.Stop(context.WithoutCancel(ctx))
	}
	return nil
}

// Stop stops accepting calls, waits for calls in flight, then empties the
// worker registry, unregisters the interface and releases the
// implementation. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	switch prev {
	case StateStopped:
		return nil
	case StateIdle:
		s.state = StateStopped
		_, err := s.handles.Release(s.handle)
		return err
	}

	var errs []error
	if err := s.endpoint.Stop(ctx); err != nil {
		// workers may still be dispatching; keep their implementation
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return err
		}
		errs = append(errs, err)
	}
	if prev == StateListening {
		if err := s.registry.Clear(); err != nil {
			errs = append(errs, err)
		}
	}
	s.endpoint.Withdraw(s.bundle.ID())
	if err := engine.UnregisterInterface(s.bundle.ID()); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.handles.Release(s.handle); err != nil {
		errs = append(errs, err)
	}
	s.state = StateStopped
	s.log.Info("stopped", zap.String("binding", s.binding))
	return stderrors.Join(errs...)
}
