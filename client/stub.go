package client

import (
	"context"
	"fmt"

	"github.com/wippyai/ndr-runtime/engine"
	"github.com/wippyai/ndr-runtime/errors"
	"github.com/wippyai/ndr-runtime/idl"
)

// Stub marshals one method's arguments into a frame, makes the remote
// call and converts the result.
type Stub struct {
	client  *Client
	method  *idl.Method
	ordinal int
	err     error
}

// Name returns the interface method name, or "" for an unknown stub.
func (s *Stub) Name() string {
	if s.method == nil {
		return ""
	}
	return s.method.Name
}

// Ordinal returns the dispatch ordinal, -1 for an unknown stub.
func (s *Stub) Ordinal() int { return s.ordinal }

// Method returns the method descriptor.
func (s *Stub) Method() *idl.Method { return s.method }

// Invoke calls the method. Integer arguments may be any Go integer type
// whose value fits the declared width; text arguments are strings. The
// result has the natural Go type of the return type, or is nil for void
// methods.
func (s *Stub) Invoke(ctx context.Context, args ...any) (any, error) {
	if s.err != nil {
		return nil, s.err
	}
	m := s.method
	if len(args) != len(m.Params) {
		return nil, errors.New(errors.PhaseCall, errors.KindInvalidInput).
			Path(m.Name).Detail("got %d arguments, want %d", len(args), len(m.Params)).Build()
	}

	c := s.client
	syntax, err := c.binding.Negotiate(ctx, c.bundle.ID())
	if err != nil {
		return nil, err
	}
	l, ok := c.bundle.Compiled.Layout(syntax, s.ordinal)
	if !ok {
		return nil, errors.NotFound(errors.PhaseCall, "layout", m.Name)
	}

	frame, err := c.host.NewFrame(syntax, l.StackSize)
	if err != nil {
		return nil, errors.RemoteCall(engine.StatusOutOfMemory, m.Name, err)
	}
	defer func() {
		if err := frame.Release(); err != nil {
			Logger().Sugar().Errorf("release frame of %s: %v", m.Name, err)
		}
	}()
	if err := frame.SetHandle(clientHandle); err != nil {
		return nil, err
	}
	for i, a := range args {
		if err := frame.Store(l.Params[i], a); err != nil {
			return nil, withMethod(err, m.Name)
		}
	}

	if err := engine.Call(ctx, c.binding, c.bundle, s.ordinal, frame); err != nil {
		return nil, err
	}
	if !l.HasReturn {
		return nil, nil
	}
	v, err := frame.Load(l.Return)
	if err != nil {
		return nil, errors.RemoteCall(engine.StatusBadStubData, m.Name, err)
	}
	return v, nil
}

func withMethod(err error, method string) error {
	if e, ok := err.(*errors.Error); ok {
		e.Path = append([]string{method}, e.Path...)
		return e
	}
	return fmt.Errorf("%s: %w", method, err)
}
