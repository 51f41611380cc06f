package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/ndr-runtime/engine"
	"github.com/wippyai/ndr-runtime/errors"
	"github.com/wippyai/ndr-runtime/idl"
	"github.com/wippyai/ndr-runtime/metadata"
	"github.com/wippyai/ndr-runtime/ndr"
)

// clientHandle is the value stored in the handle slot of client frames.
const clientHandle = 1

type options struct {
	host *engine.Host
	bind []engine.BindOption
}

// Option configures New and Dial.
type Option func(*options)

// WithHost allocates call frames from h instead of the default host.
func WithHost(h *engine.Host) Option {
	return func(o *options) { o.host = h }
}

// WithSyntax offers only s during the bind handshake. Dial only.
func WithSyntax(s ndr.Syntax) Option {
	return func(o *options) { o.bind = append(o.bind, engine.WithSyntax(s)) }
}

// WithCallTimeout bounds calls whose context has no deadline. Dial only.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.bind = append(o.bind, engine.WithCallTimeout(d)) }
}

// Client calls the methods of one interface on one binding. It is safe
// for concurrent use.
type Client struct {
	bundle  *metadata.ClientBundle
	binding *engine.Binding
	host    *engine.Host
	stubs   []*Stub
	byName  map[string]*Stub
	owned   bool
}

// New creates a client over an existing binding. The bundle's interface
// determines the available stubs.
func New(binding *engine.Binding, bundle *metadata.ClientBundle, opts ...Option) (*Client, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.host == nil {
		h, err := engine.DefaultHost(context.Background())
		if err != nil {
			return nil, err
		}
		o.host = h
	}

	ifc := bundle.Compiled.Interface
	c := &Client{
		bundle:  bundle,
		binding: binding,
		host:    o.host,
		stubs:   make([]*Stub, len(ifc.Methods)),
		byName:  make(map[string]*Stub, 2*len(ifc.Methods)),
	}
	for i := range ifc.Methods {
		m := &ifc.Methods[i]
		s := &Stub{client: c, method: m, ordinal: i}
		c.stubs[i] = s
		c.byName[m.Name] = s
		if _, taken := c.byName[m.GoName()]; !taken {
			c.byName[m.GoName()] = s
		}
	}
	return c, nil
}

// Dial compiles ifc, assembles its client bundle and binds to
// stringBinding. The binding is closed with the client.
func Dial(ctx context.Context, stringBinding string, ifc *idl.Interface, opts ...Option) (*Client, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	compiled, err := ndr.Compile(ifc)
	if err != nil {
		return nil, err
	}
	bundle, err := metadata.AssembleClient(compiled)
	if err != nil {
		return nil, err
	}
	binding, err := engine.Bind(ctx, stringBinding, o.bind...)
	if err != nil {
		return nil, err
	}
	c, err := New(binding, bundle, opts...)
	if err != nil {
		_ = binding.Close()
		return nil, err
	}
	c.owned = true
	Logger().Debug("dialed",
		zap.String("interface", ifc.Name),
		zap.String("binding", stringBinding))
	return c, nil
}

// Interface returns the interface the client was built for.
func (c *Client) Interface() *idl.Interface { return c.bundle.Compiled.Interface }

// Bundle returns the client metadata bundle.
func (c *Client) Bundle() *metadata.ClientBundle { return c.bundle }

// Binding returns the engine binding.
func (c *Client) Binding() *engine.Binding { return c.binding }

// Stubs returns one stub per method in ordinal order.
func (c *Client) Stubs() []*Stub { return c.stubs }

// Stub returns the stub for a method by interface or Go name. The stub of
// an unknown method fails every Invoke with a not-found error.
func (c *Client) Stub(name string) *Stub {
	if s, ok := c.byName[name]; ok {
		return s
	}
	return &Stub{client: c, ordinal: -1, err: errors.NotFound(errors.PhaseCall, "method", name)}
}

// StubAt returns the stub of ordinal.
func (c *Client) StubAt(ordinal int) *Stub {
	if ordinal < 0 || ordinal >= len(c.stubs) {
		return &Stub{client: c, ordinal: -1, err: errors.NotFound(errors.PhaseCall, "ordinal", fmt.Sprint(ordinal))}
	}
	return c.stubs[ordinal]
}

// Close closes the binding if Dial created it.
func (c *Client) Close() error {
	if c.owned {
		return c.binding.Close()
	}
	return nil
}
