package server_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ndr-runtime/client"
	"github.com/wippyai/ndr-runtime/engine"
	"github.com/wippyai/ndr-runtime/errors"
	"github.com/wippyai/ndr-runtime/idl"
	"github.com/wippyai/ndr-runtime/ndr"
	"github.com/wippyai/ndr-runtime/server"
)

type calcImpl struct {
	pings atomic.Int64
}

func (c *calcImpl) Add(a, b int32) int32 { return a + b }

func (c *calcImpl) Strlen(ctx context.Context, s string) uint64 {
	return uint64(len([]rune(s)))
}

func (c *calcImpl) Fail(code uint32) (uint32, error) {
	if code == 0 {
		return 0, fmt.Errorf("plain failure")
	}
	return 0, errors.New(errors.PhaseDispatch, errors.KindInvalidInput).Status(code).Build()
}

func (c *calcImpl) Ping() { c.pings.Add(1) }

func calcInterface(t *testing.T) *idl.Interface {
	t.Helper()
	ifc, err := idl.NewInterface("Calc", uuid.New(), idl.Version{Major: 1}).
		Method("add", idl.I32).Param("a", idl.I32).Param("b", idl.I32).Done().
		Method("strlen", idl.U64).Param("s", idl.Text).Done().
		Method("fail", idl.U32).Param("code", idl.U32).Done().
		Method("ping", idl.Void).Done().
		Build()
	require.NoError(t, err)
	return ifc
}

func localBinding() string {
	return "ncalrpc:[srv-" + uuid.NewString()[:8] + "]"
}

func serve(ctx context.Context, t *testing.T, ifc *idl.Interface, impl any, binding string, opts ...server.Option) *server.Server {
	t.Helper()
	srv, err := server.New(ifc, impl, opts...)
	require.NoError(t, err)
	require.NoError(t, srv.Register(ctx, binding))
	require.NoError(t, srv.ListenAsync(ctx))
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return srv
}

func dial(ctx context.Context, t *testing.T, binding string, ifc *idl.Interface, opts ...client.Option) *client.Client {
	t.Helper()
	cl, err := client.Dial(ctx, binding, ifc, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cl.Close() })
	return cl
}

func TestServeCalls(t *testing.T) {
	ctx := context.Background()
	ifc := calcInterface(t)
	impl := &calcImpl{}
	binding := localBinding()
	serve(ctx, t, ifc, impl, binding, server.WithWorkers(2))

	for _, s := range ndr.Syntaxes {
		t.Run(s.String(), func(t *testing.T) {
			cl := dial(ctx, t, binding, ifc, client.WithSyntax(s))

			got, err := cl.Stub("add").Invoke(ctx, int32(2), int32(3))
			require.NoError(t, err)
			assert.Equal(t, int32(5), got)

			got, err = cl.Stub("strlen").Invoke(ctx, "hello")
			require.NoError(t, err)
			assert.Equal(t, uint64(5), got)

			got, err = cl.Stub("ping").Invoke(ctx)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
	assert.Equal(t, int64(2), impl.pings.Load())
}

func TestMethodErrors(t *testing.T) {
	ctx := context.Background()
	ifc := calcInterface(t)
	binding := localBinding()
	serve(ctx, t, ifc, &calcImpl{}, binding)
	cl := dial(ctx, t, binding, ifc)

	_, err := cl.Stub("fail").Invoke(ctx, uint32(0))
	require.Error(t, err)
	assert.True(t, errors.IsRemoteCallFailure(err))
	assert.Equal(t, engine.StatusCallFailed, errors.StatusOf(err))

	_, err = cl.Stub("fail").Invoke(ctx, uint32(5))
	require.Error(t, err)
	assert.Equal(t, uint32(5), errors.StatusOf(err))

	// the worker that faulted keeps serving
	got, err := cl.Stub("add").Invoke(ctx, int32(-1), int32(1))
	require.NoError(t, err)
	assert.Equal(t, int32(0), got)
}

func TestConcurrentClients(t *testing.T) {
	ctx := context.Background()
	ifc := calcInterface(t)
	binding := localBinding()
	serve(ctx, t, ifc, &calcImpl{}, binding, server.WithWorkers(4))

	const clients, calls = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cl, err := client.Dial(ctx, binding, ifc)
			if err != nil {
				errs <- err
				return
			}
			defer cl.Close()
			add := cl.Stub("add")
			for k := 0; k < calls; k++ {
				got, err := add.Invoke(ctx, int32(i), int32(k))
				if err != nil {
					errs <- err
					return
				}
				if got != int32(i+k) {
					errs <- fmt.Errorf("add(%d, %d) = %v", i, k, got)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestStateMachine(t *testing.T) {
	ctx := context.Background()
	ifc := calcInterface(t)
	srv, err := server.New(ifc, &calcImpl{}, server.WithWorkers(1))
	require.NoError(t, err)
	assert.Equal(t, server.StateIdle, srv.State())

	err = srv.ListenAsync(ctx)
	require.Error(t, err)
	assert.Equal(t, "idle", srv.State().String())

	binding := localBinding()
	require.NoError(t, srv.Register(ctx, binding))
	assert.Equal(t, server.StateRegistered, srv.State())
	require.NoError(t, srv.Register(ctx, binding), "same binding is a no-op")
	require.Error(t, srv.Register(ctx, localBinding()))

	require.NoError(t, srv.ListenAsync(ctx))
	assert.Equal(t, server.StateListening, srv.State())
	assert.True(t, srv.Registry().Populated())
	err = srv.ListenAsync(ctx)
	require.Error(t, err)
	assert.Equal(t, engine.StatusAlreadyListening, errors.StatusOf(err))

	require.NoError(t, srv.Stop(ctx))
	assert.Equal(t, server.StateStopped, srv.State())
	assert.False(t, srv.Registry().Populated())
	require.NoError(t, srv.Stop(ctx), "second stop is a no-op")
	require.Error(t, srv.Register(ctx, binding))

	// the interface is gone with the server
	cl, err := client.Dial(ctx, binding, ifc)
	if err == nil {
		_, err = cl.Stub("add").Invoke(ctx, int32(1), int32(1))
		_ = cl.Close()
	}
	require.Error(t, err)
	assert.True(t, errors.IsRemoteCallFailure(err))
}

func TestStopBeforeListen(t *testing.T) {
	ctx := context.Background()
	ifc := calcInterface(t)
	srv, err := server.New(ifc, &calcImpl{})
	require.NoError(t, err)
	binding := localBinding()
	require.NoError(t, srv.Register(ctx, binding))
	require.NoError(t, srv.Stop(ctx))

	// the endpoint and interface are free again
	serve(ctx, t, ifc, &calcImpl{}, binding)
}

func TestDuplicateRegistration(t *testing.T) {
	ctx := context.Background()
	ifc := calcInterface(t)
	serve(ctx, t, ifc, &calcImpl{}, localBinding())

	other, err := server.New(ifc, &calcImpl{})
	require.NoError(t, err)
	err = other.Register(ctx, localBinding())
	require.Error(t, err)
	assert.Equal(t, engine.StatusAlreadyRegistered, errors.StatusOf(err))
	assert.Equal(t, server.StateIdle, other.State())
}

type greeter struct{}

func (greeter) Hello(n uint32) uint32 { return n + 1 }

func TestServersOnSeparateEndpoints(t *testing.T) {
	ctx := context.Background()
	calc := calcInterface(t)
	idle, err := server.New(calc, &calcImpl{}, server.WithWorkers(1))
	require.NoError(t, err)
	calcBinding := localBinding()
	require.NoError(t, idle.Register(ctx, calcBinding))
	t.Cleanup(func() { _ = idle.Stop(context.Background()) })

	greet, err := idl.NewInterface("Greeter", uuid.New(), idl.Version{Major: 1}).
		Method("hello", idl.U32).Param("n", idl.U32).Done().
		Build()
	require.NoError(t, err)
	greetBinding := localBinding()
	serve(ctx, t, greet, greeter{}, greetBinding, server.WithWorkers(2))

	// calc is registered, but not on the greeter's endpoint
	wrong := dial(ctx, t, greetBinding, calc)
	_, err = wrong.Stub("add").Invoke(ctx, int32(2), int32(3))
	require.Error(t, err)
	assert.True(t, errors.IsRemoteCallFailure(err))
	assert.Equal(t, engine.StatusUnknownInterface, errors.StatusOf(err))

	gc := dial(ctx, t, greetBinding, greet)
	got, err := gc.Stub("hello").Invoke(ctx, uint32(41))
	require.NoError(t, err)
	assert.Equal(t, uint32(42), got)

	require.NoError(t, idle.ListenAsync(ctx))
	cc := dial(ctx, t, calcBinding, calc)
	got, err = cc.Stub("add").Invoke(ctx, int32(2), int32(3))
	require.NoError(t, err)
	assert.Equal(t, int32(5), got)

	// after stopping, the interface is gone from its endpoint as well
	require.NoError(t, idle.Stop(ctx))
	_, err = wrong.Stub("add").Invoke(ctx, int32(2), int32(3))
	assert.Equal(t, engine.StatusUnknownInterface, errors.StatusOf(err))
}

func TestRoutineWithoutContext(t *testing.T) {
	ifc := calcInterface(t)
	srv, err := server.New(ifc, &calcImpl{})
	require.NoError(t, err)
	assertContextMissing(t, srv)

	_, ok := srv.RoutineFor(99)
	assert.False(t, ok)
}

func TestRoutineAfterStop(t *testing.T) {
	ctx := context.Background()
	ifc := calcInterface(t)
	binding := localBinding()
	srv := serve(ctx, t, ifc, &calcImpl{}, binding, server.WithWorkers(3))
	cl := dial(ctx, t, binding, ifc)
	_, err := cl.Stub("add").Invoke(ctx, int32(1), int32(2))
	require.NoError(t, err)

	require.NoError(t, srv.Stop(ctx))
	assertContextMissing(t, srv)
}

// assertContextMissing runs the add routine directly, as a worker would,
// and expects it to refuse to dispatch.
func assertContextMissing(t *testing.T, srv *server.Server) {
	t.Helper()
	ctx := context.Background()
	routine, ok := srv.RoutineFor(0)
	require.True(t, ok)
	host, err := engine.DefaultHost(ctx)
	require.NoError(t, err)
	l, _ := srv.Bundle().Compiled.Layout(ndr.SyntaxNDR, 0)
	frame, err := host.NewFrame(ndr.SyntaxNDR, l.StackSize)
	require.NoError(t, err)
	defer frame.Release()

	recovered := func() (v any) {
		defer func() { v = recover() }()
		routine(ctx, 0, frame)
		return nil
	}()
	require.NotNil(t, recovered, "routine ran without an implementation")
	err, _ = recovered.(error)
	assert.ErrorIs(t, err, errors.ErrContextMissing)
}

type wrongParam struct{ calcImpl }

func (*wrongParam) Add(a string, b int32) int32 { return 0 }

type wrongResult struct{ calcImpl }

func (*wrongResult) Add(a, b int32) (int32, int32) { return 0, 0 }

func TestImplementationMismatch(t *testing.T) {
	ifc := calcInterface(t)
	tests := []struct {
		name string
		impl any
	}{
		{"nil", nil},
		{"missing methods", &struct{}{}},
		{"wrong param", &wrongParam{}},
		{"wrong result", &wrongResult{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := server.New(ifc, tt.impl)
			require.Error(t, err)
			var e *errors.Error
			require.True(t, stderrors.As(err, &e))
			assert.Equal(t, errors.PhaseCompile, e.Phase)
		})
	}
}

func TestListenStopsOnCancel(t *testing.T) {
	ifc := calcInterface(t)
	srv, err := server.New(ifc, &calcImpl{})
	require.NoError(t, err)
	require.NoError(t, srv.Register(context.Background(), localBinding()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Listen(ctx) }()

	require.Eventually(t, func() bool { return srv.State() == server.StateListening },
		5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return")
	}
	assert.Equal(t, server.StateStopped, srv.State())
}

func TestServeNATS(t *testing.T) {
	ctx := context.Background()
	ns, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(10*time.Second))
	t.Cleanup(ns.Shutdown)

	ifc := calcInterface(t)
	binding := "ncacn_nats:" + ns.ClientURL() + "[calc-" + uuid.NewString()[:8] + "]"
	serve(ctx, t, ifc, &calcImpl{}, binding, server.WithWorkers(2))
	cl := dial(ctx, t, binding, ifc)

	got, err := cl.Stub("add").Invoke(ctx, int32(40), int32(2))
	require.NoError(t, err)
	assert.Equal(t, int32(42), got)
}
