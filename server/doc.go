// Package server hosts a Go value as the implementation of an interface.
//
// New binds the value's methods to the interface by name (the PascalCase
// form of the method name or the name itself) and builds one dispatch
// routine per method. Routines do not capture the implementation: they
// find it through a Registry keyed by the engine worker that dispatches
// the call, which is populated when the server starts listening and
// emptied after it drained.
//
//	srv, err := server.New(ifc, &Calc{}, server.WithWorkers(4))
//	if err != nil {
//		return err
//	}
//	if err := srv.Register(ctx, "ncalrpc:[calc]"); err != nil {
//		return err
//	}
//	if err := srv.ListenAsync(ctx); err != nil {
//		return err
//	}
//	defer srv.Stop(ctx)
//
// A method may take a leading context.Context and may return a trailing
// error. A returned error fails the call with its engine status, or
// 1726 when it carries none.
package server
