// Package ndrruntime compiles declarative RPC interface descriptions into the
// binary metadata an NDR remote-procedure-call engine consumes, and provides
// the client stubs and server dispatch glue around it.
//
// # Architecture Overview
//
//	ndrruntime/          Root package with core Memory and Allocator interfaces
//	├── idl/             Interface, method, parameter and type descriptors
//	├── ndr/             Type catalog, stack layout planner, format streams
//	├── metadata/        Two-phase assembly of the cross-linked metadata bundle
//	├── alloc/           Size-prefixed scratch heap (engine allocate/free pair)
//	├── transcoder/      NDR 2.0 / NDR64 wire marshalling of frame values
//	├── engine/          Reference call engine: bindings, transports, workers
//	├── client/          Per-method client stubs
//	├── server/          Dispatch wrappers, worker context registry, server object
//	├── config/          TOML + environment configuration
//	├── errors/          Structured error types
//	├── examples/calc/   Demo interface and implementation
//	└── cmd/ndrc/        dump, serve and call from the command line
//
// # Compilation Flow
//
//	idl.Interface
//	    → ndr.Resolve + ndr.Plan         (codes, attributes, stack slots)
//	    → ndr.Compile                    (legacy + NDR64 type/proc streams)
//	    → metadata.AssembleClient/Server (fixed-address structure graph)
//	    → client.Stub / server routines  (consumed by engine.Call / engine.Endpoint)
//
// # Quick Start
//
//	ifc, _ := idl.NewInterface("Calc", guid, idl.Version{Major: 1}).
//		Method("add", idl.I32).Param("a", idl.I32).Param("b", idl.I32).Done().
//		Build()
//
//	srv, _ := server.New(ifc, calcImpl{})
//	_ = srv.Register(ctx, "ncalrpc:[calc]")
//	_ = srv.ListenAsync(ctx)
//	defer srv.Stop(ctx)
//
//	cl, _ := client.Dial(ctx, "ncalrpc:[calc]", ifc)
//	sum, _ := cl.Stub("add").Invoke(ctx, int32(2), int32(3)) // 5
//
// Method order is the dispatch ordinal. Reordering methods after deployment
// breaks wire compatibility with existing peers.
package ndrruntime
