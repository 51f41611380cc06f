// Package engine is the remote-call engine the generated stubs and
// dispatch routines plug into.
//
// # Architecture
//
//	Host       native memory (fixed-size wazero linear memory) + scratch heap
//	Transport  moves PDUs for one protocol sequence (ncalrpc, ncacn_nats)
//	Endpoint   listens on a string binding, runs the worker pool
//	Binding    client handle on an endpoint, negotiates transfer syntax
//	Call       the client call primitive
//
// # Call Flow
//
//	client                                  server
//	──────                                  ──────
//	Bind(ctx, "ncalrpc:[calc]")
//	Negotiate ── bind (NDR64, NDR) ──────▶  first offered syntax the
//	          ◀───────────── bind_ack ────  registered interface accepts
//	Call ─────── request (ordinal, stub) ▶  worker N: frame from Host heap,
//	                                        unmarshal, routine(ctx, N, frame),
//	     ◀─────────── response / fault ───  marshal return slot
//
// Both sides drive marshalling from the procedure records decoded out of
// the bundle's format streams.
//
// # Status Codes
//
// Failures carry Win32 RPC status values (see Status constants). Transport
// failures surface as binding errors, everything after a successful
// transport exchange as remote call failures.
//
// # Interfaces
//
// RegisterInterface claims an interface version for the process. An
// endpoint only binds and dispatches the interfaces attached to it with
// Endpoint.Serve; requests for any other interface get
// StatusUnknownInterface.
//
// # Workers
//
// An endpoint has a fixed number of workers with ids 0..N-1. Stop closes
// the listener, lets the workers finish every request already accepted,
// and returns only after the last worker exited. A routine that panics
// produces a call-failed fault, except for a missing dispatch context,
// which is re-raised.
package engine
