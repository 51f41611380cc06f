// Package metadata assembles the cross-linked structure graph the call
// engine reads: stub descriptor, proxy or server info, per-syntax info,
// interface record and, on the server side, dispatch tables.
//
// The graph contains cycles, so assembly runs in two phases. Phase one
// allocates every record inside a single bundle value, fixing its address,
// and fills the fields that do not point back. Phase two patches the
// cyclic references. A bundle is returned only after both phases and a
// successful Verify, and is never written again.
package metadata
