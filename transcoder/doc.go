// Package transcoder converts procedure frames to and from NDR stub data.
//
// The engine drives it from decoded procedure records, never from the
// interface descriptor, so the wire form always matches the format streams
// the peer was compiled with.
//
// # Wire Layout
//
// Offsets are relative to the start of the stub data:
//
//	Type        NDR 2.0                     NDR64
//	─────────────────────────────────────────────────────────────────
//	int N       N bytes, aligned to N       N bytes, aligned to N
//	text        align 4                     align 8
//	            max count     u32           max count     u64
//	            offset        u32 (0)       offset        u64 (0)
//	            actual count  u32           actual count  u64
//	            units         2*actual      units         2*actual
//
// Text counts include the NUL terminator. A request carries the input
// parameters in stack order; a response carries the return value only.
//
// # Errors
//
// Malformed stub data fails with KindInvalidData in PhaseUnmarshal, which
// the engine reports as bad stub data.
package transcoder
