// Package ndr compiles an idl.Interface into the two parallel format
// encodings an NDR call engine consumes: NDR 2.0 for 32-bit stacks and
// NDR64 for 64-bit stacks.
//
// Compilation has three stages:
//
//   - the type catalog maps every supported type to its legacy and NDR64
//     format codes, parameter attributes, size and alignment;
//   - the planner assigns stack offsets per method and syntax, the binding
//     handle first and the return slot last;
//   - the format builder emits a type stream and a procedure stream per
//     syntax in a single pass.
//
// The streams are deterministic: compiling the same interface twice gives
// byte-identical output. ParseProc decodes procedure records back, which
// is how the engine drives marshalling, and Disassemble renders them.
//
// Frame is the native call stack a Layout describes. Stubs store Go
// values into it and the engine marshals from it.
package ndr
