// Package idl describes remotely invokable interfaces: identity (GUID and
// major.minor version), ordered methods and their typed parameters.
//
// The type vocabulary is deliberately small: fixed-width integers of 1, 2,
// 4 or 8 bytes, signed or unsigned, and one input-only UTF-16 text type.
// Anything outside it is rejected by Validate, so unsupported types never
// reach the call path.
//
//	ifc := idl.NewInterface("Calc", id, idl.Version{Major: 1}).
//		Method("add", idl.I32).Param("a", idl.I32).Param("b", idl.I32).Done().
//		Method("strlen", idl.U64).Param("s", idl.Text).Done().
//		MustBuild()
//
// Method order is the dispatch ordinal and therefore part of the wire
// contract.
package idl
