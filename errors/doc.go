// Package errors provides structured error types for the ndr-runtime library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: element path, Go/NDR type names, the
// engine status code when one applies, and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCompile, errors.KindUnsupported).
//		Path("Calc", "add", "a").
//		GoType("float64").
//		Detail("no wire format for parameter type").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.RemoteCall(1722, "add", nil)
//	if errors.Is(err, errors.ErrRemoteCall) { ... }
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
