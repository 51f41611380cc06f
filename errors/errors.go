package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseCompile   Phase = "compile"   // interface to format streams
	PhaseAssemble  Phase = "assemble"  // metadata bundle construction
	PhaseMarshal   Phase = "marshal"   // frame to wire
	PhaseUnmarshal Phase = "unmarshal" // wire to frame
	PhaseBind      Phase = "bind"      // string binding, transport, handshake
	PhaseCall      Phase = "call"      // client side remote call
	PhaseDispatch  Phase = "dispatch"  // server side routine dispatch
	PhaseAlloc     Phase = "alloc"     // scratch heap
	PhaseRegister  Phase = "register"  // interface registration / server lifecycle
	PhaseConfig    Phase = "config"    // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch   Kind = "type_mismatch"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindInvalidData    Kind = "invalid_data"
	KindUnsupported    Kind = "unsupported"
	KindAllocation     Kind = "allocation"
	KindInvalidUTF16   Kind = "invalid_utf16"
	KindOverflow       Kind = "overflow"
	KindNilPointer     Kind = "nil_pointer"
	KindNotFound       Kind = "not_found"
	KindNotInitialized Kind = "not_initialized"
	KindInvalidInput   Kind = "invalid_input"
	KindRegistration   Kind = "registration"
	KindBinding        Kind = "binding"
	KindRemoteCall     Kind = "remote_call"
	KindContextMissing Kind = "context_missing"
	KindState          Kind = "invalid_state"
)

// Sentinels for errors.Is checks. Matching is by phase and kind.
var (
	ErrBinding        = &Error{Phase: PhaseBind, Kind: KindBinding}
	ErrRemoteCall     = &Error{Phase: PhaseCall, Kind: KindRemoteCall}
	ErrContextMissing = &Error{Phase: PhaseDispatch, Kind: KindContextMissing}
	ErrAllocation     = &Error{Phase: PhaseAlloc, Kind: KindAllocation}
)

// Error is the structured error type used throughout the module
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	GoType  string
	NdrType string
	Detail  string
	Path    []string
	// Status is the engine status code when the error originates from the
	// call engine, zero otherwise.
	Status uint32
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.NdrType != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.NdrType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", NDR type ")
			b.WriteString(e.NdrType)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("NDR type ")
			b.WriteString(e.NdrType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.NdrType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the element path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// NdrType sets the interface type name
func (b *Builder) NdrType(t string) *Builder {
	b.err.NdrType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Status sets the engine status code
func (b *Builder) Status(code uint32) *Builder {
	b.err.Status = code
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, ndrType string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindTypeMismatch,
		Path:    path,
		GoType:  goType,
		NdrType: ndrType,
	}
}

// InvalidUTF16 creates an invalid UTF-16 error
func InvalidUTF16(phase Phase, path []string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF16,
		Path:   path,
		Detail: "invalid UTF-16 text",
		Cause:  cause,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(size uint32, detail string) *Error {
	return &Error{
		Phase:  PhaseAlloc,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("allocate %d bytes: %s", size, detail),
		Value:  size,
	}
}

// Corrupted creates an allocation accounting error for a bad block
func Corrupted(ptr uint32, detail string) *Error {
	return &Error{
		Phase:  PhaseAlloc,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("block 0x%x: %s", ptr, detail),
		Value:  ptr,
	}
}

// Unsupported creates an unsupported type or operation error
func Unsupported(phase Phase, path []string, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Path:   path,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// NilPointer creates a nil pointer error
func NilPointer(phase Phase, path []string, goType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNilPointer,
		Path:   path,
		GoType: goType,
		Detail: "nil pointer",
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, targetType string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindOverflow,
		Path:    path,
		NdrType: targetType,
		Detail:  fmt.Sprintf("value %v overflows %s", value, targetType),
		Value:   value,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidState creates a lifecycle state error
func InvalidState(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindState,
		Detail: detail,
	}
}

// Binding creates a binding error carrying the engine status
func Binding(status uint32, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseBind,
		Kind:   KindBinding,
		Detail: detail,
		Status: status,
		Cause:  cause,
	}
}

// RemoteCall creates a remote call failure carrying the engine status verbatim
func RemoteCall(status uint32, method string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindRemoteCall,
		Path:   []string{method},
		Detail: "remote call failed",
		Status: status,
		Cause:  cause,
	}
}

// ContextMissing creates the fatal dispatch error raised when no
// implementation is associated with the dispatching worker.
func ContextMissing(worker int, method string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindContextMissing,
		Path:   []string{method},
		Detail: fmt.Sprintf("no implementation registered for worker %d", worker),
		Value:  worker,
	}
}

// Registration creates a registration error
func Registration(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindRegistration,
		Detail: what,
		Cause:  cause,
	}
}

// StatusOf extracts the engine status code from err, or zero.
func StatusOf(err error) uint32 {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Status != 0 {
			return e.Status
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}
	return 0
}

// IsRemoteCallFailure reports whether err is a failure of the remote-call
// primitive, as opposed to a result produced by the called method.
func IsRemoteCallFailure(err error) bool {
	return stderrors.Is(err, ErrRemoteCall) || stderrors.Is(err, ErrBinding)
}
