package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:   PhaseMarshal,
				Kind:    KindTypeMismatch,
				Path:    []string{"Calc", "add", "a"},
				GoType:  "string",
				NdrType: "i32",
				Detail:  "cannot convert",
			},
			contains: []string{"[marshal]", "type_mismatch", "Calc.add.a", "string", "i32", "cannot convert"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseUnmarshal,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[unmarshal]", "out_of_bounds"},
		},
		{
			name: "error with status and cause",
			err: &Error{
				Phase:  PhaseCall,
				Kind:   KindRemoteCall,
				Detail: "remote call failed",
				Status: 1722,
				Cause:  errors.New("connection refused"),
			},
			contains: []string{"[call]", "remote_call", "status 1722", "caused by", "connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseMarshal,
		Kind:  KindInvalidData,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseBind,
		Kind:  KindBinding,
		Path:  []string{"ncalrpc"},
	}

	if !err.Is(&Error{Phase: PhaseBind, Kind: KindBinding}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseCall, Kind: KindBinding}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseBind, Kind: KindRemoteCall}) {
		t.Error("Is should not match different kind")
	}
	if !errors.Is(err, ErrBinding) {
		t.Error("errors.Is should match ErrBinding sentinel")
	}

	wrapped := fmt.Errorf("dial: %w", RemoteCall(1727, "add", nil))
	if !errors.Is(wrapped, ErrRemoteCall) {
		t.Error("errors.Is should see through fmt wrapping")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseCompile, KindUnsupported).
		Path("Calc", "name").
		GoType("float64").
		NdrType("f64").
		Value(42).
		Status(1783).
		Cause(cause).
		Detail("expected %s, got %s", "i32", "f64").
		Build()

	if err.Phase != PhaseCompile {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseCompile)
	}
	if err.Kind != KindUnsupported {
		t.Errorf("Kind = %v, want %v", err.Kind, KindUnsupported)
	}
	if len(err.Path) != 2 || err.Path[0] != "Calc" || err.Path[1] != "name" {
		t.Errorf("Path = %v, want [Calc name]", err.Path)
	}
	if err.GoType != "float64" {
		t.Errorf("GoType = %v, want 'float64'", err.GoType)
	}
	if err.NdrType != "f64" {
		t.Errorf("NdrType = %v, want 'f64'", err.NdrType)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if err.Status != 1783 {
		t.Errorf("Status = %v, want 1783", err.Status)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected i32, got f64" {
		t.Errorf("Detail = %v, want 'expected i32, got f64'", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("AllocationFailed", func(t *testing.T) {
		err := AllocationFailed(1024, "heap exhausted")
		if !errors.Is(err, ErrAllocation) {
			t.Errorf("AllocationFailed should match ErrAllocation")
		}
		if !strings.Contains(err.Detail, "1024") {
			t.Errorf("Detail = %v, should contain size", err.Detail)
		}
	})

	t.Run("Corrupted", func(t *testing.T) {
		err := Corrupted(0x40, "guard mismatch")
		if err.Kind != KindAllocation || err.Value != uint32(0x40) {
			t.Errorf("Kind=%v Value=%v", err.Kind, err.Value)
		}
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		err := OutOfBounds(PhaseUnmarshal, []string{"stack"}, 10, 5)
		if err.Kind != KindOutOfBounds {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOutOfBounds)
		}
		if err.Value != 10 {
			t.Errorf("Value = %v, want 10", err.Value)
		}
	})

	t.Run("Overflow", func(t *testing.T) {
		err := Overflow(PhaseMarshal, []string{"val"}, 300, "u8")
		if err.Kind != KindOverflow || err.NdrType != "u8" {
			t.Errorf("Kind=%v NdrType=%v", err.Kind, err.NdrType)
		}
	})

	t.Run("ContextMissing", func(t *testing.T) {
		err := ContextMissing(3, "add")
		if !errors.Is(err, ErrContextMissing) {
			t.Error("ContextMissing should match sentinel")
		}
		if !strings.Contains(err.Error(), "worker 3") {
			t.Errorf("message %q should name the worker", err.Error())
		}
	})

	t.Run("Binding", func(t *testing.T) {
		err := Binding(1700, "malformed binding", nil)
		if !errors.Is(err, ErrBinding) || err.Status != 1700 {
			t.Errorf("unexpected binding error %v", err)
		}
	})
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want uint32
	}{
		{"nil", nil, 0},
		{"plain", errors.New("x"), 0},
		{"direct", RemoteCall(1726, "m", nil), 1726},
		{"wrapped", fmt.Errorf("ctx: %w", Binding(1722, "down", nil)), 1722},
		{"nested cause", Wrap(PhaseCall, KindRemoteCall, Binding(14, "oom", nil), "outer"), 14},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(tt.err); got != tt.want {
				t.Errorf("StatusOf = %d, want %d", got, tt.want)
			}
		})
	}
}
