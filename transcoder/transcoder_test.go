package transcoder

import (
	"bytes"
	stderrors "errors"
	"testing"

	"github.com/google/uuid"

	"github.com/wippyai/ndr-runtime/alloc"
	"github.com/wippyai/ndr-runtime/errors"
	"github.com/wippyai/ndr-runtime/idl"
	"github.com/wippyai/ndr-runtime/ndr"
)

type fixture struct {
	c    *ndr.Compiled
	mem  *alloc.SliceMemory
	heap *alloc.Heap
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ifc, err := idl.NewInterface("Calc", uuid.MustParse("12345678-1234-abcd-ef00-0123456789ab"), idl.Version{Major: 1}).
		Method("add", idl.I32).Param("a", idl.I32).Param("b", idl.I32).Done().
		Method("strlen", idl.U64).Param("s", idl.Text).Done().
		Method("mix", idl.I16).Param("a", idl.U8).Param("s", idl.Text).Param("b", idl.U64).Done().
		Method("ping", idl.Void).Done().
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	c, err := ndr.Compile(ifc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	mem := alloc.NewSliceMemory(64 << 10)
	heap, err := alloc.NewHeap(mem, 0, mem.Size())
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	return &fixture{c: c, mem: mem, heap: heap}
}

func (fx *fixture) proc(t *testing.T, s ndr.Syntax, ord int) *ndr.Proc {
	t.Helper()
	p, err := ndr.ParseProc(&fx.c.Formats, s, ord)
	if err != nil {
		t.Fatalf("ParseProc: %v", err)
	}
	return p
}

func (fx *fixture) frame(t *testing.T, s ndr.Syntax, ord int, args ...any) (*ndr.Frame, *ndr.Layout) {
	t.Helper()
	l, ok := fx.c.Layout(s, ord)
	if !ok {
		t.Fatalf("no layout %d", ord)
	}
	f, err := ndr.NewFrame(fx.mem, fx.heap, s, l.StackSize)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	t.Cleanup(func() { _ = f.Release() })
	for i, a := range args {
		if err := f.Store(l.Params[i], a); err != nil {
			t.Fatalf("Store %d: %v", i, err)
		}
	}
	return f, l
}

func TestMarshalRequestBytes(t *testing.T) {
	fx := newFixture(t)
	tests := []struct {
		name   string
		syntax ndr.Syntax
		ord    int
		args   []any
		want   []byte
	}{
		{"add ndr", ndr.SyntaxNDR, 0, []any{int32(2), int32(-3)},
			[]byte{2, 0, 0, 0, 0xfd, 0xff, 0xff, 0xff}},
		{"add ndr64", ndr.SyntaxNDR64, 0, []any{int32(2), int32(-3)},
			[]byte{2, 0, 0, 0, 0xfd, 0xff, 0xff, 0xff}},
		{"strlen ndr", ndr.SyntaxNDR, 1, []any{"hi"},
			[]byte{3, 0, 0, 0, 0, 0, 0, 0, 3, 0, 0, 0, 'h', 0, 'i', 0, 0, 0}},
		{"strlen ndr64", ndr.SyntaxNDR64, 1, []any{"hi"},
			[]byte{
				3, 0, 0, 0, 0, 0, 0, 0,
				0, 0, 0, 0, 0, 0, 0, 0,
				3, 0, 0, 0, 0, 0, 0, 0,
				'h', 0, 'i', 0, 0, 0,
			}},
		{"mix ndr", ndr.SyntaxNDR, 2, []any{uint8(7), "x", uint64(9)},
			[]byte{
				7, 0, 0, 0,
				2, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0,
				'x', 0, 0, 0,
				0, 0, 0, 0,
				9, 0, 0, 0, 0, 0, 0, 0,
			}},
		{"ping ndr", ndr.SyntaxNDR, 3, nil, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := fx.frame(t, tt.syntax, tt.ord, tt.args...)
			got, err := MarshalRequest(fx.proc(t, tt.syntax, tt.ord), f)
			if err != nil {
				t.Fatalf("MarshalRequest: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("stub data = % x\nwant      % x", got, tt.want)
			}
		})
	}
}

func TestRequestRoundTrip(t *testing.T) {
	fx := newFixture(t)
	for _, s := range ndr.Syntaxes {
		t.Run(s.String(), func(t *testing.T) {
			args := []any{uint8(200), "héllo wörld ✓", uint64(1 << 40)}
			client, _ := fx.frame(t, s, 2, args...)
			p := fx.proc(t, s, 2)
			data, err := MarshalRequest(p, client)
			if err != nil {
				t.Fatalf("MarshalRequest: %v", err)
			}

			server, l := fx.frame(t, s, 2)
			if err := UnmarshalRequest(p, data, server); err != nil {
				t.Fatalf("UnmarshalRequest: %v", err)
			}
			for i, want := range args {
				got, err := server.Load(l.Params[i])
				if err != nil {
					t.Fatalf("Load %d: %v", i, err)
				}
				if got != want {
					t.Errorf("param %d = %v (%T), want %v", i, got, got, want)
				}
			}
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	fx := newFixture(t)
	for _, s := range ndr.Syntaxes {
		t.Run(s.String(), func(t *testing.T) {
			p := fx.proc(t, s, 2)
			server, l := fx.frame(t, s, 2)
			if err := server.Store(l.Return, int16(-1234)); err != nil {
				t.Fatalf("Store: %v", err)
			}
			data, err := MarshalResponse(p, server)
			if err != nil {
				t.Fatalf("MarshalResponse: %v", err)
			}
			if len(data) != 2 {
				t.Errorf("response length = %d, want 2", len(data))
			}

			client, _ := fx.frame(t, s, 2)
			if err := UnmarshalResponse(p, data, client); err != nil {
				t.Fatalf("UnmarshalResponse: %v", err)
			}
			got, err := client.Load(l.Return)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got != int16(-1234) {
				t.Errorf("return = %v, want -1234", got)
			}
		})
	}
}

func TestVoidResponse(t *testing.T) {
	fx := newFixture(t)
	p := fx.proc(t, ndr.SyntaxNDR64, 3)
	f, _ := fx.frame(t, ndr.SyntaxNDR64, 3)
	data, err := MarshalResponse(p, f)
	if err != nil || len(data) != 0 {
		t.Fatalf("MarshalResponse = % x, %v", data, err)
	}
	if err := UnmarshalResponse(p, []byte{0}, f); err == nil {
		t.Error("trailing byte accepted")
	}
}

func TestMalformedStubData(t *testing.T) {
	fx := newFixture(t)
	p := fx.proc(t, ndr.SyntaxNDR, 1)
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated counts", []byte{3, 0, 0, 0, 0, 0}},
		{"nonzero offset", []byte{3, 0, 0, 0, 1, 0, 0, 0, 3, 0, 0, 0, 'h', 0, 'i', 0, 0, 0}},
		{"count mismatch", []byte{3, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 'h', 0, 0, 0}},
		{"zero count", []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}},
		{"no terminator", []byte{2, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 'h', 0, 'i', 0}},
		{"embedded nul", []byte{3, 0, 0, 0, 0, 0, 0, 0, 3, 0, 0, 0, 0, 0, 'i', 0, 0, 0}},
		{"short units", []byte{3, 0, 0, 0, 0, 0, 0, 0, 3, 0, 0, 0, 'h', 0}},
		{"huge count", []byte{0xff, 0xff, 0xff, 0x7f, 0, 0, 0, 0, 0xff, 0xff, 0xff, 0x7f}},
		{"trailing", []byte{2, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 'h', 0, 0, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := fx.frame(t, ndr.SyntaxNDR, 1)
			err := UnmarshalRequest(p, tt.data, f)
			if err == nil {
				t.Fatal("expected error")
			}
			var e *errors.Error
			if !stderrors.As(err, &e) || e.Phase != errors.PhaseUnmarshal {
				t.Errorf("error = %v, want unmarshal phase", err)
			}
		})
	}
}

func TestSyntaxMismatch(t *testing.T) {
	fx := newFixture(t)
	f, _ := fx.frame(t, ndr.SyntaxNDR, 0, int32(1), int32(2))
	if _, err := MarshalRequest(fx.proc(t, ndr.SyntaxNDR64, 0), f); err == nil {
		t.Error("NDR frame marshalled with NDR64 procedure")
	}
}

func TestWriterPoolIsolation(t *testing.T) {
	fx := newFixture(t)
	f, _ := fx.frame(t, ndr.SyntaxNDR, 0, int32(1), int32(2))
	p := fx.proc(t, ndr.SyntaxNDR, 0)
	first, err := MarshalRequest(p, f)
	if err != nil {
		t.Fatal(err)
	}
	snapshot := append([]byte(nil), first...)
	for i := 0; i < 10; i++ {
		if _, err := MarshalRequest(p, f); err != nil {
			t.Fatal(err)
		}
	}
	if !bytes.Equal(first, snapshot) {
		t.Error("pooled writer reuse changed an earlier result")
	}
}
