package ndr

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"

	"github.com/wippyai/ndr-runtime/alloc"
	"github.com/wippyai/ndr-runtime/errors"
	"github.com/wippyai/ndr-runtime/idl"
)

var calcID = uuid.MustParse("12345678-1234-abcd-ef00-0123456789ab")

func calcInterface(t *testing.T) *idl.Interface {
	t.Helper()
	ifc, err := idl.NewInterface("Calc", calcID, idl.Version{Major: 1}).
		Method("add", idl.I32).Param("a", idl.I32).Param("b", idl.I32).Done().
		Method("strlen", idl.U64).Param("s", idl.Text).Done().
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return ifc
}

func TestCatalogCodes(t *testing.T) {
	tests := []struct {
		typ     idl.Type
		legacy  byte
		ndr64   byte
		attrs   ParamAttributes
		attrs64 ParamAttributes
		size    uint32
	}{
		{idl.U8, 0x01, 0x01, 0x0048, 0x00c8, 1},
		{idl.I8, 0x03, 0x02, 0x0048, 0x00c8, 1},
		{idl.U16, 0x07, 0x03, 0x0048, 0x00c8, 2},
		{idl.I16, 0x06, 0x04, 0x0048, 0x00c8, 2},
		{idl.U32, 0x09, 0x05, 0x0048, 0x00c8, 4},
		{idl.I32, 0x08, 0x06, 0x0048, 0x00c8, 4},
		{idl.U64, 0x0b, 0x07, 0x0048, 0x00c8, 8},
		{idl.I64, 0x0b, 0x08, 0x0048, 0x00c8, 8},
		{idl.Text, 0x25, 0x64, 0x010b, 0x010b, 2},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			for i := 0; i < 2; i++ {
				e, err := Resolve(tt.typ)
				if err != nil {
					t.Fatalf("Resolve: %v", err)
				}
				if e.LegacyCode != tt.legacy || e.NDR64Code != tt.ndr64 {
					t.Errorf("codes = 0x%02x/0x%02x, want 0x%02x/0x%02x", e.LegacyCode, e.NDR64Code, tt.legacy, tt.ndr64)
				}
				if e.Attributes != tt.attrs || e.NDR64Attributes != tt.attrs64 {
					t.Errorf("attrs = 0x%04x/0x%04x, want 0x%04x/0x%04x", e.Attributes, e.NDR64Attributes, tt.attrs, tt.attrs64)
				}
				if e.Size != tt.size {
					t.Errorf("size = %d, want %d", e.Size, tt.size)
				}
			}
		})
	}

	if ReturnAttributes(SyntaxNDR) != 0x0070 || ReturnAttributes(SyntaxNDR64) != 0x00f0 {
		t.Errorf("return attributes = 0x%04x/0x%04x", ReturnAttributes(SyntaxNDR), ReturnAttributes(SyntaxNDR64))
	}
}

func TestCatalogRejects(t *testing.T) {
	for _, typ := range []idl.Type{idl.Void, idl.Int(3, true)} {
		if _, err := Resolve(typ); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseCompile, Kind: errors.KindUnsupported}) {
			t.Errorf("Resolve(%v) = %v, want compile/unsupported", typ, err)
		}
	}

	m := &idl.Method{Name: "m", Params: []idl.Parameter{{Name: "out", Type: idl.I32, Direction: idl.Out}}}
	_, err := ResolveParam("X", m, m.Params[0])
	var e *errors.Error
	if !stderrors.As(err, &e) || len(e.Path) != 3 || e.Path[2] != "out" {
		t.Errorf("ResolveParam error should name the parameter, got %v", err)
	}
}

func TestPlanLegacy(t *testing.T) {
	m := &idl.Method{
		Name: "mix",
		Params: []idl.Parameter{
			{Name: "a", Type: idl.U8, Slot: 0},
			{Name: "b", Type: idl.I64, Slot: 1},
			{Name: "s", Type: idl.Text, Slot: 2},
			{Name: "c", Type: idl.I16, Slot: 3},
		},
		Return: idl.U64,
	}
	l := Plan(m, SyntaxNDR)
	want := []uint32{4, 8, 16, 20}
	for i, off := range want {
		if l.Params[i].Offset != off {
			t.Errorf("param %d offset = %d, want %d", i, l.Params[i].Offset, off)
		}
	}
	if !l.HasReturn || l.Return.Offset != 24 || l.Return.Index != 4 {
		t.Errorf("return = %+v", l.Return)
	}
	if l.StackSize != 32 {
		t.Errorf("stack size = %d, want 32", l.StackSize)
	}
}

func TestPlanNDR64(t *testing.T) {
	m := &idl.Method{
		Name: "mix",
		Params: []idl.Parameter{
			{Name: "a", Type: idl.U8, Slot: 0},
			{Name: "s", Type: idl.Text, Slot: 1},
		},
	}
	l := Plan(m, SyntaxNDR64)
	if l.Handle.Size != 8 || l.Params[0].Offset != 8 || l.Params[1].Offset != 16 {
		t.Errorf("offsets = %d, %d", l.Params[0].Offset, l.Params[1].Offset)
	}
	if l.HasReturn {
		t.Error("void method should have no return slot")
	}
	if l.StackSize != 24 {
		t.Errorf("stack size = %d, want 24", l.StackSize)
	}
}

func TestCompileDeterministic(t *testing.T) {
	a, err := Compile(calcInterface(t))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	b, err := Compile(calcInterface(t))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	for _, s := range Syntaxes {
		if !bytes.Equal(a.Formats.Type(s), b.Formats.Type(s)) {
			t.Errorf("%s type streams differ", s)
		}
		if !bytes.Equal(a.Formats.Proc(s), b.Formats.Proc(s)) {
			t.Errorf("%s proc streams differ", s)
		}
	}
}

func TestCompileSharesTypeRecords(t *testing.T) {
	ifc := idl.NewInterface("Strings", calcID, idl.Version{Major: 1}).
		Method("one", idl.U32).Param("a", idl.Text).Done().
		Method("two", idl.U32).Param("a", idl.Text).Param("b", idl.Text).Done().
		MustBuild()
	c, err := Compile(ifc)
	if err != nil {
		t.Fatal(err)
	}
	// leading short, one text record, terminator
	if got := len(c.Formats.LegacyType); got != 7 {
		t.Errorf("legacy type stream is %d bytes, want 7", got)
	}
	for _, s := range Syntaxes {
		offsets := map[uint32]bool{}
		for ord := range ifc.Methods {
			p, err := ParseProc(&c.Formats, s, ord)
			if err != nil {
				t.Fatal(err)
			}
			for _, pp := range p.Inputs() {
				offsets[pp.TypeOffset] = true
			}
		}
		if len(offsets) != 1 {
			t.Errorf("%s: text parameters use %d distinct type offsets, want 1", s, len(offsets))
		}
	}
}

func TestParseProcMatchesLayout(t *testing.T) {
	ifc := idl.NewInterface("Wide", calcID, idl.Version{Major: 2, Minor: 1}).
		Method("no_params", idl.U64).Done().
		Method("ping", idl.Void).Param("x", idl.U8).Done().
		Method("mix", idl.I16).Param("a", idl.I8).Param("b", idl.U64).Param("s", idl.Text).Param("t", idl.Text).Done().
		MustBuild()
	c, err := Compile(ifc)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range Syntaxes {
		for ord := range ifc.Methods {
			p, err := ParseProc(&c.Formats, s, ord)
			if err != nil {
				t.Fatalf("%s/%d: %v", s, ord, err)
			}
			l, _ := c.Layout(s, ord)
			if p.StackSize != l.StackSize {
				t.Errorf("%s/%d: stack %d, layout %d", s, ord, p.StackSize, l.StackSize)
			}
			in := p.Inputs()
			if len(in) != len(l.Params) {
				t.Fatalf("%s/%d: %d inputs, layout has %d", s, ord, len(in), len(l.Params))
			}
			for i, pp := range in {
				if pp.StackOffset != l.Params[i].Offset {
					t.Errorf("%s/%d param %d: offset %d, layout %d", s, ord, i, pp.StackOffset, l.Params[i].Offset)
				}
				if pp.Text() != (l.Params[i].Type == idl.Text) {
					t.Errorf("%s/%d param %d: text mismatch", s, ord, i)
				}
			}
			ret, ok := p.Return()
			if ok != l.HasReturn {
				t.Fatalf("%s/%d: return presence %v, layout %v", s, ord, ok, l.HasReturn)
			}
			if ok && (ret.StackOffset != l.Return.Offset || ret.Entry.Size != uint32(l.Return.Type.Width())) {
				t.Errorf("%s/%d: return %+v, layout %+v", s, ord, ret, l.Return)
			}
		}
	}
	if _, err := ParseProc(&c.Formats, SyntaxNDR, 3); err == nil {
		t.Error("ParseProc past last ordinal should fail")
	}
}

func TestWidestProcedure(t *testing.T) {
	build := func(params int) (*idl.Interface, error) {
		mb := idl.NewInterface("Wide", calcID, idl.Version{Major: 1}).Method("wide", idl.I32)
		for i := 0; i < params; i++ {
			mb.Param(fmt.Sprintf("p%d", i), idl.I32)
		}
		return mb.Done().Build()
	}

	ifc, err := build(254)
	if err != nil {
		t.Fatalf("254 params: %v", err)
	}
	c, err := Compile(ifc)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range Syntaxes {
		p, err := ParseProc(&c.Formats, s, 0)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if len(p.Params) != 255 {
			t.Errorf("%s: %d descriptors, want 255", s, len(p.Params))
		}
		if _, ok := p.Return(); !ok {
			t.Errorf("%s: return descriptor missing", s)
		}
	}

	if _, err := build(255); err == nil {
		t.Error("255 params with a return should not build")
	}
}

func TestParseProcRejectsGarbage(t *testing.T) {
	c, err := Compile(calcInterface(t))
	if err != nil {
		t.Fatal(err)
	}
	f := c.Formats
	f.LegacyProc = append([]byte(nil), f.LegacyProc...)
	f.LegacyProc[10] = 0x00 // handle descriptor
	if _, err := ParseProc(&f, SyntaxNDR, 0); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseUnmarshal, Kind: errors.KindInvalidData}) {
		t.Errorf("expected invalid data, got %v", err)
	}
	f.NDR64Proc = f.NDR64Proc[:30]
	if _, err := ParseProc(&f, SyntaxNDR64, 0); err == nil {
		t.Error("truncated NDR64 stream should fail")
	}
}

func TestDisassembleGolden(t *testing.T) {
	c, err := Compile(calcInterface(t))
	if err != nil {
		t.Fatal(err)
	}
	out, err := Disassemble(c)
	if err != nil {
		t.Fatal(err)
	}
	g := goldie.New(t)
	g.Assert(t, "calc_streams", []byte(out))
}

func TestFrameStoreLoad(t *testing.T) {
	mem := alloc.NewSliceMemory(1 << 16)
	heap, err := alloc.NewHeap(mem, 0, mem.Size())
	if err != nil {
		t.Fatal(err)
	}
	ifc := idl.NewInterface("F", calcID, idl.Version{Major: 1}).
		Method("m", idl.I64).Param("a", idl.I8).Param("s", idl.Text).Param("u", idl.U16).Done().
		MustBuild()

	for _, s := range Syntaxes {
		l := Plan(&ifc.Methods[0], s)
		f, err := NewFrame(mem, heap, s, l.StackSize)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetHandle(7); err != nil {
			t.Fatal(err)
		}
		if err := f.Store(l.Params[0], -5); err != nil {
			t.Fatal(err)
		}
		if err := f.Store(l.Params[1], "héllo"); err != nil {
			t.Fatal(err)
		}
		if err := f.Store(l.Params[2], uint16(65535)); err != nil {
			t.Fatal(err)
		}
		if err := f.Store(l.Return, int64(-1)); err != nil {
			t.Fatal(err)
		}

		if h, _ := f.Handle(); h != 7 {
			t.Errorf("%s: handle = %d", s, h)
		}
		if v, _ := f.Load(l.Params[0]); v != int8(-5) {
			t.Errorf("%s: a = %v", s, v)
		}
		if v, _ := f.Load(l.Params[1]); v != "héllo" {
			t.Errorf("%s: s = %v", s, v)
		}
		if v, _ := f.Load(l.Params[2]); v != uint16(65535) {
			t.Errorf("%s: u = %v", s, v)
		}
		if v, _ := f.Load(l.Return); v != int64(-1) {
			t.Errorf("%s: return = %v", s, v)
		}

		if err := f.Store(l.Params[0], 200); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseMarshal, Kind: errors.KindOverflow}) {
			t.Errorf("%s: overflow = %v", s, err)
		}
		if err := f.Store(l.Params[2], -1); err == nil {
			t.Errorf("%s: negative into u16 should fail", s)
		}
		if err := f.Store(l.Params[1], 42); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseMarshal, Kind: errors.KindTypeMismatch}) {
			t.Errorf("%s: int into text = %v", s, err)
		}

		if err := f.Release(); err != nil {
			t.Fatal(err)
		}
	}
	if st := heap.Stats(); st.Live != 0 {
		t.Errorf("frames leaked %d allocations", st.Live)
	}
}

func TestTextRoundTrip(t *testing.T) {
	for _, s := range []string{"", "hello", "日本語", "emoji 🎉"} {
		enc, err := EncodeText(s)
		if err != nil {
			t.Fatal(err)
		}
		if len(enc) < 2 || enc[len(enc)-1] != 0 || enc[len(enc)-2] != 0 {
			t.Errorf("%q: missing terminator", s)
		}
		got, err := DecodeText(enc)
		if err != nil || got != s {
			t.Errorf("DecodeText = %q, %v; want %q", got, err, s)
		}
	}
	if _, err := DecodeText([]byte{0x41}); err == nil {
		t.Error("odd length should fail")
	}
}

func TestTextRejectsNUL(t *testing.T) {
	for _, s := range []string{"\x00", "ab\x00cdef", "trailing\x00"} {
		_, err := EncodeText(s)
		var e *errors.Error
		if !stderrors.As(err, &e) || e.Phase != errors.PhaseMarshal || e.Kind != errors.KindInvalidInput {
			t.Errorf("EncodeText(%q) = %v, want marshal invalid_input", s, err)
		}
	}
}
