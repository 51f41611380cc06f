package ndr

import "github.com/wippyai/ndr-runtime/idl"

// Slot is one stack position of a procedure frame.
type Slot struct {
	Name   string
	Type   idl.Type
	Index  int
	Offset uint32
	Size   uint32
}

// Layout is the stack layout of one method for one syntax. The binding
// handle occupies the first slot; parameters follow in declaration order
// and the return slot comes last.
type Layout struct {
	Syntax    Syntax
	Handle    Slot
	Params    []Slot
	Return    Slot
	HasReturn bool
	StackSize uint32
}

// Plan lays out m for syntax s. The method must have passed validation.
//
// Legacy frames are packed 32-bit stacks: every value takes its size
// rounded up to 4 bytes, pointers take 4. NDR64 frames give every slot 8
// bytes at 8 + 8*slot.
func Plan(m *idl.Method, s Syntax) Layout {
	if s == SyntaxNDR64 {
		return plan64(m)
	}
	return planLegacy(m)
}

func planLegacy(m *idl.Method) Layout {
	l := Layout{
		Syntax: SyntaxNDR,
		Handle: Slot{Name: "handle", Offset: 0, Size: 4},
		Params: make([]Slot, len(m.Params)),
	}
	off := uint32(4)
	for i, p := range m.Params {
		size := legacyStackSize(p.Type)
		l.Params[i] = Slot{Name: p.Name, Type: p.Type, Index: i, Offset: off, Size: size}
		off += size
	}
	if !m.Return.IsVoid() {
		size := legacyStackSize(m.Return)
		l.Return = Slot{Name: "return", Type: m.Return, Index: len(m.Params), Offset: off, Size: size}
		l.HasReturn = true
		off += size
	}
	l.StackSize = off
	return l
}

func legacyStackSize(t idl.Type) uint32 {
	if t.Kind() == idl.KindText {
		return 4
	}
	return align(uint32(t.Width()), 4)
}

func plan64(m *idl.Method) Layout {
	l := Layout{
		Syntax: SyntaxNDR64,
		Handle: Slot{Name: "handle", Offset: 0, Size: 8},
		Params: make([]Slot, len(m.Params)),
	}
	for i, p := range m.Params {
		l.Params[i] = Slot{Name: p.Name, Type: p.Type, Index: i, Offset: 8 + 8*uint32(i), Size: 8}
	}
	slots := uint32(len(m.Params))
	if !m.Return.IsVoid() {
		l.Return = Slot{Name: "return", Type: m.Return, Index: len(m.Params), Offset: 8 + 8*slots, Size: 8}
		l.HasReturn = true
		slots++
	}
	l.StackSize = 8 + 8*slots
	return l
}

func align(v, n uint32) uint32 {
	return (v + n - 1) &^ (n - 1)
}
