package ndr

import (
	"github.com/wippyai/ndr-runtime/idl"
	"github.com/wippyai/ndr-runtime/internal/binary"
)

// Formats holds the type and procedure streams of an interface for both
// syntaxes. Offsets index the procedure stream by ordinal.
type Formats struct {
	LegacyType    []byte
	LegacyProc    []byte
	LegacyOffsets []uint16
	NDR64Type     []byte
	NDR64Proc     []byte
	NDR64Offsets  []uint32
}

// Type returns the type stream for s.
func (f *Formats) Type(s Syntax) []byte {
	if s == SyntaxNDR64 {
		return f.NDR64Type
	}
	return f.LegacyType
}

// Proc returns the procedure stream for s.
func (f *Formats) Proc(s Syntax) []byte {
	if s == SyntaxNDR64 {
		return f.NDR64Proc
	}
	return f.LegacyProc
}

// ProcOffset returns the offset of ordinal's record in the procedure
// stream for s.
func (f *Formats) ProcOffset(s Syntax, ordinal int) (uint32, bool) {
	if s == SyntaxNDR64 {
		if ordinal < 0 || ordinal >= len(f.NDR64Offsets) {
			return 0, false
		}
		return f.NDR64Offsets[ordinal], true
	}
	if ordinal < 0 || ordinal >= len(f.LegacyOffsets) {
		return 0, false
	}
	return uint32(f.LegacyOffsets[ordinal]), true
}

// Procedure header constants.
const (
	oiFlags       byte = 0x48 // has rpc flags, v2 interpreter
	oi2ClientMust byte = 0x02
	oi2HasReturn  byte = 0x04
	oi2HasExt     byte = 0x40
	legacyExtSize byte = 8

	proc64Interpreted uint32 = 0x00000040
	proc64ClientMust  uint32 = 0x00040000
	proc64HasReturn   uint32 = 0x00080000
	proc64HasExt      uint32 = 0x01000000
	ndr64ExtSize      uint16 = 8
)

// builder emits both stream pairs in one pass over the methods.
type builder struct {
	ifc *idl.Interface

	legacyType *binary.Writer
	legacyProc *binary.Writer
	ndr64Type  *binary.Writer
	ndr64Proc  *binary.Writer

	legacyTypeOff map[idl.Type]uint16
	ndr64TypeOff  map[idl.Type]uint32

	formats Formats
}

func buildFormats(ifc *idl.Interface, layouts [2][]Layout) (Formats, error) {
	b := &builder{
		ifc:           ifc,
		legacyType:    binary.NewWriter(),
		legacyProc:    binary.NewWriter(),
		ndr64Type:     binary.NewWriter(),
		ndr64Proc:     binary.NewWriter(),
		legacyTypeOff: make(map[idl.Type]uint16),
		ndr64TypeOff:  make(map[idl.Type]uint32),
	}

	b.legacyType.U16(0)
	for i := range ifc.Methods {
		m := &ifc.Methods[i]
		entries, err := resolveMethod(ifc.Name, m)
		if err != nil {
			return Formats{}, err
		}
		b.formats.LegacyOffsets = append(b.formats.LegacyOffsets, uint16(b.legacyProc.Len()))
		b.legacyProcRecord(i, m, entries, &layouts[SyntaxNDR][i])
		b.formats.NDR64Offsets = append(b.formats.NDR64Offsets, uint32(b.ndr64Proc.Len()))
		b.ndr64ProcRecord(m, entries, &layouts[SyntaxNDR64][i])
	}
	b.legacyType.Byte(0)
	b.legacyProc.Byte(0)

	b.formats.LegacyType = b.legacyType.Bytes()
	b.formats.LegacyProc = b.legacyProc.Bytes()
	b.formats.NDR64Type = b.ndr64Type.Bytes()
	b.formats.NDR64Proc = b.ndr64Proc.Bytes()
	return b.formats, nil
}

// resolveMethod returns catalog entries for every parameter followed by
// the return entry when there is one.
func resolveMethod(ifc string, m *idl.Method) ([]Entry, error) {
	entries := make([]Entry, 0, len(m.Params)+1)
	for _, p := range m.Params {
		e, err := ResolveParam(ifc, m, p)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if !m.Return.IsVoid() {
		e, err := Resolve(m.Return)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (b *builder) legacyTypeOffset(t idl.Type) uint16 {
	if off, ok := b.legacyTypeOff[t]; ok {
		return off
	}
	off := uint16(b.legacyType.Len())
	// only text needs a type record; base types are inline in the proc stream
	b.legacyType.Byte(FCRP)
	b.legacyType.Byte(FCSimplePointer)
	b.legacyType.Byte(FCCWString)
	b.legacyType.Byte(FCPad)
	b.legacyTypeOff[t] = off
	return off
}

func (b *builder) ndr64TypeOffset(e Entry) uint32 {
	if off, ok := b.ndr64TypeOff[e.Type]; ok {
		return off
	}
	off := uint32(b.ndr64Type.Len())
	b.ndr64Type.Byte(e.NDR64Code)
	if e.Type.Kind() == idl.KindText {
		b.ndr64Type.Byte(0)
		b.ndr64Type.U16(uint16(e.Size))
	}
	b.ndr64TypeOff[e.Type] = off
	return off
}

// bufferHints returns the constant client and server buffer sizes: the
// aligned wire size of integer inputs and of the return value. Text
// inputs are sized at call time.
func bufferHints(m *idl.Method, entries []Entry) (client, server uint32, mustSize bool) {
	for i := range m.Params {
		e := entries[i]
		if e.Type.Kind() == idl.KindText {
			mustSize = true
			continue
		}
		client = align(client, e.Align) + e.Size
	}
	if !m.Return.IsVoid() {
		server = entries[len(entries)-1].Size
	}
	return client, server, mustSize
}

func (b *builder) legacyProcRecord(ordinal int, m *idl.Method, entries []Entry, l *Layout) {
	w := b.legacyProc
	client, server, mustSize := bufferHints(m, entries)

	w.Byte(0) // explicit handle
	w.Byte(oiFlags)
	w.U32(0) // rpc flags
	w.U16(uint16(ordinal))
	w.U16(uint16(l.StackSize))

	w.Byte(FCBindPrimitive)
	w.Byte(FCBindPrimitiveFl)
	w.U16(uint16(l.Handle.Offset))

	w.U16(uint16(client))
	w.U16(uint16(server))
	flags := oi2HasExt
	if mustSize {
		flags |= oi2ClientMust
	}
	if l.HasReturn {
		flags |= oi2HasReturn
	}
	w.Byte(flags)
	w.Byte(byte(len(entries)))

	w.Byte(legacyExtSize)
	if mustSize {
		w.Byte(0x01) // new correlation descriptors
	} else {
		w.Byte(0)
	}
	w.U16(0) // client correlation hint
	w.U16(0) // server correlation hint
	w.U16(0) // notify index

	for i, p := range m.Params {
		e := entries[i]
		w.U16(uint16(e.Attributes))
		w.U16(uint16(l.Params[i].Offset))
		if p.Type.Kind() == idl.KindText {
			w.U16(b.legacyTypeOffset(p.Type))
		} else {
			w.Byte(e.LegacyCode)
			w.Byte(0)
		}
	}
	if l.HasReturn {
		e := entries[len(entries)-1]
		w.U16(uint16(ReturnAttributes(SyntaxNDR)))
		w.U16(uint16(l.Return.Offset))
		w.Byte(e.LegacyCode)
		w.Byte(0)
	}
}

func (b *builder) ndr64ProcRecord(m *idl.Method, entries []Entry, l *Layout) {
	w := b.ndr64Proc
	client, server, mustSize := bufferHints(m, entries)

	flags := proc64Interpreted | proc64HasExt
	if mustSize {
		flags |= proc64ClientMust
	}
	if l.HasReturn {
		flags |= proc64HasReturn
	}
	w.U32(flags)
	w.U32(l.StackSize)
	w.U32(client)
	w.U32(server)
	w.U16(0) // rpc flags
	w.U16(0) // float/double mask
	w.U16(uint16(len(entries)))
	w.U16(ndr64ExtSize)

	w.Byte(FC64BindPrimitive)
	w.Byte(0) // handle flags
	w.U16(uint16(l.Handle.Offset))
	w.Byte(0) // reserved
	w.Byte(0)
	w.U16(0) // notify index

	for i := range m.Params {
		e := entries[i]
		w.U64(uint64(b.ndr64TypeOffset(e)))
		w.U16(uint16(e.NDR64Attributes))
		w.U16(0)
		w.U32(l.Params[i].Offset)
	}
	if l.HasReturn {
		e := entries[len(entries)-1]
		w.U64(uint64(b.ndr64TypeOffset(e)))
		w.U16(uint16(ReturnAttributes(SyntaxNDR64)))
		w.U16(0)
		w.U32(l.Return.Offset)
	}
}
