package ndr

import (
	"fmt"

	"github.com/wippyai/ndr-runtime/errors"
	"github.com/wippyai/ndr-runtime/internal/binary"
)

// ProcParam is one decoded parameter descriptor.
type ProcParam struct {
	Attributes  ParamAttributes
	StackOffset uint32
	Code        byte   // format code of the value
	TypeOffset  uint32 // type stream offset, zero for inline base types
	Entry       Entry
}

// Text reports whether the parameter is a wide string.
func (p ProcParam) Text() bool {
	return p.Attributes&IsBaseType == 0
}

// Proc is a procedure record decoded from a format stream. The engine
// drives marshalling from it, never from the interface descriptor.
type Proc struct {
	Syntax       Syntax
	Ordinal      int
	StackSize    uint32
	HandleOffset uint32
	ClientBuffer uint32
	ServerBuffer uint32
	Flags        uint32 // Oi2 flags for legacy, proc flags for NDR64
	Params       []ProcParam
}

// Return returns the return descriptor when the procedure has one.
func (p *Proc) Return() (ProcParam, bool) {
	for _, pp := range p.Params {
		if pp.Attributes&IsReturn != 0 {
			return pp, true
		}
	}
	return ProcParam{}, false
}

// Inputs returns the input descriptors in stack order.
func (p *Proc) Inputs() []ProcParam {
	in := make([]ProcParam, 0, len(p.Params))
	for _, pp := range p.Params {
		if pp.Attributes&IsIn != 0 {
			in = append(in, pp)
		}
	}
	return in
}

// ParseProc decodes the procedure record of ordinal from f.
func ParseProc(f *Formats, s Syntax, ordinal int) (*Proc, error) {
	off, ok := f.ProcOffset(s, ordinal)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseUnmarshal, []string{"proc"}, ordinal, len(f.LegacyOffsets))
	}
	r := binary.NewReader(f.Proc(s))
	if err := r.Seek(int(off)); err != nil {
		return nil, badProc(s, ordinal, err)
	}
	var (
		p   *Proc
		err error
	)
	if s == SyntaxNDR64 {
		p, err = parse64(r, f.NDR64Type)
	} else {
		p, err = parseLegacy(r, f.LegacyType)
	}
	if err != nil {
		return nil, badProc(s, ordinal, err)
	}
	p.Syntax = s
	p.Ordinal = ordinal
	return p, nil
}

func badProc(s Syntax, ordinal int, cause error) error {
	return errors.New(errors.PhaseUnmarshal, errors.KindInvalidData).
		Path(s.String(), fmt.Sprintf("proc%d", ordinal)).
		Detail("malformed procedure record").Cause(cause).Build()
}

type fieldReader struct {
	r   *binary.Reader
	err error
}

func (f *fieldReader) u8() byte {
	if f.err != nil {
		return 0
	}
	var v byte
	v, f.err = f.r.ReadByte()
	return v
}

func (f *fieldReader) u16() uint16 {
	if f.err != nil {
		return 0
	}
	var v uint16
	v, f.err = f.r.U16()
	return v
}

func (f *fieldReader) u32() uint32 {
	if f.err != nil {
		return 0
	}
	var v uint32
	v, f.err = f.r.U32()
	return v
}

func (f *fieldReader) u64() uint64 {
	if f.err != nil {
		return 0
	}
	var v uint64
	v, f.err = f.r.U64()
	return v
}

func parseLegacy(r *binary.Reader, types []byte) (*Proc, error) {
	fr := &fieldReader{r: r}
	if ht := fr.u8(); fr.err == nil && ht != 0 {
		return nil, fmt.Errorf("handle type 0x%02x, want explicit", ht)
	}
	if fl := fr.u8(); fr.err == nil && fl != oiFlags {
		return nil, fmt.Errorf("Oi flags 0x%02x", fl)
	}
	fr.u32() // rpc flags
	fr.u16() // proc num
	p := &Proc{StackSize: uint32(fr.u16())}
	if fc := fr.u8(); fr.err == nil && fc != FCBindPrimitive {
		return nil, fmt.Errorf("handle descriptor 0x%02x, want FC_BIND_PRIMITIVE", fc)
	}
	fr.u8()
	p.HandleOffset = uint32(fr.u16())
	p.ClientBuffer = uint32(fr.u16())
	p.ServerBuffer = uint32(fr.u16())
	p.Flags = uint32(fr.u8())
	count := int(fr.u8())
	if p.Flags&uint32(oi2HasExt) != 0 {
		size := fr.u8()
		if fr.err == nil && size < 2 {
			return nil, fmt.Errorf("extension size %d", size)
		}
		for i := 1; i < int(size); i++ {
			fr.u8()
		}
	}
	if fr.err != nil {
		return nil, fr.err
	}

	p.Params = make([]ProcParam, count)
	for i := range p.Params {
		pp := ProcParam{
			Attributes:  ParamAttributes(fr.u16()),
			StackOffset: uint32(fr.u16()),
		}
		if pp.Attributes&IsBaseType != 0 {
			pp.Code = fr.u8()
			fr.u8()
		} else {
			pp.TypeOffset = uint32(fr.u16())
			if fr.err == nil {
				code, err := legacyPointee(types, pp.TypeOffset)
				if err != nil {
					return nil, err
				}
				pp.Code = code
			}
		}
		if fr.err != nil {
			return nil, fr.err
		}
		e, ok := Lookup(SyntaxNDR, pp.Code)
		if !ok {
			return nil, fmt.Errorf("param %d: unknown format code 0x%02x", i, pp.Code)
		}
		pp.Entry = e
		p.Params[i] = pp
	}
	return p, nil
}

// legacyPointee follows an FC_RP simple pointer record to its target code.
func legacyPointee(types []byte, off uint32) (byte, error) {
	if int(off)+4 > len(types) {
		return 0, fmt.Errorf("type offset %d outside %d byte stream", off, len(types))
	}
	rec := types[off : off+4]
	if rec[0] != FCRP || rec[1]&FCSimplePointer == 0 {
		return 0, fmt.Errorf("type offset %d: expected simple FC_RP, got % x", off, rec[:2])
	}
	return rec[2], nil
}

func parse64(r *binary.Reader, types []byte) (*Proc, error) {
	fr := &fieldReader{r: r}
	p := &Proc{Flags: fr.u32()}
	p.StackSize = fr.u32()
	p.ClientBuffer = fr.u32()
	p.ServerBuffer = fr.u32()
	fr.u16() // rpc flags
	fr.u16() // float/double mask
	count := int(fr.u16())
	extSize := fr.u16()
	if fr.err != nil {
		return nil, fr.err
	}
	if p.Flags&proc64HasExt != 0 {
		if extSize < 4 {
			return nil, fmt.Errorf("extension size %d", extSize)
		}
		if fc := fr.u8(); fr.err == nil && fc != FC64BindPrimitive {
			return nil, fmt.Errorf("handle descriptor 0x%02x, want FC64_BIND_PRIMITIVE", fc)
		}
		fr.u8()
		p.HandleOffset = uint32(fr.u16())
		for i := 4; i < int(extSize); i++ {
			fr.u8()
		}
	}
	if fr.err != nil {
		return nil, fr.err
	}

	p.Params = make([]ProcParam, count)
	for i := range p.Params {
		typeOff := fr.u64()
		pp := ProcParam{
			Attributes: ParamAttributes(fr.u16()),
			TypeOffset: uint32(typeOff),
		}
		fr.u16()
		pp.StackOffset = fr.u32()
		if fr.err != nil {
			return nil, fr.err
		}
		if typeOff >= uint64(len(types)) {
			return nil, fmt.Errorf("param %d: type offset %d outside %d byte stream", i, typeOff, len(types))
		}
		pp.Code = types[typeOff]
		e, ok := Lookup(SyntaxNDR64, pp.Code)
		if !ok {
			return nil, fmt.Errorf("param %d: unknown format code 0x%02x", i, pp.Code)
		}
		pp.Entry = e
		p.Params[i] = pp
	}
	return p, nil
}
