package ndr

import (
	"fmt"

	"github.com/wippyai/ndr-runtime/errors"
	"github.com/wippyai/ndr-runtime/idl"
)

// Syntax selects one of the two parallel encodings negotiated per
// connection.
type Syntax uint8

const (
	SyntaxNDR   Syntax = iota // NDR 2.0, 32-bit stack
	SyntaxNDR64               // NDR64, 64-bit stack
)

// Syntaxes lists both encodings in index order.
var Syntaxes = [2]Syntax{SyntaxNDR, SyntaxNDR64}

func (s Syntax) String() string {
	switch s {
	case SyntaxNDR:
		return "ndr"
	case SyntaxNDR64:
		return "ndr64"
	}
	return fmt.Sprintf("syntax(%d)", s)
}

// PointerSize is the width of a stack pointer or handle slot.
func (s Syntax) PointerSize() uint32 {
	if s == SyntaxNDR64 {
		return 8
	}
	return 4
}

// Legacy format characters.
const (
	FCByte            byte = 0x01
	FCSmall           byte = 0x03
	FCShort           byte = 0x06
	FCUShort          byte = 0x07
	FCLong            byte = 0x08
	FCULong           byte = 0x09
	FCHyper           byte = 0x0b
	FCRP              byte = 0x11
	FCCWString        byte = 0x25
	FCBindPrimitive   byte = 0x32
	FCPad             byte = 0x5c
	FCSimplePointer   byte = 0x08 // pointer attribute, not a type code
	FCBindPrimitiveFl byte = 0x48 // handle flags: in, base type
)

// NDR64 format characters.
const (
	FC64UInt8           byte = 0x01
	FC64Int8            byte = 0x02
	FC64UInt16          byte = 0x03
	FC64Int16           byte = 0x04
	FC64UInt32          byte = 0x05
	FC64Int32           byte = 0x06
	FC64UInt64          byte = 0x07
	FC64Int64           byte = 0x08
	FC64ConfWCharString byte = 0x64
	FC64BindPrimitive   byte = 0x72
)

// ParamAttributes is the per-parameter attribute bitmask shared by both
// procedure stream variants.
type ParamAttributes uint16

const (
	MustSize    ParamAttributes = 0x0001
	MustFree    ParamAttributes = 0x0002
	IsPipe      ParamAttributes = 0x0004
	IsIn        ParamAttributes = 0x0008
	IsOut       ParamAttributes = 0x0010
	IsReturn    ParamAttributes = 0x0020
	IsBaseType  ParamAttributes = 0x0040
	IsByValue   ParamAttributes = 0x0080
	IsSimpleRef ParamAttributes = 0x0100
)

var attrNames = []struct {
	bit  ParamAttributes
	name string
}{
	{MustSize, "must_size"},
	{MustFree, "must_free"},
	{IsPipe, "pipe"},
	{IsIn, "in"},
	{IsOut, "out"},
	{IsReturn, "return"},
	{IsBaseType, "base"},
	{IsByValue, "by_value"},
	{IsSimpleRef, "simple_ref"},
}

func (a ParamAttributes) String() string {
	s := ""
	for _, n := range attrNames {
		if a&n.bit != 0 {
			if s != "" {
				s += ","
			}
			s += n.name
		}
	}
	return s
}

// Entry is the catalog record for one type.
type Entry struct {
	Type            idl.Type
	LegacyCode      byte
	NDR64Code       byte
	Attributes      ParamAttributes // input parameter, legacy stream
	NDR64Attributes ParamAttributes // input parameter, NDR64 stream
	Size            uint32          // bytes per value, or per element for text
	Align           uint32          // wire alignment
}

// Code returns the format code for syntax s.
func (e Entry) Code(s Syntax) byte {
	if s == SyntaxNDR64 {
		return e.NDR64Code
	}
	return e.LegacyCode
}

// InAttributes returns the input parameter attributes for syntax s.
func (e Entry) InAttributes(s Syntax) ParamAttributes {
	if s == SyntaxNDR64 {
		return e.NDR64Attributes
	}
	return e.Attributes
}

const (
	intInAttrs    = IsIn | IsBaseType
	intInAttrs64  = IsIn | IsBaseType | IsByValue
	textInAttrs   = MustSize | MustFree | IsIn | IsSimpleRef
	returnAttrs   = IsOut | IsReturn | IsBaseType
	returnAttrs64 = IsOut | IsReturn | IsBaseType | IsByValue
)

// ReturnAttributes returns the attributes of an integer return slot.
func ReturnAttributes(s Syntax) ParamAttributes {
	if s == SyntaxNDR64 {
		return returnAttrs64
	}
	return returnAttrs
}

var catalog = map[idl.Type]Entry{
	idl.U8:  intEntry(idl.U8, FCByte, FC64UInt8),
	idl.I8:  intEntry(idl.I8, FCSmall, FC64Int8),
	idl.U16: intEntry(idl.U16, FCUShort, FC64UInt16),
	idl.I16: intEntry(idl.I16, FCShort, FC64Int16),
	idl.U32: intEntry(idl.U32, FCULong, FC64UInt32),
	idl.I32: intEntry(idl.I32, FCLong, FC64Int32),
	idl.U64: intEntry(idl.U64, FCHyper, FC64UInt64),
	idl.I64: intEntry(idl.I64, FCHyper, FC64Int64),
	idl.Text: {
		Type:            idl.Text,
		LegacyCode:      FCCWString,
		NDR64Code:       FC64ConfWCharString,
		Attributes:      textInAttrs,
		NDR64Attributes: textInAttrs,
		Size:            2,
		Align:           4,
	},
}

func intEntry(t idl.Type, legacy, ndr64 byte) Entry {
	w := uint32(t.Width())
	return Entry{
		Type:            t,
		LegacyCode:      legacy,
		NDR64Code:       ndr64,
		Attributes:      intInAttrs,
		NDR64Attributes: intInAttrs64,
		Size:            w,
		Align:           w,
	}
}

// Resolve returns the catalog entry for t.
func Resolve(t idl.Type) (Entry, error) {
	e, ok := catalog[t]
	if !ok {
		return Entry{}, errors.New(errors.PhaseCompile, errors.KindUnsupported).
			NdrType(t.String()).Detail("no format code for type").Build()
	}
	return e, nil
}

// ResolveParam resolves a parameter, naming it in any error.
func ResolveParam(ifc string, m *idl.Method, p idl.Parameter) (Entry, error) {
	if p.Direction != idl.In {
		return Entry{}, errors.New(errors.PhaseCompile, errors.KindUnsupported).
			Path(ifc, m.Name, p.Name).Detail("direction %s is not supported", p.Direction).Build()
	}
	e, err := Resolve(p.Type)
	if err != nil {
		err.(*errors.Error).Path = []string{ifc, m.Name, p.Name}
		return Entry{}, err
	}
	return e, nil
}

// Lookup maps a format code back to its catalog entry. FC_HYPER is
// shared by both 64-bit integers; the unsigned entry is returned.
func Lookup(s Syntax, code byte) (Entry, bool) {
	for _, t := range lookupOrder {
		e := catalog[t]
		if e.Code(s) == code {
			return e, true
		}
	}
	return Entry{}, false
}

var lookupOrder = []idl.Type{
	idl.U8, idl.I8, idl.U16, idl.I16, idl.U32, idl.I32, idl.U64, idl.I64, idl.Text,
}

// CodeName returns the mnemonic of a format code.
func CodeName(s Syntax, code byte) string {
	if s == SyntaxNDR64 {
		switch code {
		case FC64UInt8:
			return "FC64_UINT8"
		case FC64Int8:
			return "FC64_INT8"
		case FC64UInt16:
			return "FC64_UINT16"
		case FC64Int16:
			return "FC64_INT16"
		case FC64UInt32:
			return "FC64_UINT32"
		case FC64Int32:
			return "FC64_INT32"
		case FC64UInt64:
			return "FC64_UINT64"
		case FC64Int64:
			return "FC64_INT64"
		case FC64ConfWCharString:
			return "FC64_CONF_WCHAR_STRING"
		}
		return fmt.Sprintf("FC64_0x%02x", code)
	}
	switch code {
	case FCByte:
		return "FC_BYTE"
	case FCSmall:
		return "FC_SMALL"
	case FCShort:
		return "FC_SHORT"
	case FCUShort:
		return "FC_USHORT"
	case FCLong:
		return "FC_LONG"
	case FCULong:
		return "FC_ULONG"
	case FCHyper:
		return "FC_HYPER"
	case FCCWString:
		return "FC_C_WSTRING"
	}
	return fmt.Sprintf("FC_0x%02x", code)
}
