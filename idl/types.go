package idl

import (
	"fmt"
	"reflect"
)

// Kind tags the variant held by a Type.
type Kind uint8

const (
	KindVoid Kind = iota
	KindInt
	KindText
)

// Type is a parameter or return type. The zero value is Void.
type Type struct {
	kind   Kind
	width  uint8
	signed bool
}

// Supported types.
var (
	Void = Type{}
	U8   = Type{kind: KindInt, width: 1}
	U16  = Type{kind: KindInt, width: 2}
	U32  = Type{kind: KindInt, width: 4}
	U64  = Type{kind: KindInt, width: 8}
	I8   = Type{kind: KindInt, width: 1, signed: true}
	I16  = Type{kind: KindInt, width: 2, signed: true}
	I32  = Type{kind: KindInt, width: 4, signed: true}
	I64  = Type{kind: KindInt, width: 8, signed: true}
	Text = Type{kind: KindText}
)

// Int returns a fixed-width integer type. Widths other than 1, 2, 4 and 8
// produce a type that fails validation.
func Int(width int, signed bool) Type {
	return Type{kind: KindInt, width: uint8(width), signed: signed}
}

// Kind returns the variant tag.
func (t Type) Kind() Kind { return t.kind }

// Width returns the integer width in bytes, zero for non-integers.
func (t Type) Width() int { return int(t.width) }

// Signed reports whether an integer type is signed.
func (t Type) Signed() bool { return t.signed }

// IsVoid reports whether t is the absent type.
func (t Type) IsVoid() bool { return t.kind == KindVoid }

// Valid reports whether t belongs to the supported vocabulary.
func (t Type) Valid() bool {
	switch t.kind {
	case KindVoid, KindText:
		return t.width == 0 && !t.signed
	case KindInt:
		switch t.width {
		case 1, 2, 4, 8:
			return true
		}
	}
	return false
}

func (t Type) String() string {
	switch t.kind {
	case KindVoid:
		return "void"
	case KindText:
		return "text"
	case KindInt:
		prefix := "u"
		if t.signed {
			prefix = "i"
		}
		return fmt.Sprintf("%s%d", prefix, int(t.width)*8)
	}
	return fmt.Sprintf("invalid(%d)", t.kind)
}

// ParseType parses the String form of a type.
func ParseType(s string) (Type, error) {
	switch s {
	case "void", "":
		return Void, nil
	case "text", "string":
		return Text, nil
	case "u8":
		return U8, nil
	case "u16":
		return U16, nil
	case "u32":
		return U32, nil
	case "u64":
		return U64, nil
	case "i8", "s8":
		return I8, nil
	case "i16", "s16":
		return I16, nil
	case "i32", "s32":
		return I32, nil
	case "i64", "s64":
		return I64, nil
	}
	return Void, fmt.Errorf("unknown type %q", s)
}

var goTypes = map[Type]reflect.Type{
	U8:   reflect.TypeFor[uint8](),
	U16:  reflect.TypeFor[uint16](),
	U32:  reflect.TypeFor[uint32](),
	U64:  reflect.TypeFor[uint64](),
	I8:   reflect.TypeFor[int8](),
	I16:  reflect.TypeFor[int16](),
	I32:  reflect.TypeFor[int32](),
	I64:  reflect.TypeFor[int64](),
	Text: reflect.TypeFor[string](),
}

// GoType returns the natural Go representation of t, or nil for Void and
// unsupported types.
func (t Type) GoType() reflect.Type {
	return goTypes[t]
}

// Direction is the data flow of a parameter.
type Direction uint8

const (
	In Direction = iota
	Out
	InOut
)

func (d Direction) String() string {
	switch d {
	case In:
		return "in"
	case Out:
		return "out"
	case InOut:
		return "in,out"
	}
	return fmt.Sprintf("direction(%d)", d)
}
