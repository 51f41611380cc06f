package ndr

import (
	"fmt"
	"math"
	"reflect"

	ndrruntime "github.com/wippyai/ndr-runtime"
	"github.com/wippyai/ndr-runtime/errors"
	"github.com/wippyai/ndr-runtime/idl"
)

// maxTextUnits bounds the scan for a wide string terminator.
const maxTextUnits = 1 << 20

// Frame is a procedure call stack in native memory. Values sit at the
// stack offsets of a Layout or Proc for the frame's syntax; text slots hold
// pointers to NUL-terminated UTF-16 buffers allocated from the frame's
// allocator and released with the frame.
type Frame struct {
	Mem    ndrruntime.Memory
	Alloc  ndrruntime.Allocator
	Addr   uint32
	Size   uint32
	Syntax Syntax

	owned []uint32
}

// NewFrame allocates a zeroed frame of size bytes.
func NewFrame(mem ndrruntime.Memory, alloc ndrruntime.Allocator, s Syntax, size uint32) (*Frame, error) {
	n := max(size, 1)
	addr, err := alloc.Alloc(n)
	if err != nil {
		return nil, err
	}
	if err := mem.Write(addr, make([]byte, n)); err != nil {
		_ = alloc.Free(addr)
		return nil, err
	}
	return &Frame{Mem: mem, Alloc: alloc, Addr: addr, Size: size, Syntax: s}, nil
}

// Release frees every buffer owned by the frame and then the frame.
func (f *Frame) Release() error {
	var first error
	for _, p := range f.owned {
		if err := f.Alloc.Free(p); err != nil && first == nil {
			first = err
		}
	}
	f.owned = nil
	if f.Addr != 0 {
		if err := f.Alloc.Free(f.Addr); err != nil && first == nil {
			first = err
		}
		f.Addr = 0
	}
	return first
}

// Own transfers ownership of an allocation to the frame.
func (f *Frame) Own(ptr uint32) {
	f.owned = append(f.owned, ptr)
}

func (f *Frame) check(off, width uint32) error {
	if off+width > f.Size {
		return errors.OutOfBounds(errors.PhaseMarshal, []string{"frame"}, int(off), int(f.Size))
	}
	return nil
}

// PutRaw stores the low width bytes of v at stack offset off.
func (f *Frame) PutRaw(off uint32, width int, v uint64) error {
	if err := f.check(off, uint32(width)); err != nil {
		return err
	}
	a := f.Addr + off
	switch width {
	case 1:
		return f.Mem.WriteU8(a, uint8(v))
	case 2:
		return f.Mem.WriteU16(a, uint16(v))
	case 4:
		return f.Mem.WriteU32(a, uint32(v))
	case 8:
		return f.Mem.WriteU64(a, v)
	}
	return fmt.Errorf("frame: unsupported width %d", width)
}

// Raw loads width bytes at stack offset off, zero extended.
func (f *Frame) Raw(off uint32, width int) (uint64, error) {
	if err := f.check(off, uint32(width)); err != nil {
		return 0, err
	}
	a := f.Addr + off
	switch width {
	case 1:
		v, err := f.Mem.ReadU8(a)
		return uint64(v), err
	case 2:
		v, err := f.Mem.ReadU16(a)
		return uint64(v), err
	case 4:
		v, err := f.Mem.ReadU32(a)
		return uint64(v), err
	case 8:
		return f.Mem.ReadU64(a)
	}
	return 0, fmt.Errorf("frame: unsupported width %d", width)
}

// PutPointer stores a pointer at off using the syntax pointer width.
func (f *Frame) PutPointer(off, ptr uint32) error {
	return f.PutRaw(off, int(f.Syntax.PointerSize()), uint64(ptr))
}

// Pointer loads a pointer stored at off.
func (f *Frame) Pointer(off uint32) (uint32, error) {
	v, err := f.Raw(off, int(f.Syntax.PointerSize()))
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, errors.InvalidData(errors.PhaseUnmarshal, []string{"frame"}, "pointer outside native memory")
	}
	return uint32(v), nil
}

// SetHandle stores the binding handle in the handle slot at offset 0.
func (f *Frame) SetHandle(h uint32) error {
	return f.PutPointer(0, h)
}

// Handle loads the binding handle.
func (f *Frame) Handle() (uint32, error) {
	return f.Pointer(0)
}

// PutWideString copies encoded UTF-16 units into a new owned buffer and
// returns its address.
func (f *Frame) PutWideString(encoded []byte) (uint32, error) {
	ptr, err := f.Alloc.Alloc(uint32(len(encoded)))
	if err != nil {
		return 0, err
	}
	if err := f.Mem.Write(ptr, encoded); err != nil {
		_ = f.Alloc.Free(ptr)
		return 0, err
	}
	f.Own(ptr)
	return ptr, nil
}

// WideString reads NUL-terminated UTF-16 units at ptr, terminator
// included.
func (f *Frame) WideString(ptr uint32) ([]byte, error) {
	if ptr == 0 {
		return nil, errors.NilPointer(errors.PhaseMarshal, []string{"frame"}, "text")
	}
	for n := uint32(0); n < maxTextUnits; n++ {
		u, err := f.Mem.ReadU16(ptr + 2*n)
		if err != nil {
			return nil, err
		}
		if u == 0 {
			b, err := f.Mem.Read(ptr, 2*(n+1))
			if err != nil {
				return nil, err
			}
			return append([]byte(nil), b...), nil
		}
	}
	return nil, errors.InvalidData(errors.PhaseMarshal, []string{"frame"}, "unterminated wide string")
}

// Store converts a Go value to its stack representation in slot. Integer
// values of any Go integer kind are accepted when they fit; text takes a
// string.
func (f *Frame) Store(slot Slot, v any) error {
	if slot.Type.Kind() == idl.KindText {
		s, ok := v.(string)
		if !ok {
			return errors.TypeMismatch(errors.PhaseMarshal, []string{slot.Name}, fmt.Sprintf("%T", v), "text")
		}
		enc, err := EncodeText(s)
		if err != nil {
			if e, ok := err.(*errors.Error); ok && len(e.Path) == 0 {
				e.Path = []string{slot.Name}
			}
			return err
		}
		ptr, err := f.PutWideString(enc)
		if err != nil {
			return err
		}
		return f.PutPointer(slot.Offset, ptr)
	}
	raw, err := IntToRaw(slot.Type, v, slot.Name)
	if err != nil {
		return err
	}
	return f.PutRaw(slot.Offset, slot.Type.Width(), raw)
}

// Load converts the stack value in slot to its natural Go type.
func (f *Frame) Load(slot Slot) (any, error) {
	if slot.Type.Kind() == idl.KindText {
		ptr, err := f.Pointer(slot.Offset)
		if err != nil {
			return nil, err
		}
		units, err := f.WideString(ptr)
		if err != nil {
			return nil, err
		}
		return DecodeText(units)
	}
	raw, err := f.Raw(slot.Offset, slot.Type.Width())
	if err != nil {
		return nil, err
	}
	return RawToInt(slot.Type, raw), nil
}

// IntToRaw range-checks an integer value against t and returns its two's
// complement bits.
func IntToRaw(t idl.Type, v any, name string) (uint64, error) {
	rv := reflect.ValueOf(v)
	bits := uint(t.Width() * 8)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i := rv.Int()
		if t.Signed() {
			lo, hi := -int64(1)<<(bits-1), int64(1)<<(bits-1)-1
			if i < lo || i > hi {
				return 0, errors.Overflow(errors.PhaseMarshal, []string{name}, v, t.String())
			}
		} else if i < 0 || (bits < 64 && uint64(i) >= uint64(1)<<bits) {
			return 0, errors.Overflow(errors.PhaseMarshal, []string{name}, v, t.String())
		}
		return uint64(i), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		limit := uint64(math.MaxUint64)
		if t.Signed() {
			limit = uint64(1)<<(bits-1) - 1
		} else if bits < 64 {
			limit = uint64(1)<<bits - 1
		}
		if u > limit {
			return 0, errors.Overflow(errors.PhaseMarshal, []string{name}, v, t.String())
		}
		return u, nil
	}
	return 0, errors.TypeMismatch(errors.PhaseMarshal, []string{name}, fmt.Sprintf("%T", v), t.String())
}

// RawToInt converts raw stack bits to the Go integer type of t.
func RawToInt(t idl.Type, raw uint64) any {
	switch t {
	case idl.U8:
		return uint8(raw)
	case idl.U16:
		return uint16(raw)
	case idl.U32:
		return uint32(raw)
	case idl.U64:
		return raw
	case idl.I8:
		return int8(uint8(raw))
	case idl.I16:
		return int16(uint16(raw))
	case idl.I32:
		return int32(uint32(raw))
	case idl.I64:
		return int64(raw)
	}
	return nil
}
