package transcoder

import (
	"fmt"

	"github.com/wippyai/ndr-runtime/errors"
	"github.com/wippyai/ndr-runtime/internal/binary"
	"github.com/wippyai/ndr-runtime/ndr"
)

// MaxTextUnits bounds the conformance of a wire string, terminator
// included.
const MaxTextUnits = 1 << 20

// MarshalRequest encodes the input parameters of p held in f.
func MarshalRequest(p *ndr.Proc, f *ndr.Frame) ([]byte, error) {
	if err := sameSyntax(p, f, errors.PhaseMarshal); err != nil {
		return nil, err
	}
	w := getWriter()
	for i, pp := range p.Inputs() {
		if err := encodeParam(w, p.Syntax, pp, f); err != nil {
			putWriter(w)
			return nil, wrapParam(errors.PhaseMarshal, p, i, err)
		}
	}
	return detach(w), nil
}

// UnmarshalRequest decodes stub data into the input slots of f. Text is
// copied into buffers owned by f.
func UnmarshalRequest(p *ndr.Proc, data []byte, f *ndr.Frame) error {
	if err := sameSyntax(p, f, errors.PhaseUnmarshal); err != nil {
		return err
	}
	r := binary.NewReader(data)
	for i, pp := range p.Inputs() {
		if err := decodeParam(r, p.Syntax, pp, f); err != nil {
			return wrapParam(errors.PhaseUnmarshal, p, i, err)
		}
	}
	return trailing(r, p)
}

// MarshalResponse encodes the return slot of f. Procedures without a
// return value produce empty stub data.
func MarshalResponse(p *ndr.Proc, f *ndr.Frame) ([]byte, error) {
	if err := sameSyntax(p, f, errors.PhaseMarshal); err != nil {
		return nil, err
	}
	ret, ok := p.Return()
	if !ok {
		return nil, nil
	}
	w := getWriter()
	if err := encodeParam(w, p.Syntax, ret, f); err != nil {
		putWriter(w)
		return nil, wrapParam(errors.PhaseMarshal, p, -1, err)
	}
	return detach(w), nil
}

// UnmarshalResponse decodes a response into the return slot of f.
func UnmarshalResponse(p *ndr.Proc, data []byte, f *ndr.Frame) error {
	if err := sameSyntax(p, f, errors.PhaseUnmarshal); err != nil {
		return err
	}
	r := binary.NewReader(data)
	if ret, ok := p.Return(); ok {
		if err := decodeParam(r, p.Syntax, ret, f); err != nil {
			return wrapParam(errors.PhaseUnmarshal, p, -1, err)
		}
	}
	return trailing(r, p)
}

func sameSyntax(p *ndr.Proc, f *ndr.Frame, phase errors.Phase) error {
	if p.Syntax != f.Syntax {
		return errors.New(phase, errors.KindTypeMismatch).
			Detail("frame is %s, procedure is %s", f.Syntax, p.Syntax).Build()
	}
	if f.Size < p.StackSize {
		return errors.OutOfBounds(phase, []string{"frame"}, int(p.StackSize), int(f.Size))
	}
	return nil
}

func wrapParam(phase errors.Phase, p *ndr.Proc, i int, err error) error {
	name := "return"
	if i >= 0 {
		name = fmt.Sprintf("param%d", i)
	}
	path := []string{p.Syntax.String(), fmt.Sprintf("proc%d", p.Ordinal), name}
	if e, ok := err.(*errors.Error); ok && e.Phase == phase {
		if len(e.Path) == 0 {
			e.Path = path
		}
		return e
	}
	return errors.New(phase, errors.KindInvalidData).Path(path...).Cause(err).Build()
}

func trailing(r *binary.Reader, p *ndr.Proc) error {
	if n := r.Remaining(); n != 0 {
		return errors.New(errors.PhaseUnmarshal, errors.KindInvalidData).
			Path(p.Syntax.String(), fmt.Sprintf("proc%d", p.Ordinal)).
			Detail("%d trailing bytes", n).Build()
	}
	return nil
}

func countWidth(s ndr.Syntax) int {
	if s == ndr.SyntaxNDR64 {
		return 8
	}
	return 4
}

func encodeParam(w *binary.Writer, s ndr.Syntax, pp ndr.ProcParam, f *ndr.Frame) error {
	if pp.Text() {
		ptr, err := f.Pointer(pp.StackOffset)
		if err != nil {
			return err
		}
		units, err := f.WideString(ptr)
		if err != nil {
			return err
		}
		n := uint64(len(units) / 2)
		if n > MaxTextUnits {
			return errors.Overflow(errors.PhaseMarshal, nil, n, "wide string")
		}
		cw := countWidth(s)
		w.Align(cw)
		for _, v := range [3]uint64{n, 0, n} {
			if cw == 8 {
				w.U64(v)
			} else {
				w.U32(uint32(v))
			}
		}
		w.WriteBytes(units)
		return nil
	}

	width := pp.Entry.Type.Width()
	raw, err := f.Raw(pp.StackOffset, width)
	if err != nil {
		return err
	}
	w.Align(width)
	switch width {
	case 1:
		w.Byte(byte(raw))
	case 2:
		w.U16(uint16(raw))
	case 4:
		w.U32(uint32(raw))
	default:
		w.U64(raw)
	}
	return nil
}

func decodeParam(r *binary.Reader, s ndr.Syntax, pp ndr.ProcParam, f *ndr.Frame) error {
	if pp.Text() {
		units, err := decodeText(r, s)
		if err != nil {
			return err
		}
		ptr, err := f.PutWideString(units)
		if err != nil {
			return err
		}
		return f.PutPointer(pp.StackOffset, ptr)
	}

	width := pp.Entry.Type.Width()
	if err := r.Align(width); err != nil {
		return err
	}
	var (
		raw uint64
		err error
	)
	switch width {
	case 1:
		var b byte
		b, err = r.ReadByte()
		raw = uint64(b)
	case 2:
		var v uint16
		v, err = r.U16()
		raw = uint64(v)
	case 4:
		var v uint32
		v, err = r.U32()
		raw = uint64(v)
	default:
		raw, err = r.U64()
	}
	if err != nil {
		return err
	}
	return f.PutRaw(pp.StackOffset, width, raw)
}

func decodeText(r *binary.Reader, s ndr.Syntax) ([]byte, error) {
	cw := countWidth(s)
	if err := r.Align(cw); err != nil {
		return nil, err
	}
	var counts [3]uint64
	for i := range counts {
		if cw == 8 {
			v, err := r.U64()
			if err != nil {
				return nil, err
			}
			counts[i] = v
		} else {
			v, err := r.U32()
			if err != nil {
				return nil, err
			}
			counts[i] = uint64(v)
		}
	}
	maxCount, offset, actual := counts[0], counts[1], counts[2]
	switch {
	case offset != 0:
		return nil, errors.InvalidData(errors.PhaseUnmarshal, nil, fmt.Sprintf("string offset %d", offset))
	case actual == 0 || actual != maxCount:
		return nil, errors.InvalidData(errors.PhaseUnmarshal, nil,
			fmt.Sprintf("string counts max=%d actual=%d", maxCount, actual))
	case actual > MaxTextUnits:
		return nil, errors.Overflow(errors.PhaseUnmarshal, nil, actual, "wide string")
	}
	units, err := r.ReadBytes(int(2 * actual))
	if err != nil {
		return nil, err
	}
	if units[len(units)-2] != 0 || units[len(units)-1] != 0 {
		return nil, errors.InvalidData(errors.PhaseUnmarshal, nil, "string is not NUL terminated")
	}
	for i := 0; i+2 < len(units); i += 2 {
		if units[i] == 0 && units[i+1] == 0 {
			return nil, errors.InvalidData(errors.PhaseUnmarshal, nil, "embedded NUL in string")
		}
	}
	return units, nil
}
