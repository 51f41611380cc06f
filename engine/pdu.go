package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/wippyai/ndr-runtime/errors"
	"github.com/wippyai/ndr-runtime/idl"
	"github.com/wippyai/ndr-runtime/internal/binary"
	"github.com/wippyai/ndr-runtime/metadata"
	"github.com/wippyai/ndr-runtime/ndr"
)

// PDUType identifies a protocol data unit.
type PDUType uint8

const (
	PDURequest  PDUType = 0
	PDUResponse PDUType = 2
	PDUFault    PDUType = 3
	PDUBind     PDUType = 11
	PDUBindAck  PDUType = 12
	PDUBindNak  PDUType = 13
)

func (t PDUType) String() string {
	switch t {
	case PDURequest:
		return "request"
	case PDUResponse:
		return "response"
	case PDUFault:
		return "fault"
	case PDUBind:
		return "bind"
	case PDUBindAck:
		return "bind_ack"
	case PDUBindNak:
		return "bind_nak"
	}
	return fmt.Sprintf("pdu(%d)", uint8(t))
}

const (
	pduVersion      = 5
	pduVersionMinor = 0
	pduFlags        = 0x03 // first and last fragment
	maxOffers       = 8
)

// PDU is one protocol message. Which fields are meaningful depends on
// Type:
//
//	bind      Interface, Offers
//	bind_ack  Interface, Syntax
//	bind_nak  Status
//	request   Interface, Syntax, Ordinal, Stub
//	response  Stub
//	fault     Status
type PDU struct {
	Type      PDUType
	CallID    uuid.UUID
	Interface metadata.SyntaxID
	Offers    []metadata.SyntaxID
	Syntax    ndr.Syntax
	Ordinal   uint16
	Status    Status
	Stub      []byte
}

// Encode serializes the PDU. The header carries the total length so
// truncated messages are detected on decode.
func (p *PDU) Encode() []byte {
	w := binary.NewWriter()
	w.Byte(pduVersion)
	w.Byte(pduVersionMinor)
	w.Byte(byte(p.Type))
	w.Byte(pduFlags)
	w.U32(0) // length, patched below
	w.WriteBytes(p.CallID[:])

	switch p.Type {
	case PDUBind:
		writeSyntaxID(w, p.Interface)
		w.Byte(byte(len(p.Offers)))
		for _, o := range p.Offers {
			writeSyntaxID(w, o)
		}
	case PDUBindAck:
		writeSyntaxID(w, p.Interface)
		writeSyntaxID(w, metadata.TransferSyntax(p.Syntax))
	case PDUBindNak, PDUFault:
		w.U32(p.Status)
	case PDURequest:
		writeSyntaxID(w, p.Interface)
		w.Byte(byte(p.Syntax))
		w.Byte(0)
		w.U16(p.Ordinal)
		w.U32(uint32(len(p.Stub)))
		w.WriteBytes(p.Stub)
	case PDUResponse:
		w.U32(uint32(len(p.Stub)))
		w.WriteBytes(p.Stub)
	}
	w.PatchU32(4, uint32(w.Len()))
	return w.Bytes()
}

func writeSyntaxID(w *binary.Writer, id metadata.SyntaxID) {
	w.WriteBytes(id.ID[:])
	w.U32(id.Version.Packed())
}

// DecodePDU parses a message produced by Encode.
func DecodePDU(data []byte) (*PDU, error) {
	r := binary.NewReader(data)
	hdr, err := r.ReadBytes(8)
	if err != nil {
		return nil, badPDU("short header", err)
	}
	if hdr[0] != pduVersion || hdr[1] != pduVersionMinor {
		return nil, badPDU(fmt.Sprintf("version %d.%d", hdr[0], hdr[1]), nil)
	}
	p := &PDU{Type: PDUType(hdr[2])}
	if n := uint32(hdr[4]) | uint32(hdr[5])<<8 | uint32(hdr[6])<<16 | uint32(hdr[7])<<24; n != uint32(len(data)) {
		return nil, badPDU(fmt.Sprintf("length %d, have %d bytes", n, len(data)), nil)
	}
	id, err := r.ReadBytes(16)
	if err != nil {
		return nil, badPDU("short call id", err)
	}
	copy(p.CallID[:], id)

	switch p.Type {
	case PDUBind:
		if p.Interface, err = readSyntaxID(r); err != nil {
			return nil, badPDU("bind interface", err)
		}
		n, err := r.ReadByte()
		if err != nil {
			return nil, badPDU("bind offers", err)
		}
		if n == 0 || n > maxOffers {
			return nil, badPDU(fmt.Sprintf("%d transfer syntax offers", n), nil)
		}
		p.Offers = make([]metadata.SyntaxID, n)
		for i := range p.Offers {
			if p.Offers[i], err = readSyntaxID(r); err != nil {
				return nil, badPDU("bind offers", err)
			}
		}
	case PDUBindAck:
		if p.Interface, err = readSyntaxID(r); err != nil {
			return nil, badPDU("bind_ack interface", err)
		}
		ts, err := readSyntaxID(r)
		if err != nil {
			return nil, badPDU("bind_ack syntax", err)
		}
		s, ok := metadata.SyntaxOf(ts)
		if !ok {
			return nil, badPDU("bind_ack names an unknown transfer syntax", nil)
		}
		p.Syntax = s
	case PDUBindNak, PDUFault:
		if p.Status, err = r.U32(); err != nil {
			return nil, badPDU("status", err)
		}
	case PDURequest:
		if p.Interface, err = readSyntaxID(r); err != nil {
			return nil, badPDU("request interface", err)
		}
		s, err := r.ReadByte()
		if err != nil {
			return nil, badPDU("request syntax", err)
		}
		if int(s) >= len(ndr.Syntaxes) {
			return nil, badPDU(fmt.Sprintf("request syntax %d", s), nil)
		}
		p.Syntax = ndr.Syntax(s)
		if _, err := r.ReadByte(); err != nil {
			return nil, badPDU("request", err)
		}
		if p.Ordinal, err = r.U16(); err != nil {
			return nil, badPDU("request ordinal", err)
		}
		if p.Stub, err = readStub(r); err != nil {
			return nil, err
		}
	case PDUResponse:
		if p.Stub, err = readStub(r); err != nil {
			return nil, err
		}
	default:
		return nil, badPDU(fmt.Sprintf("unknown type %d", hdr[2]), nil)
	}
	if r.Remaining() != 0 {
		return nil, badPDU(fmt.Sprintf("%d trailing bytes", r.Remaining()), nil)
	}
	return p, nil
}

func readSyntaxID(r *binary.Reader) (metadata.SyntaxID, error) {
	var id metadata.SyntaxID
	b, err := r.ReadBytes(16)
	if err != nil {
		return id, err
	}
	copy(id.ID[:], b)
	v, err := r.U32()
	if err != nil {
		return id, err
	}
	id.Version = idl.UnpackVersion(v)
	return id, nil
}

func readStub(r *binary.Reader) ([]byte, error) {
	n, err := r.U32()
	if err != nil {
		return nil, badPDU("stub length", err)
	}
	if int64(n) > int64(r.Remaining()) {
		return nil, badPDU(fmt.Sprintf("stub length %d, have %d bytes", n, r.Remaining()), nil)
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return nil, badPDU("stub data", err)
	}
	return append([]byte(nil), b...), nil
}

func badPDU(detail string, cause error) error {
	return errors.New(errors.PhaseBind, errors.KindInvalidData).
		Status(StatusProtocolError).Detail("malformed PDU: %s", detail).Cause(cause).Build()
}

func faultPDU(callID uuid.UUID, code Status) []byte {
	return (&PDU{Type: PDUFault, CallID: callID, Status: code}).Encode()
}
