package metadata

import (
	"context"

	"github.com/google/uuid"

	"github.com/wippyai/ndr-runtime/idl"
	"github.com/wippyai/ndr-runtime/ndr"
)

// WorkerID identifies an engine worker. Workers of one endpoint are
// numbered from zero.
type WorkerID uint16

// Routine is the fixed dispatch signature the engine calls for every
// procedure. It receives no per-method state beyond what it captured at
// generation time; the implementation is found through the worker.
type Routine func(ctx context.Context, worker WorkerID, frame *ndr.Frame)

// SyntaxID is an interface or transfer syntax identifier with version.
type SyntaxID struct {
	ID      uuid.UUID
	Version idl.Version
}

// Transfer syntaxes.
var (
	NDR20 = SyntaxID{ID: uuid.MustParse("8a885d04-1ceb-11c9-9fe8-08002b104860"), Version: idl.Version{Major: 2}}
	NDR64 = SyntaxID{ID: uuid.MustParse("71710533-beba-4937-8319-b5dbef9ccc36"), Version: idl.Version{Major: 1}}
)

// TransferSyntax returns the identifier of s.
func TransferSyntax(s ndr.Syntax) SyntaxID {
	if s == ndr.SyntaxNDR64 {
		return NDR64
	}
	return NDR20
}

// SyntaxOf maps a transfer syntax identifier back to its encoding.
func SyntaxOf(id SyntaxID) (ndr.Syntax, bool) {
	switch id {
	case NDR20:
		return ndr.SyntaxNDR, true
	case NDR64:
		return ndr.SyntaxNDR64, true
	}
	return 0, false
}

// Fixed header values expected by the engine.
const (
	InterfaceLength uint32 = 0x60
	InterfaceFlags  uint32 = 0x02000000
	StubDescVersion uint32 = 0x00060001
	MIDLVersion     uint32 = 0x08010274
	MIDLFlags       uint32 = 0x02000001
)

// InterfaceInfo is the interface record a StubDesc points back to.
type InterfaceInfo interface {
	interfaceInfo()
}

// InterpreterInfo is the proxy or server info a StubDesc points to.
type InterpreterInfo interface {
	interpreterInfo()
}

// StubDesc is the stub descriptor shared by all procedures.
type StubDesc struct {
	InterfaceInfo   InterfaceInfo
	CheckBounds     int32
	Version         uint32
	MIDLVersion     uint32
	MFlags          uint32
	TypeFormat      []byte
	ProxyServerInfo InterpreterInfo
}

// SyntaxInfo describes one transfer syntax's streams.
type SyntaxInfo struct {
	TransferSyntax  SyntaxID
	DispatchTable   *DispatchTable // server bundles only
	ProcString      []byte
	FmtStringOffset []uint32
	TypeString      []byte
}

// DispatchTable routes ordinals to routines for one syntax.
type DispatchTable struct {
	Syntax   ndr.Syntax
	Count    uint32
	Routines []Routine
}

// ProxyInfo is the client interpreter info.
type ProxyInfo struct {
	StubDesc      *StubDesc
	ProcString    []byte
	FormatOffsets []uint16
	SyntaxInfo    []SyntaxInfo
}

func (*ProxyInfo) interpreterInfo() {}

// ServerInfo is the server interpreter info. Routines is the routine table
// indexed by ordinal.
type ServerInfo struct {
	StubDesc      *StubDesc
	Routines      []Routine
	ProcString    []byte
	FormatOffsets []uint16
	SyntaxInfo    []SyntaxInfo
}

func (*ServerInfo) interpreterInfo() {}

// ClientInterface is the client interface record.
type ClientInterface struct {
	Length          uint32
	InterfaceID     SyntaxID
	TransferSyntax  SyntaxID
	InterpreterInfo *ProxyInfo
	Flags           uint32
}

func (*ClientInterface) interfaceInfo() {}

// ServerInterface is the server interface record.
type ServerInterface struct {
	Length          uint32
	InterfaceID     SyntaxID
	TransferSyntax  SyntaxID
	DispatchTable   *DispatchTable
	InterpreterInfo *ServerInfo
	Flags           uint32
}

func (*ServerInterface) interfaceInfo() {}

func syntaxInfo(c *ndr.Compiled, s ndr.Syntax) SyntaxInfo {
	si := SyntaxInfo{
		TransferSyntax: TransferSyntax(s),
		ProcString:     c.Formats.Proc(s),
		TypeString:     c.Formats.Type(s),
	}
	if s == ndr.SyntaxNDR64 {
		si.FmtStringOffset = append([]uint32(nil), c.Formats.NDR64Offsets...)
	} else {
		si.FmtStringOffset = make([]uint32, len(c.Formats.LegacyOffsets))
		for i, off := range c.Formats.LegacyOffsets {
			si.FmtStringOffset[i] = uint32(off)
		}
	}
	return si
}
