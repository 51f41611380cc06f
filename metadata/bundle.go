package metadata

import (
	"fmt"

	"github.com/wippyai/ndr-runtime/errors"
	"github.com/wippyai/ndr-runtime/idl"
	"github.com/wippyai/ndr-runtime/ndr"
)

// ClientBundle is the structure graph a client call reads. All records live
// inside the bundle, so their addresses are fixed once it is allocated.
// A bundle has no writer after assembly and may be shared freely.
type ClientBundle struct {
	Compiled  *ndr.Compiled
	Interface ClientInterface
	StubDesc  StubDesc
	ProxyInfo ProxyInfo
	Syntax    [2]SyntaxInfo

	procs  [2][]*ndr.Proc
	sealed bool
}

// ServerBundle is the structure graph the engine dispatches through.
type ServerBundle struct {
	Compiled   *ndr.Compiled
	Interface  ServerInterface
	StubDesc   StubDesc
	ServerInfo ServerInfo
	Syntax     [2]SyntaxInfo
	Dispatch   [2]DispatchTable
	Routines   []Routine

	procs  [2][]*ndr.Proc
	sealed bool
}

// AssembleClient builds the client bundle for c.
func AssembleClient(c *ndr.Compiled) (*ClientBundle, error) {
	procs, err := decodeAll(c)
	if err != nil {
		return nil, err
	}

	// phase 1: every record gets its final address and its acyclic fields
	b := &ClientBundle{Compiled: c, procs: procs}
	b.Interface = ClientInterface{
		Length:         InterfaceLength,
		InterfaceID:    interfaceID(c.Interface),
		TransferSyntax: NDR20,
		Flags:          InterfaceFlags,
	}
	b.StubDesc = stubDesc(c)
	for _, s := range ndr.Syntaxes {
		b.Syntax[s] = syntaxInfo(c, s)
	}
	b.ProxyInfo = ProxyInfo{
		ProcString:    c.Formats.LegacyProc,
		FormatOffsets: c.Formats.LegacyOffsets,
	}

	// phase 2: patch the cycles
	b.StubDesc.InterfaceInfo = &b.Interface
	b.Interface.InterpreterInfo = &b.ProxyInfo
	b.ProxyInfo.StubDesc = &b.StubDesc
	b.StubDesc.ProxyServerInfo = &b.ProxyInfo
	b.ProxyInfo.SyntaxInfo = b.Syntax[:]

	b.sealed = true
	if err := b.Verify(); err != nil {
		return nil, err
	}
	return b, nil
}

// AssembleServer builds the server bundle for c. routines must hold one
// routine per method in ordinal order.
func AssembleServer(c *ndr.Compiled, routines []Routine) (*ServerBundle, error) {
	if len(routines) != c.MethodCount() {
		return nil, errors.New(errors.PhaseAssemble, errors.KindInvalidInput).
			Path(c.Interface.Name).Detail("%d routines for %d methods", len(routines), c.MethodCount()).Build()
	}
	for i, r := range routines {
		if r == nil {
			return nil, errors.New(errors.PhaseAssemble, errors.KindInvalidInput).
				Path(c.Interface.Name, c.Interface.Methods[i].Name).Detail("nil routine").Build()
		}
	}
	procs, err := decodeAll(c)
	if err != nil {
		return nil, err
	}

	// phase 1
	b := &ServerBundle{Compiled: c, procs: procs}
	b.Routines = append([]Routine(nil), routines...)
	b.Interface = ServerInterface{
		Length:         InterfaceLength,
		InterfaceID:    interfaceID(c.Interface),
		TransferSyntax: NDR20,
		Flags:          InterfaceFlags,
	}
	b.StubDesc = stubDesc(c)
	for _, s := range ndr.Syntaxes {
		b.Syntax[s] = syntaxInfo(c, s)
		b.Dispatch[s] = DispatchTable{
			Syntax:   s,
			Count:    uint32(len(b.Routines)),
			Routines: b.Routines,
		}
	}
	b.ServerInfo = ServerInfo{
		Routines:      b.Routines,
		ProcString:    c.Formats.LegacyProc,
		FormatOffsets: c.Formats.LegacyOffsets,
	}

	// phase 2
	b.StubDesc.InterfaceInfo = &b.Interface
	b.Interface.InterpreterInfo = &b.ServerInfo
	b.ServerInfo.StubDesc = &b.StubDesc
	b.StubDesc.ProxyServerInfo = &b.ServerInfo
	b.ServerInfo.SyntaxInfo = b.Syntax[:]
	b.Interface.DispatchTable = &b.Dispatch[ndr.SyntaxNDR]
	for _, s := range ndr.Syntaxes {
		b.Syntax[s].DispatchTable = &b.Dispatch[s]
	}

	b.sealed = true
	if err := b.Verify(); err != nil {
		return nil, err
	}
	return b, nil
}

func interfaceID(ifc *idl.Interface) SyntaxID {
	return SyntaxID{ID: ifc.ID, Version: ifc.Version}
}

func stubDesc(c *ndr.Compiled) StubDesc {
	return StubDesc{
		CheckBounds: 1,
		Version:     StubDescVersion,
		MIDLVersion: MIDLVersion,
		MFlags:      MIDLFlags,
		TypeFormat:  c.Formats.LegacyType,
	}
}

func decodeAll(c *ndr.Compiled) ([2][]*ndr.Proc, error) {
	var out [2][]*ndr.Proc
	for _, s := range ndr.Syntaxes {
		out[s] = make([]*ndr.Proc, c.MethodCount())
		for ord := range out[s] {
			p, err := ndr.ParseProc(&c.Formats, s, ord)
			if err != nil {
				return out, errors.Wrap(errors.PhaseAssemble, errors.KindInvalidData, err,
					fmt.Sprintf("%s procedure %d", s, ord))
			}
			out[s][ord] = p
		}
	}
	return out, nil
}

// ID returns the interface identifier and version.
func (b *ClientBundle) ID() SyntaxID { return b.Interface.InterfaceID }

// ID returns the interface identifier and version.
func (b *ServerBundle) ID() SyntaxID { return b.Interface.InterfaceID }

// Proc returns the decoded procedure record of ordinal for syntax s.
func (b *ClientBundle) Proc(s ndr.Syntax, ordinal int) (*ndr.Proc, bool) {
	return procAt(b.procs, s, ordinal)
}

// Proc returns the decoded procedure record of ordinal for syntax s.
func (b *ServerBundle) Proc(s ndr.Syntax, ordinal int) (*ndr.Proc, bool) {
	return procAt(b.procs, s, ordinal)
}

func procAt(procs [2][]*ndr.Proc, s ndr.Syntax, ordinal int) (*ndr.Proc, bool) {
	if int(s) >= len(procs) || ordinal < 0 || ordinal >= len(procs[s]) {
		return nil, false
	}
	return procs[s][ordinal], true
}

// Routine returns the routine the dispatch table of s holds for ordinal.
func (b *ServerBundle) Routine(s ndr.Syntax, ordinal int) (Routine, bool) {
	if int(s) >= len(b.Syntax) {
		return nil, false
	}
	dt := b.Syntax[s].DispatchTable
	if ordinal < 0 || uint32(ordinal) >= dt.Count {
		return nil, false
	}
	return dt.Routines[ordinal], true
}
