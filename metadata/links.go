package metadata

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/wippyai/ndr-runtime/errors"
	"github.com/wippyai/ndr-runtime/ndr"
)

// Link is one cross-record reference and whether it resolves to the
// target record's address inside the bundle.
type Link struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	OK   bool   `yaml:"ok"`
}

func (l Link) String() string {
	state := "ok"
	if !l.OK {
		state = "BROKEN"
	}
	return fmt.Sprintf("%s -> %s [%s]", l.From, l.To, state)
}

// Links enumerates every reference of the client bundle.
func (b *ClientBundle) Links() []Link {
	links := []Link{
		{"StubDesc.InterfaceInfo", "ClientInterface", b.StubDesc.InterfaceInfo == InterfaceInfo(&b.Interface)},
		{"ClientInterface.InterpreterInfo", "ProxyInfo", b.Interface.InterpreterInfo == &b.ProxyInfo},
		{"ProxyInfo.StubDesc", "StubDesc", b.ProxyInfo.StubDesc == &b.StubDesc},
		{"StubDesc.ProxyServerInfo", "ProxyInfo", b.StubDesc.ProxyServerInfo == InterpreterInfo(&b.ProxyInfo)},
		{"ProxyInfo.SyntaxInfo", "SyntaxInfo[]", sameArray(b.ProxyInfo.SyntaxInfo, b.Syntax[:])},
		{"ProxyInfo.ProcString", "SyntaxInfo[ndr].ProcString", sameBytes(b.ProxyInfo.ProcString, b.Syntax[ndr.SyntaxNDR].ProcString)},
		{"StubDesc.TypeFormat", "SyntaxInfo[ndr].TypeString", sameBytes(b.StubDesc.TypeFormat, b.Syntax[ndr.SyntaxNDR].TypeString)},
	}
	return links
}

// Links enumerates every reference of the server bundle.
func (b *ServerBundle) Links() []Link {
	links := []Link{
		{"StubDesc.InterfaceInfo", "ServerInterface", b.StubDesc.InterfaceInfo == InterfaceInfo(&b.Interface)},
		{"ServerInterface.InterpreterInfo", "ServerInfo", b.Interface.InterpreterInfo == &b.ServerInfo},
		{"ServerInfo.StubDesc", "StubDesc", b.ServerInfo.StubDesc == &b.StubDesc},
		{"StubDesc.ProxyServerInfo", "ServerInfo", b.StubDesc.ProxyServerInfo == InterpreterInfo(&b.ServerInfo)},
		{"ServerInfo.SyntaxInfo", "SyntaxInfo[]", sameArray(b.ServerInfo.SyntaxInfo, b.Syntax[:])},
		{"ServerInterface.DispatchTable", "DispatchTable[ndr]", b.Interface.DispatchTable == &b.Dispatch[ndr.SyntaxNDR]},
		{"ServerInfo.ProcString", "SyntaxInfo[ndr].ProcString", sameBytes(b.ServerInfo.ProcString, b.Syntax[ndr.SyntaxNDR].ProcString)},
		{"StubDesc.TypeFormat", "SyntaxInfo[ndr].TypeString", sameBytes(b.StubDesc.TypeFormat, b.Syntax[ndr.SyntaxNDR].TypeString)},
	}
	for _, s := range ndr.Syntaxes {
		links = append(links,
			Link{
				fmt.Sprintf("SyntaxInfo[%s].DispatchTable", s),
				fmt.Sprintf("DispatchTable[%s]", s),
				b.Syntax[s].DispatchTable == &b.Dispatch[s],
			},
			Link{
				fmt.Sprintf("DispatchTable[%s].Routines", s),
				"ServerInfo.Routines",
				sameRoutines(b.Dispatch[s].Routines, b.ServerInfo.Routines) && b.Dispatch[s].Count == uint32(len(b.Routines)),
			},
		)
	}
	links = append(links, Link{
		"SyntaxInfo[ndr].DispatchTable", "ServerInterface.DispatchTable",
		b.Syntax[ndr.SyntaxNDR].DispatchTable == b.Interface.DispatchTable,
	})
	return links
}

// Verify checks that every reference resolves by pointer equality.
func (b *ClientBundle) Verify() error {
	return verify("client", b.sealed, b.Links())
}

// Verify checks that every reference resolves by pointer equality.
func (b *ServerBundle) Verify() error {
	return verify("server", b.sealed, b.Links())
}

func verify(kind string, sealed bool, links []Link) error {
	if !sealed {
		return errors.InvalidState(errors.PhaseAssemble, kind+" bundle is not linked")
	}
	var broken []string
	for _, l := range links {
		if !l.OK {
			broken = append(broken, l.From)
		}
	}
	if len(broken) > 0 {
		return errors.New(errors.PhaseAssemble, errors.KindInvalidData).
			Detail("%s bundle has unresolved links: %s", kind, strings.Join(broken, ", ")).Build()
	}
	return nil
}

func sameArray(a, b []SyntaxInfo) bool {
	return len(a) == len(b) && len(a) > 0 && &a[0] == &b[0]
}

func sameBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

func sameRoutines(a, b []Routine) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
