package ndr

import (
	"fmt"
	"strings"
)

// ParamDump is the printable form of a parameter descriptor.
type ParamDump struct {
	Name        string `yaml:"name"`
	Attributes  string `yaml:"attributes"`
	Flags       string `yaml:"flags"`
	StackOffset uint32 `yaml:"stack_offset"`
	Type        string `yaml:"type"`
	TypeOffset  uint32 `yaml:"type_offset,omitempty"`
}

// ProcDump is the printable form of a procedure record.
type ProcDump struct {
	Syntax       string      `yaml:"syntax"`
	Ordinal      int         `yaml:"ordinal"`
	Name         string      `yaml:"name"`
	Offset       uint32      `yaml:"offset"`
	StackSize    uint32      `yaml:"stack_size"`
	ClientBuffer uint32      `yaml:"client_buffer"`
	ServerBuffer uint32      `yaml:"server_buffer"`
	Flags        string      `yaml:"flags"`
	Params       []ParamDump `yaml:"params"`
}

// Describe decodes every procedure record of c for both syntaxes.
func Describe(c *Compiled) ([]ProcDump, error) {
	var out []ProcDump
	for _, s := range Syntaxes {
		for ord := range c.Interface.Methods {
			m := &c.Interface.Methods[ord]
			p, err := ParseProc(&c.Formats, s, ord)
			if err != nil {
				return nil, err
			}
			off, _ := c.Formats.ProcOffset(s, ord)
			d := ProcDump{
				Syntax:       s.String(),
				Ordinal:      ord,
				Name:         m.Name,
				Offset:       off,
				StackSize:    p.StackSize,
				ClientBuffer: p.ClientBuffer,
				ServerBuffer: p.ServerBuffer,
				Flags:        fmt.Sprintf("0x%x", p.Flags),
			}
			for i, pp := range p.Params {
				name := "return"
				if i < len(m.Params) {
					name = m.Params[i].Name
				}
				d.Params = append(d.Params, ParamDump{
					Name:        name,
					Attributes:  fmt.Sprintf("0x%04x", uint16(pp.Attributes)),
					Flags:       pp.Attributes.String(),
					StackOffset: pp.StackOffset,
					Type:        CodeName(s, pp.Code),
					TypeOffset:  pp.TypeOffset,
				})
			}
			out = append(out, d)
		}
	}
	return out, nil
}

// Disassemble renders the streams of c as text. The output is stable and
// used for golden comparisons.
func Disassemble(c *Compiled) (string, error) {
	procs, err := Describe(c)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	ifc := c.Interface
	fmt.Fprintf(&b, "interface %s %s v%s\n", ifc.Name, ifc.ID, ifc.Version)
	for _, s := range Syntaxes {
		fmt.Fprintf(&b, "%s type stream (%d bytes)\n", s, len(c.Formats.Type(s)))
		hexdump(&b, c.Formats.Type(s))
		fmt.Fprintf(&b, "%s proc stream (%d bytes)\n", s, len(c.Formats.Proc(s)))
		hexdump(&b, c.Formats.Proc(s))
	}
	for _, p := range procs {
		fmt.Fprintf(&b, "%s proc %d %s offset=%d stack=%d client=%d server=%d flags=%s\n",
			p.Syntax, p.Ordinal, p.Name, p.Offset, p.StackSize, p.ClientBuffer, p.ServerBuffer, p.Flags)
		for _, pp := range p.Params {
			fmt.Fprintf(&b, "  %s attrs=%s (%s) stack=%d %s\n",
				pp.Name, pp.Attributes, pp.Flags, pp.StackOffset, pp.Type)
		}
	}
	return b.String(), nil
}

func hexdump(b *strings.Builder, data []byte) {
	for off := 0; off < len(data); off += 16 {
		end := min(off+16, len(data))
		fmt.Fprintf(b, "  %04x  % x\n", off, data[off:end])
	}
}
