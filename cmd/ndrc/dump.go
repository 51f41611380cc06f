package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/ndr-runtime/examples/calc"
	"github.com/wippyai/ndr-runtime/metadata"
	"github.com/wippyai/ndr-runtime/ndr"
	"github.com/wippyai/ndr-runtime/server"
)

var dumpFormats = []string{"text", "yaml", "hex"}

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	brokenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
)

type slotDump struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Offset uint32 `yaml:"offset"`
	Size   uint32 `yaml:"size"`
}

type layoutDump struct {
	Syntax    string     `yaml:"syntax"`
	Method    string     `yaml:"method"`
	StackSize uint32     `yaml:"stack_size"`
	Params    []slotDump `yaml:"params"`
	Return    *slotDump  `yaml:"return,omitempty"`
}

type dump struct {
	Interface string          `yaml:"interface"`
	ID        string          `yaml:"id"`
	Version   string          `yaml:"version"`
	Procs     []ndr.ProcDump  `yaml:"procs"`
	Layouts   []layoutDump    `yaml:"layouts"`
	Client    []metadata.Link `yaml:"client_links"`
	Server    []metadata.Link `yaml:"server_links"`
}

func newDumpCommand(root *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the compiled format streams, layouts and bundle links",
		Long: `Print the Calc interface as compiled for both transfer syntaxes:
the type and procedure format streams, every method's stack layout and
the cross-record links of the client and server metadata bundles.

Formats:
  text  disassembly, styled on a terminal
  yaml  the same data as YAML
  hex   raw format streams`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "text", "yaml", "hex":
			default:
				return commandError(fmt.Errorf("invalid format %q: must be one of %v", format, dumpFormats))
			}
			c, err := ndr.Compile(calc.Interface())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch format {
			case "hex":
				return dumpHex(out, c)
			case "yaml":
				d, err := buildDump(c)
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(d); err != nil {
					return err
				}
				return enc.Close()
			}
			return dumpText(out, c, isTerminal(out))
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text|yaml|hex)")
	return cmd
}

func buildDump(c *ndr.Compiled) (*dump, error) {
	procs, err := ndr.Describe(c)
	if err != nil {
		return nil, err
	}
	cb, err := metadata.AssembleClient(c)
	if err != nil {
		return nil, err
	}
	srv, err := server.New(c.Interface, calc.New(nil))
	if err != nil {
		return nil, err
	}

	ifc := c.Interface
	d := &dump{
		Interface: ifc.Name,
		ID:        ifc.ID.String(),
		Version:   ifc.Version.String(),
		Procs:     procs,
		Client:    cb.Links(),
		Server:    srv.Bundle().Links(),
	}
	for _, s := range ndr.Syntaxes {
		for ord, m := range ifc.Methods {
			l, _ := c.Layout(s, ord)
			ld := layoutDump{Syntax: s.String(), Method: m.Name, StackSize: l.StackSize}
			for _, p := range l.Params {
				ld.Params = append(ld.Params, toSlotDump(p))
			}
			if l.HasReturn {
				r := toSlotDump(l.Return)
				ld.Return = &r
			}
			d.Layouts = append(d.Layouts, ld)
		}
	}
	return d, nil
}

func toSlotDump(s ndr.Slot) slotDump {
	return slotDump{Name: s.Name, Type: s.Type.String(), Offset: s.Offset, Size: s.Size}
}

func dumpText(w io.Writer, c *ndr.Compiled, styled bool) error {
	heading := func(s string) string {
		if styled {
			return headingStyle.Render(s)
		}
		return s
	}
	text, err := ndr.Disassemble(c)
	if err != nil {
		return err
	}
	d, err := buildDump(c)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(heading("streams"))
	b.WriteString("\n")
	b.WriteString(text)

	b.WriteString("\n")
	b.WriteString(heading("layouts"))
	b.WriteString("\n")
	for _, l := range d.Layouts {
		fmt.Fprintf(&b, "%s %s stack=%d\n", l.Syntax, l.Method, l.StackSize)
		for _, p := range l.Params {
			fmt.Fprintf(&b, "  %-8s %-5s +%d (%d)\n", p.Name, p.Type, p.Offset, p.Size)
		}
		if l.Return != nil {
			fmt.Fprintf(&b, "  %-8s %-5s +%d (%d)\n", "return", l.Return.Type, l.Return.Offset, l.Return.Size)
		}
	}

	for _, side := range []struct {
		name  string
		links []metadata.Link
	}{{"client links", d.Client}, {"server links", d.Server}} {
		b.WriteString("\n")
		b.WriteString(heading(side.name))
		b.WriteString("\n")
		for _, l := range side.links {
			line := l.String()
			if styled && !l.OK {
				line = brokenStyle.Render(line)
			}
			b.WriteString("  ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	_, err = io.WriteString(w, b.String())
	return err
}

func dumpHex(w io.Writer, c *ndr.Compiled) error {
	for _, s := range ndr.Syntaxes {
		for _, stream := range []struct {
			name string
			data []byte
		}{{"type", c.Formats.Type(s)}, {"proc", c.Formats.Proc(s)}} {
			if _, err := fmt.Fprintf(w, "%s %s\n%s", s, stream.name, hex.Dump(stream.data)); err != nil {
				return err
			}
		}
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
