package ndr

import "github.com/wippyai/ndr-runtime/idl"

// Compiled is the output of compiling an interface: per-method layouts
// for both syntaxes and the format streams. It is immutable.
type Compiled struct {
	Interface *idl.Interface
	Layouts   [2][]Layout
	Formats   Formats
}

// Compile validates ifc and produces its layouts and format streams.
// Identical interfaces compile to byte-identical streams.
func Compile(ifc *idl.Interface) (*Compiled, error) {
	if err := ifc.Validate(); err != nil {
		return nil, err
	}
	c := &Compiled{Interface: ifc}
	for _, s := range Syntaxes {
		c.Layouts[s] = make([]Layout, len(ifc.Methods))
		for i := range ifc.Methods {
			c.Layouts[s][i] = Plan(&ifc.Methods[i], s)
		}
	}
	f, err := buildFormats(ifc, c.Layouts)
	if err != nil {
		return nil, err
	}
	c.Formats = f
	return c, nil
}

// Layout returns the layout of ordinal for syntax s.
func (c *Compiled) Layout(s Syntax, ordinal int) (*Layout, bool) {
	if ordinal < 0 || ordinal >= len(c.Layouts[s]) {
		return nil, false
	}
	return &c.Layouts[s][ordinal], true
}

// MethodCount returns the number of procedures.
func (c *Compiled) MethodCount() int {
	return len(c.Interface.Methods)
}
