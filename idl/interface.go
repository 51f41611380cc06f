package idl

import (
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/wippyai/ndr-runtime/errors"
)

// GUID identifies an interface or transfer syntax.
type GUID = uuid.UUID

const (
	maxParams  = 255
	maxMethods = 65535
)

// Parameter is one declared method parameter. Slot is the zero-based
// stack slot, equal to the declaration index.
type Parameter struct {
	Name      string
	Type      Type
	Direction Direction
	Slot      int
}

// Method is one remotely invokable operation. Its position in
// Interface.Methods is the dispatch ordinal.
type Method struct {
	Name   string
	Params []Parameter
	Return Type
}

// ReturnSlot is the stack slot following the last parameter.
func (m *Method) ReturnSlot() int {
	return len(m.Params)
}

// GoName returns the exported Go identifier for the method:
// "echo_string" becomes "EchoString".
func (m *Method) GoName() string {
	return PascalCase(m.Name)
}

// Interface describes a remotely invokable interface. Treat it as
// immutable once built: method order defines wire ordinals.
type Interface struct {
	Name    string
	ID      GUID
	Version Version
	Methods []Method
}

// Method returns the method named name and its ordinal.
func (i *Interface) Method(name string) (*Method, int, bool) {
	for idx := range i.Methods {
		if i.Methods[idx].Name == name {
			return &i.Methods[idx], idx, true
		}
	}
	return nil, -1, false
}

// Ordinals returns method names in ordinal order.
func (i *Interface) Ordinals() []string {
	names := make([]string, len(i.Methods))
	for idx, m := range i.Methods {
		names[idx] = m.Name
	}
	return names
}

// Validate checks the interface against the supported vocabulary. Every
// failure is a compile-phase error whose path names the offending element.
func (i *Interface) Validate() error {
	if i.Name == "" {
		return errors.InvalidInput(errors.PhaseCompile, "interface name is empty")
	}
	if i.ID == uuid.Nil {
		return errors.New(errors.PhaseCompile, errors.KindInvalidInput).
			Path(i.Name).Detail("interface GUID is nil").Build()
	}
	if len(i.Methods) > maxMethods {
		return errors.New(errors.PhaseCompile, errors.KindOverflow).
			Path(i.Name).Detail("%d methods exceeds %d", len(i.Methods), maxMethods).Build()
	}

	seen := make(map[string]struct{}, len(i.Methods))
	for mi := range i.Methods {
		m := &i.Methods[mi]
		if m.Name == "" {
			return errors.New(errors.PhaseCompile, errors.KindInvalidInput).
				Path(i.Name).Detail("method %d has no name", mi).Build()
		}
		if _, dup := seen[m.Name]; dup {
			return errors.New(errors.PhaseCompile, errors.KindInvalidInput).
				Path(i.Name, m.Name).Detail("duplicate method name").Build()
		}
		seen[m.Name] = struct{}{}
		if err := validateMethod(i.Name, m); err != nil {
			return err
		}
	}
	return nil
}

func validateMethod(ifc string, m *Method) error {
	// the procedure header counts parameters and the return in one byte
	n := len(m.Params)
	if !m.Return.IsVoid() {
		n++
	}
	if n > maxParams {
		return errors.New(errors.PhaseCompile, errors.KindOverflow).
			Path(ifc, m.Name).Detail("%d parameters and return exceed %d", n, maxParams).Build()
	}
	names := make(map[string]struct{}, len(m.Params))
	for pi, p := range m.Params {
		if p.Name == "" {
			return errors.New(errors.PhaseCompile, errors.KindInvalidInput).
				Path(ifc, m.Name).Detail("parameter %d has no name", pi).Build()
		}
		if _, dup := names[p.Name]; dup {
			return errors.New(errors.PhaseCompile, errors.KindInvalidInput).
				Path(ifc, m.Name, p.Name).Detail("duplicate parameter name").Build()
		}
		names[p.Name] = struct{}{}
		if p.Slot != pi {
			return errors.New(errors.PhaseCompile, errors.KindInvalidInput).
				Path(ifc, m.Name, p.Name).Detail("slot %d does not match position %d", p.Slot, pi).Build()
		}
		if !p.Type.Valid() || p.Type.IsVoid() {
			return errors.New(errors.PhaseCompile, errors.KindUnsupported).
				Path(ifc, m.Name, p.Name).NdrType(p.Type.String()).Detail("unsupported parameter type").Build()
		}
		if p.Direction != In {
			return errors.New(errors.PhaseCompile, errors.KindUnsupported).
				Path(ifc, m.Name, p.Name).Detail("direction %s is not supported, only in", p.Direction).Build()
		}
	}
	if !m.Return.Valid() {
		return errors.New(errors.PhaseCompile, errors.KindUnsupported).
			Path(ifc, m.Name, "return").NdrType(m.Return.String()).Detail("unsupported return type").Build()
	}
	if m.Return.Kind() == KindText {
		return errors.New(errors.PhaseCompile, errors.KindUnsupported).
			Path(ifc, m.Name, "return").NdrType("text").Detail("text is input-only").Build()
	}
	return nil
}

// PascalCase converts snake or kebab case to an exported Go identifier.
func PascalCase(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		if r == '_' || r == '-' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
