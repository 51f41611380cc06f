package idl

import (
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ndr-runtime/errors"
)

// TypeFromWIT maps a WIT type onto the supported vocabulary. Integer
// primitives and string are accepted; everything else is unsupported.
func TypeFromWIT(t wit.Type) (Type, error) {
	switch v := t.(type) {
	case nil:
		return Void, nil
	case wit.U8:
		return U8, nil
	case wit.U16:
		return U16, nil
	case wit.U32:
		return U32, nil
	case wit.U64:
		return U64, nil
	case wit.S8:
		return I8, nil
	case wit.S16:
		return I16, nil
	case wit.S32:
		return I32, nil
	case wit.S64:
		return I64, nil
	case wit.String:
		return Text, nil
	case *wit.TypeDef:
		// type aliases resolve to their target
		if inner, ok := v.Kind.(wit.Type); ok {
			return TypeFromWIT(inner)
		}
		return Void, errors.New(errors.PhaseCompile, errors.KindUnsupported).
			Detail("WIT type %T is not supported", v.Kind).Build()
	}
	return Void, errors.New(errors.PhaseCompile, errors.KindUnsupported).
		Detail("WIT type %T is not supported", t).Build()
}

// WITParam is a named WIT-typed parameter.
type WITParam struct {
	Name string
	Type wit.Type
}

// WITFunc is a WIT function signature: ordered parameters and an optional
// result (nil for none).
type WITFunc struct {
	Name   string
	Params []WITParam
	Result wit.Type
}

// MethodFromWIT converts a WIT function signature into a Method.
func MethodFromWIT(f WITFunc) (Method, error) {
	m := Method{Name: f.Name}
	for i, p := range f.Params {
		t, err := TypeFromWIT(p.Type)
		if err != nil {
			return Method{}, withPath(err, f.Name, p.Name)
		}
		m.Params = append(m.Params, Parameter{Name: p.Name, Type: t, Direction: In, Slot: i})
	}
	if f.Result != nil {
		t, err := TypeFromWIT(f.Result)
		if err != nil {
			return Method{}, withPath(err, f.Name, "return")
		}
		m.Return = t
	}
	return m, nil
}

// FromWIT builds an interface from WIT function signatures, preserving
// their order.
func FromWIT(name string, id GUID, version Version, funcs []WITFunc) (*Interface, error) {
	b := NewInterface(name, id, version)
	for _, f := range funcs {
		m, err := MethodFromWIT(f)
		if err != nil {
			return nil, err
		}
		b.ifc.Methods = append(b.ifc.Methods, m)
	}
	return b.Build()
}

func withPath(err error, path ...string) error {
	if e, ok := err.(*errors.Error); ok {
		e.Path = append(path, e.Path...)
		return e
	}
	return err
}
