package server

import (
	"context"
	"reflect"

	"github.com/wippyai/ndr-runtime/errors"
	"github.com/wippyai/ndr-runtime/idl"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// Implementation is a user value bound to an interface: one Go method per
// interface method, resolved once at construction.
type Implementation struct {
	value   any
	methods []boundMethod
}

type boundMethod struct {
	fn       reflect.Value
	withCtx  bool
	params   []reflect.Type
	hasValue bool
	hasErr   bool
}

// Value returns the user value.
func (i *Implementation) Value() any { return i.value }

// bindImplementation resolves every method of ifc on impl. The Go method
// is named like the interface method or its PascalCase form; it may take
// a leading context.Context and may return a trailing error. Parameter
// and result kinds must match the declared types.
func bindImplementation(ifc *idl.Interface, impl any) (*Implementation, error) {
	if impl == nil {
		return nil, errors.NilPointer(errors.PhaseCompile, []string{ifc.Name}, "implementation")
	}
	rv := reflect.ValueOf(impl)
	out := &Implementation{value: impl, methods: make([]boundMethod, len(ifc.Methods))}
	for i := range ifc.Methods {
		m := &ifc.Methods[i]
		fn := rv.MethodByName(m.GoName())
		if !fn.IsValid() {
			fn = rv.MethodByName(m.Name)
		}
		if !fn.IsValid() {
			return nil, errors.New(errors.PhaseCompile, errors.KindNotFound).
				Path(ifc.Name, m.Name).GoType(rv.Type().String()).
				Detail("no method %s", m.GoName()).Build()
		}
		bm, err := checkMethod(ifc.Name, m, fn)
		if err != nil {
			return nil, err
		}
		out.methods[i] = bm
	}
	return out, nil
}

func checkMethod(ifc string, m *idl.Method, fn reflect.Value) (boundMethod, error) {
	ft := fn.Type()
	path := []string{ifc, m.Name}
	bm := boundMethod{fn: fn}

	in := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		bm.withCtx = true
		in = 1
	}
	if ft.IsVariadic() || ft.NumIn()-in != len(m.Params) {
		return bm, errors.New(errors.PhaseCompile, errors.KindTypeMismatch).Path(path...).
			GoType(ft.String()).Detail("want %d parameters", len(m.Params)).Build()
	}
	for i, p := range m.Params {
		got := ft.In(in + i)
		if got.Kind() != p.Type.GoType().Kind() {
			return bm, errors.TypeMismatch(errors.PhaseCompile, append(path, p.Name), got.String(), p.Type.String())
		}
		bm.params = append(bm.params, got)
	}

	outs := ft.NumOut()
	if outs > 0 && ft.Out(outs-1) == errorType {
		bm.hasErr = true
		outs--
	}
	switch {
	case m.Return.IsVoid() && outs == 0:
	case !m.Return.IsVoid() && outs == 1:
		if ft.Out(0).Kind() != m.Return.GoType().Kind() {
			return bm, errors.TypeMismatch(errors.PhaseCompile, append(path, "return"), ft.Out(0).String(), m.Return.String())
		}
		bm.hasValue = true
	default:
		return bm, errors.New(errors.PhaseCompile, errors.KindTypeMismatch).Path(path...).
			GoType(ft.String()).Detail("want result %s", m.Return).Build()
	}
	return bm, nil
}

// call invokes the method of ordinal with already loaded arguments. A
// returned error becomes a panic so the engine faults the call.
func (i *Implementation) call(ctx context.Context, ordinal int, args []any) any {
	bm := &i.methods[ordinal]
	in := make([]reflect.Value, 0, len(args)+1)
	if bm.withCtx {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}
	for k, a := range args {
		in = append(in, reflect.ValueOf(a).Convert(bm.params[k]))
	}
	out := bm.fn.Call(in)
	if bm.hasErr {
		if err, _ := out[len(out)-1].Interface().(error); err != nil {
			panic(err)
		}
	}
	if !bm.hasValue {
		return nil
	}
	return out[0].Interface()
}
