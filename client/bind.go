package client

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

// Bind fills the func fields of the struct ptr points to with typed
// callers. A field binds to the method named by its `ndr:"name"` tag, or
// else to the method whose interface or Go name equals the field name.
// `ndr:"-"` skips a field.
//
// Field signatures take a leading context.Context followed by the
// parameters' natural Go types, and return (R, error), or just error for
// void methods:
//
//	type Calc struct {
//		Add    func(ctx context.Context, a, b int32) (int32, error)
//		Strlen func(ctx context.Context, s string) (uint64, error) `ndr:"strlen"`
//	}
func (c *Client) Bind(ptr any) error {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return errors.InvalidInput(errors.PhaseCompile, "Bind needs a non-nil pointer to a struct")
	}
	sv := rv.Elem()
	st := sv.Type()
	ifc := c.Interface()

	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.IsExported() || f.Type.Kind() != reflect.Func {
			continue
		}
		name := f.Tag.Get("ndr")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		stub := c.Stub(name)
		if stub.err != nil {
			return errors.New(errors.PhaseCompile, errors.KindNotFound).
				Path(ifc.Name, f.Name).Detail("no method %q", name).Build()
		}
		if err := checkSignature(ifc.Name, stub.method, f.Type); err != nil {
			return err
		}
		sv.Field(i).Set(reflect.MakeFunc(f.Type, caller(stub, f.Type)))
	}
	return nil
}

func checkSignature(ifc string, m *idl.Method, ft reflect.Type) error {
	path := []string{ifc, m.Name}
	mismatch := func(got reflect.Type, want string) error {
		return errors.TypeMismatch(errors.PhaseCompile, path, got.String(), want)
	}
	if ft.IsVariadic() || ft.NumIn() != len(m.Params)+1 || ft.In(0) != contextType {
		return errors.New(errors.PhaseCompile, errors.KindTypeMismatch).Path(path...).
			GoType(ft.String()).Detail("want context.Context followed by %d parameters", len(m.Params)).Build()
	}
	for i, p := range m.Params {
		if in := ft.In(i + 1); in != p.Type.GoType() {
			return errors.TypeMismatch(errors.PhaseCompile, append(path, p.Name), in.String(), p.Type.String())
		}
	}

	if m.Return.IsVoid() {
		if ft.NumOut() != 1 || ft.Out(0) != errorType {
			return mismatch(ft, "func(...) error")
		}
		return nil
	}
	if ft.NumOut() != 2 || ft.Out(1) != errorType {
		return mismatch(ft, "func(...) ("+m.Return.String()+", error)")
	}
	if ft.Out(0) != m.Return.GoType() {
		return errors.TypeMismatch(errors.PhaseCompile, append(path, "return"), ft.Out(0).String(), m.Return.String())
	}
	return nil
}

func caller(stub *Stub, ft reflect.Type) func([]reflect.Value) []reflect.Value {
	void := ft.NumOut() == 1
	return func(in []reflect.Value) []reflect.Value {
		ctx, _ := in[0].Interface().(context.Context)
		if ctx == nil {
			ctx = context.Background()
		}
		args := make([]any, len(in)-1)
		for i, v := range in[1:] {
			args[i] = v.Interface()
		}
		result, err := stub.Invoke(ctx, args...)

		errv := reflect.New(errorType).Elem()
		if err != nil {
			errv.Set(reflect.ValueOf(err))
		}
		if void {
			return []reflect.Value{errv}
		}
		out := reflect.Zero(ft.Out(0))
		if err == nil && result != nil {
			out = reflect.ValueOf(result)
		}
		return []reflect.Value{out, errv}
	}
}
