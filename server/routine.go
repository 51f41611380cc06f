package server

import (
	"context"
	"reflect"

	"github.com/wippyai/ndr-runtime/engine"
	"github.com/wippyai/ndr-runtime/errors"
	"github.com/wippyai/ndr-runtime/metadata"
	"github.com/wippyai/ndr-runtime/ndr"
)

// newRoutine builds the dispatch routine of one method. It captures the
// method's layouts and the registry it resolves implementations through;
// nothing in it refers to a particular implementation.
func newRoutine(c *ndr.Compiled, registry *Registry, ordinal int) metadata.Routine {
	m := &c.Interface.Methods[ordinal]
	name := m.Name
	var layouts [2]*ndr.Layout
	for _, s := range ndr.Syntaxes {
		layouts[s], _ = c.Layout(s, ordinal)
	}
	ret := m.Return.GoType()

	return func(ctx context.Context, worker engine.WorkerID, frame *engine.Frame) {
		impl, ok := registry.Lookup(worker)
		if !ok {
			panic(errors.ContextMissing(int(worker), name))
		}
		l := layouts[frame.Syntax]

		args := make([]any, len(l.Params))
		for i, p := range l.Params {
			v, err := frame.Load(p)
			if err != nil {
				panic(err)
			}
			args[i] = v
		}

		result := impl.call(ctx, ordinal, args)
		if !l.HasReturn {
			return
		}
		v := reflect.ValueOf(result).Convert(ret).Interface()
		if err := frame.Store(l.Return, v); err != nil {
			panic(err)
		}
	}
}
