package idl

// Builder accumulates methods in declaration order.
type Builder struct {
	ifc Interface
}

// NewInterface starts building an interface.
func NewInterface(name string, id GUID, version Version) *Builder {
	return &Builder{ifc: Interface{Name: name, ID: id, Version: version}}
}

// Method appends a method returning ret (Void for none). The method is
// added when Done is called.
func (b *Builder) Method(name string, ret Type) *MethodBuilder {
	return &MethodBuilder{parent: b, m: Method{Name: name, Return: ret}}
}

// Build validates and returns an independent copy of the interface.
func (b *Builder) Build() (*Interface, error) {
	out := &Interface{
		Name:    b.ifc.Name,
		ID:      b.ifc.ID,
		Version: b.ifc.Version,
		Methods: make([]Method, len(b.ifc.Methods)),
	}
	for i, m := range b.ifc.Methods {
		out.Methods[i] = Method{
			Name:   m.Name,
			Return: m.Return,
			Params: append([]Parameter(nil), m.Params...),
		}
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// MustBuild is Build that panics on error. For package-level interface
// declarations.
func (b *Builder) MustBuild() *Interface {
	ifc, err := b.Build()
	if err != nil {
		panic(err)
	}
	return ifc
}

// MethodBuilder accumulates parameters for one method.
type MethodBuilder struct {
	parent *Builder
	m      Method
}

// Param appends an input parameter.
func (mb *MethodBuilder) Param(name string, t Type) *MethodBuilder {
	return mb.ParamDir(name, t, In)
}

// ParamDir appends a parameter with an explicit direction.
func (mb *MethodBuilder) ParamDir(name string, t Type, dir Direction) *MethodBuilder {
	mb.m.Params = append(mb.m.Params, Parameter{
		Name:      name,
		Type:      t,
		Direction: dir,
		Slot:      len(mb.m.Params),
	})
	return mb
}

// Done appends the method to the interface.
func (mb *MethodBuilder) Done() *Builder {
	mb.parent.ifc.Methods = append(mb.parent.ifc.Methods, mb.m)
	return mb.parent
}
