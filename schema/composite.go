package schema

import (
	"typedtables/errs"
)

// FieldDef is one named, typed field of a composite or interface.
type FieldDef struct {
	Name    string
	Type    Def
	Default any // nil means NULL default
}

// CompositeDef is an ordered list of fields plus an optional concrete
// parent and a list of implemented interface names. Fields is always the
// fully merged list: parent fields first (recursively), then each
// interface's fields in `Interfaces` order (recursively), then the
// composite's own declared fields, per spec §3.2.
type CompositeDef struct {
	baseDef
	Parent     *CompositeDef
	Interfaces []string
	Fields     []FieldDef
}

// NewCompositeStub returns an empty, mutable composite used for forward
// declarations; Fields is populated later via Populate.
func NewCompositeStub(name string) *CompositeDef {
	return &CompositeDef{baseDef: baseDef{name: name}}
}

// Populate fills in a stub in place — existing pointers held by other types
// that reference this stub observe the populated fields afterward, which is
// how mutually recursive composites resolve (spec §3.2, §9).
func (c *CompositeDef) Populate(parent *CompositeDef, interfaces []string, fields []FieldDef) {
	c.Parent = parent
	c.Interfaces = interfaces
	c.Fields = fields
}

func (c *CompositeDef) IsStub() bool { return len(c.Fields) == 0 && c.Parent == nil && len(c.Interfaces) == 0 }

func (c *CompositeDef) NullBitmapSize() int {
	if len(c.Fields) == 0 {
		return 0
	}
	return (len(c.Fields) + 7) / 8
}

func (c *CompositeDef) SizeBytes() int {
	total := c.NullBitmapSize()
	for _, f := range c.Fields {
		total += f.Type.ReferenceSize()
	}
	return total
}

func (c *CompositeDef) ReferenceSize() int   { return CompositeReferenceSize }
func (c *CompositeDef) IsComposite() bool    { return true }
func (c *CompositeDef) ResolveBaseType() Def { return c }

func (c *CompositeDef) GetField(name string) (FieldDef, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

func (c *CompositeDef) GetFieldOffset(name string) (int, error) {
	offset := c.NullBitmapSize()
	for _, f := range c.Fields {
		if f.Name == name {
			return offset, nil
		}
		offset += f.Type.ReferenceSize()
	}
	return 0, errs.NewUnknownType(c.name + "." + name)
}

// InterfaceDef defines a field contract. It is never instantiable directly;
// composites implement it and are referenced through a tagged
// (type_id, index) pair (InterfaceReferenceSize).
type InterfaceDef struct {
	baseDef
	Extends []string
	Fields  []FieldDef
}

func NewInterfaceStub(name string) *InterfaceDef {
	return &InterfaceDef{baseDef: baseDef{name: name}}
}

func (i *InterfaceDef) Populate(extends []string, fields []FieldDef) {
	i.Extends = extends
	i.Fields = fields
}

func (i *InterfaceDef) IsStub() bool { return len(i.Fields) == 0 && len(i.Extends) == 0 }

func (i *InterfaceDef) NullBitmapSize() int {
	if len(i.Fields) == 0 {
		return 0
	}
	return (len(i.Fields) + 7) / 8
}

func (i *InterfaceDef) SizeBytes() int {
	total := i.NullBitmapSize()
	for _, f := range i.Fields {
		total += f.Type.ReferenceSize()
	}
	return total
}

func (i *InterfaceDef) ReferenceSize() int   { return InterfaceReferenceSize }
func (i *InterfaceDef) IsInterface() bool    { return true }
func (i *InterfaceDef) ResolveBaseType() Def { return i }

func (i *InterfaceDef) GetField(name string) (FieldDef, bool) {
	for _, f := range i.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

func (i *InterfaceDef) GetFieldOffset(name string) (int, error) {
	offset := i.NullBitmapSize()
	for _, f := range i.Fields {
		if f.Name == name {
			return offset, nil
		}
		offset += f.Type.ReferenceSize()
	}
	return 0, errs.NewUnknownType(i.name + "." + name)
}

// mergeFields implements spec §3.2's field-merge rule: parent fields
// (recursively), then each source's fields in order, then own fields last;
// same-name fields from different sources must agree on type exactly or
// registration fails with FieldConflict.
func mergeFields(owner string, sources ...[]FieldDef) ([]FieldDef, error) {
	merged := make([]FieldDef, 0)
	seen := make(map[string]Def)
	for _, src := range sources {
		for _, f := range src {
			if existingType, ok := seen[f.Name]; ok {
				if existingType.Name() != f.Type.Name() {
					return nil, errs.NewFieldConflict(owner, f.Name, existingType, f.Type)
				}
				continue // duplicate at same type: already present, skip
			}
			seen[f.Name] = f.Type
			merged = append(merged, f)
		}
	}
	return merged, nil
}

// BuildCompositeFields computes the fully-merged field list for a composite
// with the given parent and implemented interfaces, per spec §3.2: parent
// fields first (recursively already merged into parent.Fields), then each
// interface's fields in declaration order, then the composite's own fields
// last.
func BuildCompositeFields(owner string, parent *CompositeDef, interfaces []*InterfaceDef, own []FieldDef) ([]FieldDef, error) {
	sources := make([][]FieldDef, 0, 2+len(interfaces))
	if parent != nil {
		sources = append(sources, parent.Fields)
	}
	for _, iface := range interfaces {
		sources = append(sources, iface.Fields)
	}
	sources = append(sources, own)
	return mergeFields(owner, sources...)
}

// BuildInterfaceFields merges an interface's own fields with the fields of
// every interface it extends, following the same rule (diamond inheritance
// with compatible types collapses to one field).
func BuildInterfaceFields(owner string, extends []*InterfaceDef, own []FieldDef) ([]FieldDef, error) {
	sources := make([][]FieldDef, 0, 1+len(extends))
	for _, iface := range extends {
		sources = append(sources, iface.Fields)
	}
	sources = append(sources, own)
	return mergeFields(owner, sources...)
}
