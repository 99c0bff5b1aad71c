package schema

import (
	"sort"
	"sync"

	"golang.org/x/exp/slices"

	"typedtables/errs"
	"typedtables/primcodec"
)

// Registry is the named lookup of every type in a schema: composites,
// interfaces, enums, aliases, arrays/sets/dictionaries, overflow wrappers,
// and the bigint/biguint/fraction/string/boolean/path built-ins. It also
// owns the persistent name<->type_id map used for interface references.
//
// Mirroring the teacher's module loader, lookups are protected by a single
// RWMutex; there is no further locking discipline because the core is
// single-threaded-cooperative per spec §5 — the mutex only guards against
// accidental concurrent misuse, it does not make Registry safe for
// multi-writer use.
type Registry struct {
	mu         sync.RWMutex
	types      map[string]Def
	typeIDs    map[string]uint16
	nextTypeID uint16
}

// NewRegistry builds a registry with every built-in primitive and the
// derived string/boolean/bigint/biguint/fraction/path types pre-registered
// (spec §3.2).
func NewRegistry() *Registry {
	r := &Registry{
		types:      make(map[string]Def),
		typeIDs:    make(map[string]uint16),
		nextTypeID: 1, // 0 reserved
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	for _, k := range primcodec.Names {
		r.types[string(k)] = NewPrimitiveDef(string(k), k)
	}
	character := r.types[string(primcodec.Character)]
	bit := r.types[string(primcodec.Bit)]

	str := NewStringDef("string", character)
	r.types["string"] = str
	r.types["boolean"] = NewAliasDef("boolean", bit)
	r.types["path"] = NewAliasDef("path", str)

	byteElem := r.types[string(primcodec.Uint8)]
	bigintArr := NewBigIntDef("bigint", byteElem, false)
	biguintArr := NewBigIntDef("biguint", byteElem, true)
	r.types["bigint"] = bigintArr
	r.types["biguint"] = biguintArr
	r.types["fraction"] = NewFractionDef("fraction", bigintArr, bigintArr)
}

// Register inserts a fully-formed type definition. It fails with
// DuplicateName if the name exists and the existing entry isn't an empty
// stub of a compatible kind.
func (r *Registry) Register(def Def) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.types[def.Name()]; ok {
		if !isEmptyStubOfSameKind(existing, def) {
			return errs.NewDuplicateName(def.Name())
		}
	}
	if alias, ok := def.(*AliasDef); ok {
		if err := CheckAcyclicAlias(def.Name(), alias, len(r.types)+1); err != nil {
			return err
		}
	}
	r.types[def.Name()] = def
	return nil
}

func isEmptyStubOfSameKind(existing, incoming Def) bool {
	switch e := existing.(type) {
	case *CompositeDef:
		_, ok := incoming.(*CompositeDef)
		return ok && e.IsStub()
	case *InterfaceDef:
		_, ok := incoming.(*InterfaceDef)
		return ok && e.IsStub()
	case *EnumDef:
		_, ok := incoming.(*EnumDef)
		return ok && e.IsStub()
	default:
		return false
	}
}

// RegisterStub installs (or idempotently returns) an empty composite
// placeholder so mutually recursive types can reference each other before
// being populated.
func (r *Registry) RegisterStub(name string) (*CompositeDef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.types[name]; ok {
		if c, ok := existing.(*CompositeDef); ok && c.IsStub() {
			return c, nil
		}
		return nil, errs.NewStubConflict(name)
	}
	stub := NewCompositeStub(name)
	r.types[name] = stub
	return stub, nil
}

func (r *Registry) RegisterInterfaceStub(name string) (*InterfaceDef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.types[name]; ok {
		if i, ok := existing.(*InterfaceDef); ok && i.IsStub() {
			return i, nil
		}
		return nil, errs.NewStubConflict(name)
	}
	stub := NewInterfaceStub(name)
	r.types[name] = stub
	return stub, nil
}

func (r *Registry) RegisterEnumStub(name string) (*EnumDef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.types[name]; ok {
		if e, ok := existing.(*EnumDef); ok && e.IsStub() {
			return e, nil
		}
		return nil, errs.NewStubConflict(name)
	}
	stub := NewEnumStub(name)
	r.types[name] = stub
	return stub, nil
}

func (r *Registry) IsStub(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.types[name].(*CompositeDef)
	return ok && c.IsStub()
}

func (r *Registry) IsInterfaceStub(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.types[name].(*InterfaceDef)
	return ok && i.IsStub()
}

func (r *Registry) IsEnumStub(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.types[name].(*EnumDef)
	return ok && e.IsStub()
}

// Get returns the type named name, or nil if it isn't registered.
func (r *Registry) Get(name string) Def {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[name]
}

func (r *Registry) GetOrRaise(name string) (Def, error) {
	d := r.Get(name)
	if d == nil {
		return nil, errs.NewUnknownType(name)
	}
	return d, nil
}

// GetArrayType canonicalises "<element>[]" and returns the singleton
// *ArrayDef for it, creating it on first request.
func (r *Registry) GetArrayType(elementName string) (*ArrayDef, error) {
	arrayName := elementName + "[]"

	r.mu.RLock()
	existing, ok := r.types[arrayName]
	r.mu.RUnlock()
	if ok {
		arr, ok := existing.(*ArrayDef)
		if !ok {
			return nil, errs.NewStubConflict(arrayName)
		}
		return arr, nil
	}

	element, err := r.GetOrRaise(elementName)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.types[arrayName]; ok {
		if arr, ok := existing.(*ArrayDef); ok {
			return arr, nil
		}
		return nil, errs.NewStubConflict(arrayName)
	}
	arr := NewArrayDef(arrayName, element, false)
	r.types[arrayName] = arr
	return arr, nil
}

// GetTypeID returns a stable uint16 >= 1 for name, assigning a new one on
// first call. Assignments persist across metadata roundtrip (§4.H).
func (r *Registry) GetTypeID(name string) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.typeIDs[name]; ok {
		return id
	}
	id := r.nextTypeID
	r.typeIDs[name] = id
	r.nextTypeID++
	return id
}

// GetTypeNameByID is the inverse of GetTypeID.
func (r *Registry) GetTypeNameByID(id uint16) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, tid := range r.typeIDs {
		if tid == id {
			return name, true
		}
	}
	return "", false
}

// RestoreTypeIDs installs a previously-saved name->id map (metadata load,
// §4.H step 3) and advances nextTypeID past the maximum restored value.
func (r *Registry) RestoreTypeIDs(ids map[string]uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typeIDs = make(map[string]uint16, len(ids))
	var max uint16
	for name, id := range ids {
		r.typeIDs[name] = id
		if id > max {
			max = id
		}
	}
	r.nextTypeID = max + 1
}

// TypeIDs returns a defensive copy of the full name->id map, for metadata
// save.
func (r *Registry) TypeIDs() map[string]uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint16, len(r.typeIDs))
	for k, v := range r.typeIDs {
		out[k] = v
	}
	return out
}

// FindImplementingTypes scans composites whose Interfaces list includes
// interfaceName.
func (r *Registry) FindImplementingTypes(interfaceName string) []*CompositeDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*CompositeDef
	for _, name := range r.sortedNamesLocked() {
		c, ok := r.types[name].(*CompositeDef)
		if ok && slices.Contains(c.Interfaces, interfaceName) {
			out = append(out, c)
		}
	}
	return out
}

// FindCompositesWithFieldType scans composites for fields whose resolved
// type matches typeName by name, or by equal resolved base.
func (r *Registry) FindCompositesWithFieldType(typeName string) []FieldMatch {
	r.mu.RLock()
	defer r.mu.RUnlock()
	target := r.types[typeName]
	var out []FieldMatch
	for _, name := range r.sortedNamesLocked() {
		c, ok := r.types[name].(*CompositeDef)
		if !ok {
			continue
		}
		for _, f := range c.Fields {
			if fieldMatchesType(f.Type, typeName, target) {
				out = append(out, FieldMatch{CompositeName: name, FieldName: f.Name, Composite: c})
			}
		}
	}
	return out
}

// FindEnumVariantsWithFieldType is FindCompositesWithFieldType's analogue
// for enum variant payload fields.
func (r *Registry) FindEnumVariantsWithFieldType(typeName string) []VariantFieldMatch {
	r.mu.RLock()
	defer r.mu.RUnlock()
	target := r.types[typeName]
	var out []VariantFieldMatch
	for _, name := range r.sortedNamesLocked() {
		e, ok := r.types[name].(*EnumDef)
		if !ok {
			continue
		}
		for _, v := range e.Variants {
			for _, f := range v.Fields {
				if fieldMatchesType(f.Type, typeName, target) {
					out = append(out, VariantFieldMatch{EnumName: name, VariantName: v.Name, FieldName: f.Name})
				}
			}
		}
	}
	return out
}

func fieldMatchesType(fieldType Def, typeName string, target Def) bool {
	if fieldType.Name() == typeName {
		return true
	}
	if target == nil {
		return false
	}
	return fieldType.ResolveBaseType().Name() == target.ResolveBaseType().Name()
}

// FieldMatch is one (composite, field) pair returned by
// FindCompositesWithFieldType.
type FieldMatch struct {
	CompositeName string
	FieldName     string
	Composite     *CompositeDef
}

// VariantFieldMatch is one (enum, variant, field) triple returned by
// FindEnumVariantsWithFieldType.
type VariantFieldMatch struct {
	EnumName    string
	VariantName string
	FieldName   string
}

// ListTypes returns every registered name in stable sorted order. The core
// does not special-case the reserved "_"-prefixed bookkeeping names;
// callers that want to hide them filter at presentation time (spec §4.B).
func (r *Registry) ListTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNamesLocked()
}

func (r *Registry) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
