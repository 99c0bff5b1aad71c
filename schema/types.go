// Package schema holds the nominal type system: the registry of named
// types (composites, interfaces, enums, aliases, arrays/sets/dictionaries,
// overflow wrappers, bigint/biguint, fraction) and the per-kind definitions
// that report size_bytes and reference_size for the record codec.
package schema

import (
	"typedtables/errs"
	"typedtables/primcodec"
)

// Built-in reference widths, named the way the original prototype names
// them (REFERENCE_SIZE / INTERFACE_REFERENCE_SIZE).
const (
	CompositeReferenceSize = 4 // uint32 index
	InterfaceReferenceSize = 6 // uint16 type_id + uint32 index
	ArrayHeaderSize        = 8 // uint32 start + uint32 length
)

// NullRef is the sentinel index meaning "no entry" for array/set/dict/
// bigint/biguint/string references, paired with length 0.
const NullRef uint32 = 0xFFFFFFFF

// Def is implemented by every registered type definition.
type Def interface {
	Name() string
	SizeBytes() int
	ReferenceSize() int
	IsArray() bool
	IsPrimitive() bool
	IsComposite() bool
	IsInterface() bool
	IsEnum() bool
	ResolveBaseType() Def
}

// baseDef centralizes the Name() accessor and the default "false" kind
// predicates; concrete kinds embed it and override what differs.
type baseDef struct {
	name string
}

func (b *baseDef) Name() string           { return b.name }
func (b *baseDef) IsArray() bool          { return false }
func (b *baseDef) IsPrimitive() bool      { return false }
func (b *baseDef) IsComposite() bool      { return false }
func (b *baseDef) IsInterface() bool      { return false }
func (b *baseDef) IsEnum() bool           { return false }

// PrimitiveDef wraps one of the fifteen built-in primitive kinds.
type PrimitiveDef struct {
	baseDef
	Kind primcodec.Kind
}

func NewPrimitiveDef(name string, kind primcodec.Kind) *PrimitiveDef {
	return &PrimitiveDef{baseDef: baseDef{name: name}, Kind: kind}
}

func (p *PrimitiveDef) SizeBytes() int      { return primcodec.SizeBytes(p.Kind) }
func (p *PrimitiveDef) ReferenceSize() int  { return primcodec.SizeBytes(p.Kind) }
func (p *PrimitiveDef) IsPrimitive() bool   { return true }
func (p *PrimitiveDef) ResolveBaseType() Def { return p }

// AliasDef delegates every property to Base, following chains until a
// non-alias is reached.
type AliasDef struct {
	baseDef
	Base Def
}

func NewAliasDef(name string, base Def) *AliasDef {
	return &AliasDef{baseDef: baseDef{name: name}, Base: base}
}

func (a *AliasDef) SizeBytes() int     { return a.Base.SizeBytes() }
func (a *AliasDef) ReferenceSize() int { return a.Base.ReferenceSize() }
func (a *AliasDef) IsArray() bool      { return a.Base.IsArray() }
func (a *AliasDef) IsPrimitive() bool  { return a.Base.IsPrimitive() }
func (a *AliasDef) IsComposite() bool  { return a.Base.IsComposite() }
func (a *AliasDef) IsInterface() bool  { return a.Base.IsInterface() }
func (a *AliasDef) IsEnum() bool       { return a.Base.IsEnum() }
func (a *AliasDef) ResolveBaseType() Def {
	return a.Base.ResolveBaseType()
}

// CheckAcyclicAlias walks an alias chain up to a bound of maxHops steps and
// reports CyclicAlias if it never reaches a non-alias base. Registry.Register
// calls this before accepting a new AliasDef (spec §3.2, §7).
func CheckAcyclicAlias(name string, def Def, maxHops int) error {
	cur := def
	for hops := 0; hops < maxHops; hops++ {
		a, ok := cur.(*AliasDef)
		if !ok {
			return nil
		}
		cur = a.Base
	}
	return errs.NewCyclicAlias(name)
}

// ArrayDef is an array (or set) of Element. Overflow wrappers of the
// underlying element never change the header shape: every array's record
// reference is always the fixed 8-byte (start, length) pair.
type ArrayDef struct {
	baseDef
	Element Def
	// IsSet marks set semantics: dedup-on-insert (enforced by the element
	// table, not here).
	IsSet bool
}

func NewArrayDef(name string, element Def, isSet bool) *ArrayDef {
	return &ArrayDef{baseDef: baseDef{name: name}, Element: element, IsSet: isSet}
}

func (a *ArrayDef) SizeBytes() int      { return ArrayHeaderSize }
func (a *ArrayDef) ReferenceSize() int  { return ArrayHeaderSize }
func (a *ArrayDef) IsArray() bool       { return true }
func (a *ArrayDef) ResolveBaseType() Def { return a }

// StringDef is the built-in string type: an ArrayDef over `character` that
// displays as UTF-decoded text.
type StringDef struct {
	ArrayDef
}

func NewStringDef(name string, character Def) *StringDef {
	return &StringDef{ArrayDef: ArrayDef{baseDef: baseDef{name: name}, Element: character}}
}

// ResolveBaseType is overridden because ArrayDef's promoted method would
// otherwise return the embedded *ArrayDef, losing the fact that this is a
// string — IsStringType and storage.Manager's array codec rely on the
// concrete type surviving base-type resolution.
func (s *StringDef) ResolveBaseType() Def { return s }

// IsStringType reports whether d resolves to the built-in string shape.
func IsStringType(d Def) bool {
	_, ok := d.ResolveBaseType().(*StringDef)
	return ok
}

// DictEntryName returns the synthetic composite name backing a dictionary's
// key/value pairs, e.g. "string:uint32$entry".
func DictEntryName(keyName, valueName string) string {
	return keyName + ":" + valueName + "$entry"
}

// DictDef is sugar over ArrayDef(entry composite); Entry is the synthetic
// {key, value} composite and Element mirrors it so ArrayDef behavior (size,
// reference_size) is inherited unchanged.
type DictDef struct {
	ArrayDef
	Key   Def
	Value Def
	Entry *CompositeDef
}

func NewDictDef(name string, key, value Def, entry *CompositeDef) *DictDef {
	return &DictDef{
		ArrayDef: ArrayDef{baseDef: baseDef{name: name}, Element: entry},
		Key:      key,
		Value:    value,
		Entry:    entry,
	}
}

// ResolveBaseType is overridden for the same reason as StringDef's: keep the
// dict's Key/Value/Entry visible to callers that need to tell a dictionary
// apart from a plain array of its entry composite.
func (d *DictDef) ResolveBaseType() Def { return d }
