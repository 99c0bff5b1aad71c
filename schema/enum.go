package schema

import (
	"typedtables/errs"
	"typedtables/primcodec"
)

// VariantDef is one named, discriminant-tagged variant of an enum. Fields
// is empty for C-style variants.
type VariantDef struct {
	Name         string
	Discriminant int64
	Fields       []FieldDef
}

// EnumDef covers both C-style (discriminant only) and tagged-union
// (per-variant payload) enums; the two shapes cannot mix within one enum
// (spec §3.1, InvalidEnum).
type EnumDef struct {
	baseDef
	Variants    []VariantDef
	HasExplicit bool // true when discriminants were given explicitly (`= N`)
	Backing     primcodec.Kind
	hasBacking  bool
}

func NewEnumStub(name string) *EnumDef {
	return &EnumDef{baseDef: baseDef{name: name}}
}

func (e *EnumDef) Populate(variants []VariantDef, hasExplicit bool, backing primcodec.Kind, hasBacking bool) error {
	if len(variants) == 0 {
		return errs.NewInvalidEnum("enum " + e.name + " has no variants")
	}
	anyFields, allFields := false, true
	for _, v := range variants {
		if len(v.Fields) > 0 {
			anyFields = true
		} else {
			allFields = false
		}
	}
	if anyFields && !allFields {
		return errs.NewInvalidEnum("enum " + e.name + " mixes C-style and tagged variants")
	}
	e.Variants = variants
	e.HasExplicit = hasExplicit
	e.Backing = backing
	e.hasBacking = hasBacking
	return nil
}

func (e *EnumDef) IsStub() bool { return len(e.Variants) == 0 }

// DiscriminantSize returns 1, 2 or 4 bytes, sized to the backing primitive
// when one was declared, otherwise to the maximum discriminant value.
func (e *EnumDef) DiscriminantSize() int {
	if e.hasBacking {
		return primcodec.SizeBytes(e.Backing)
	}
	var max int64
	for _, v := range e.Variants {
		if v.Discriminant > max {
			max = v.Discriminant
		}
	}
	switch {
	case max <= 0xFF:
		return 1
	case max <= 0xFFFF:
		return 2
	default:
		return 4
	}
}

func (e *EnumDef) HasAssociatedValues() bool {
	for _, v := range e.Variants {
		if len(v.Fields) > 0 {
			return true
		}
	}
	return false
}

func (e *EnumDef) SizeBytes() int {
	if e.HasAssociatedValues() {
		return e.DiscriminantSize() + CompositeReferenceSize
	}
	return e.DiscriminantSize()
}

func (e *EnumDef) ReferenceSize() int   { return e.SizeBytes() }
func (e *EnumDef) IsEnum() bool         { return true }
func (e *EnumDef) ResolveBaseType() Def { return e }

func (e *EnumDef) GetVariant(name string) (VariantDef, bool) {
	for _, v := range e.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return VariantDef{}, false
}

func (e *EnumDef) GetVariantByDiscriminant(d int64) (VariantDef, bool) {
	for _, v := range e.Variants {
		if v.Discriminant == d {
			return v, true
		}
	}
	return VariantDef{}, false
}

// VariantTableName is the per-variant composite table path component,
// e.g. "Shape/circle" (spec §6.1).
func VariantTableName(enumName, variantName string) string {
	return enumName + "/" + variantName
}
