package schema

import (
	"typedtables/errs"
	"typedtables/primcodec"
)

// OverflowDef wraps a primitive base type with a clamp/wrap write policy.
// Its reference_size and size_bytes are identical to the base's — the
// policy only changes write-time behavior in the record/primitive codec,
// never the wire shape. Float bases reject overflow policies entirely at
// construction time (spec §3.1, §4.A).
type OverflowDef struct {
	baseDef
	Base   *PrimitiveDef
	Policy primcodec.OverflowPolicy
}

// NewOverflowDef validates that Base isn't a float kind before returning a
// wrapper; float kinds have no sensible clamp/wrap semantics.
func NewOverflowDef(name string, base *PrimitiveDef, policy primcodec.OverflowPolicy) (*OverflowDef, error) {
	if primcodec.IsFloat(base.Kind) {
		return nil, errs.NewInvalidEnum("overflow wrappers cannot apply to float kind " + string(base.Kind))
	}
	return &OverflowDef{baseDef: baseDef{name: name}, Base: base, Policy: policy}, nil
}

func (o *OverflowDef) SizeBytes() int      { return o.Base.SizeBytes() }
func (o *OverflowDef) ReferenceSize() int  { return o.Base.ReferenceSize() }
func (o *OverflowDef) IsPrimitive() bool   { return true }
func (o *OverflowDef) ResolveBaseType() Def { return o }
