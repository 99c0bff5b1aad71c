package schema

// BigIntDef is the built-in arbitrary-precision signed integer. It is
// stored via the array mechanism: a composite field holds (start, length)
// into a `uint8` element table holding the encoded byte sequence (sign
// byte + big-endian magnitude for bigint, see EncodeBigInt; plain magnitude
// for biguint, see EncodeBigUint).
type BigIntDef struct {
	ArrayDef
	Unsigned bool
}

func NewBigIntDef(name string, byteElement Def, unsigned bool) *BigIntDef {
	return &BigIntDef{
		ArrayDef: ArrayDef{baseDef: baseDef{name: name}, Element: byteElement},
		Unsigned: unsigned,
	}
}

// ResolveBaseType is overridden for the same reason as StringDef's: without
// it, ArrayDef's promoted method would hide the Unsigned flag that
// storage.Manager needs to pick EncodeBigInt vs. EncodeBigUint.
func (b *BigIntDef) ResolveBaseType() Def { return b }

// FractionDef is an exact rational backed by two bigints (numerator,
// denominator); reference_size is 16 bytes = two (start,length) pairs.
// Values auto-normalize (reduce by gcd, canonical sign on numerator) on
// write; a zero denominator is rejected by the record codec.
type FractionDef struct {
	baseDef
	NumeratorType   *BigIntDef
	DenominatorType *BigIntDef
}

func NewFractionDef(name string, numerator, denominator *BigIntDef) *FractionDef {
	return &FractionDef{baseDef: baseDef{name: name}, NumeratorType: numerator, DenominatorType: denominator}
}

func (f *FractionDef) SizeBytes() int      { return 2 * ArrayHeaderSize }
func (f *FractionDef) ReferenceSize() int  { return 2 * ArrayHeaderSize }
func (f *FractionDef) ResolveBaseType() Def { return f }
