// Package record encodes and decodes composite records: a null bitmap
// followed by inline field references, plus the enum record shape
// (discriminant + optional payload index). It is the component that turns
// a schema.Def's abstract layout into the concrete bytes a storage.Table
// writes to disk.
package record

import (
	"math/big"

	"typedtables/errs"
	"typedtables/primcodec"
	"typedtables/schema"
)

// Ref is the (start, length) pair stored inline for array/set/string/
// dictionary/bigint/biguint fields. NullArrayRef is its null sentinel,
// independent of (and redundant with) the bitmap, used to detect dangling
// references after compaction (spec §4.D).
type Ref struct {
	Start  uint32
	Length uint32
}

var NullArrayRef = Ref{Start: schema.NullRef, Length: 0}

func (r Ref) IsNull() bool { return r == NullArrayRef }

// InterfaceRef is the tagged (type_id, index) reference stored for
// interface-typed fields. TypeID 0 means null.
type InterfaceRef struct {
	TypeID uint16
	Index  uint32
}

func (r InterfaceRef) IsNull() bool { return r.TypeID == 0 }

// Value is a decoded composite or interface record: one entry per field,
// keyed by field name. A nil entry means the field is null.
type Value map[string]any

// EnumValue is a decoded enum record.
type EnumValue struct {
	Variant      string
	Discriminant int64
	Fields       Value // empty for C-style variants
}

// FractionValue is the decoded shape of a fraction field: exact rational
// numerator/denominator, already normalized (spec §3.1).
type FractionValue struct {
	Num *big.Int
	Den *big.Int
}

// InterfaceValue is the encode-side shape of an interface-typed field: a
// friendly-name back-reference to a row that was already inserted into the
// implementing composite's own table. Composite and interface fields are
// references, not embedded values (spec §4.D) — the referenced row must be
// inserted separately; encoding this field only validates and tags the
// reference, it does not insert anything new.
type InterfaceValue struct {
	TypeName string
	Index    uint32
}

// EncodeComposite serializes value against def's merged field list into a
// freshly allocated buffer of exactly def.SizeBytes() bytes. encodeRef is
// called for every non-primitive-non-enum field to obtain the inline
// reference bytes (the composite record codec doesn't itself know how to
// allocate array elements or interface indices — that's storage's job).
func EncodeComposite(def *schema.CompositeDef, value Value, encodeRef RefEncoder) ([]byte, error) {
	return encodeFields(def.Fields, def.NullBitmapSize(), def.SizeBytes(), value, encodeRef)
}

// encodeFields writes the shared bitmap+inline-reference layout for a field
// list into a buffer of size bytes; it backs both EncodeComposite and
// EncodeVariantFields.
func encodeFields(fields []schema.FieldDef, bitmapSize, size int, value Value, encodeRef RefEncoder) ([]byte, error) {
	buf := make([]byte, size)
	bitmap := buf[:bitmapSize]
	offset := bitmapSize

	for i, f := range fields {
		v, present := value[f.Name]
		isNull := !present || v == nil
		if isNull {
			bitmap[i/8] |= 1 << uint(i%8)
		}

		width := f.Type.ReferenceSize()
		dst := buf[offset : offset+width]
		if err := encodeField(dst, f, v, isNull, encodeRef); err != nil {
			return nil, err
		}
		offset += width
	}
	return buf, nil
}

// RefEncoder allocates storage for a field that isn't encoded inline
// (arrays/sets/strings/dictionaries/bigint/biguint/fraction/enum-with-
// payload) and returns the bytes to splice into the record — these are
// value fields, re-inserted fresh on every encode call. Composite and
// interface fields are references instead: EncodeCompositeField/
// EncodeInterfaceField validate an already-existing index rather than
// inserting anything (spec §4.D, §9: "composite records store references
// to field values, not the values themselves"). Implemented by
// storage.Manager so record stays free of any knowledge of element/variant
// tables.
type RefEncoder interface {
	EncodeArrayField(field schema.FieldDef, value any) (Ref, error)
	EncodeCompositeField(field schema.FieldDef, value any) (uint32, error)
	EncodeInterfaceField(field schema.FieldDef, value any) (InterfaceRef, error)
	EncodeEnumField(field schema.FieldDef, value any) ([]byte, error)
	EncodeFractionField(field schema.FieldDef, value any) (Ref, Ref, error)
}

func encodeField(dst []byte, f schema.FieldDef, value any, isNull bool, enc RefEncoder) error {
	base := f.Type.ResolveBaseType()

	switch {
	case base.IsPrimitive():
		return encodePrimitiveField(dst, f, base, value, isNull)
	case isFractionType(f.Type):
		if isNull {
			putRef(dst[:8], NullArrayRef)
			putRef(dst[8:], NullArrayRef)
			return nil
		}
		numRef, denRef, err := enc.EncodeFractionField(f, value)
		if err != nil {
			return err
		}
		putRef(dst[:8], numRef)
		putRef(dst[8:], denRef)
		return nil
	case base.IsArray():
		if isNull {
			putRef(dst, NullArrayRef)
			return nil
		}
		ref, err := enc.EncodeArrayField(f, value)
		if err != nil {
			return err
		}
		putRef(dst, ref)
		return nil
	case base.IsComposite():
		if isNull {
			putUint32(dst, schema.NullRef)
			return nil
		}
		idx, err := enc.EncodeCompositeField(f, value)
		if err != nil {
			return err
		}
		putUint32(dst, idx)
		return nil
	case base.IsInterface():
		if isNull {
			putInterfaceRef(dst, InterfaceRef{})
			return nil
		}
		ref, err := enc.EncodeInterfaceField(f, value)
		if err != nil {
			return err
		}
		putInterfaceRef(dst, ref)
		return nil
	case base.IsEnum():
		return encodeEnumInline(dst, f, base, value, isNull, enc)
	default:
		return errs.NewUnknownType(f.Type.Name())
	}
}

// EncodeElement encodes a single array/set element into dst (exactly
// elemType.ReferenceSize() bytes). Elements reuse the field codec's
// per-kind switch — a composite element becomes its table index, an
// interface element its tagged ref, and so on — since an array element's
// wire shape is identical to a non-null field's (spec §4.D, §4.F).
func EncodeElement(dst []byte, elemType schema.Def, value any, enc RefEncoder) error {
	return encodeField(dst, schema.FieldDef{Type: elemType}, value, false, enc)
}

// DecodeElement is the inverse of EncodeElement.
func DecodeElement(elemType schema.Def, buf []byte, dec RefDecoder) (any, error) {
	return decodeField(schema.FieldDef{Type: elemType}, buf, false, dec)
}

// EncodeVariantFields serializes an enum variant's payload fields using the
// same bitmap+inline-reference layout as a composite record (spec §3.1,
// §4.D); the variant is stored in its own per-variant composite table
// (schema.VariantTableName) rather than inline in the enum field.
func EncodeVariantFields(fields []schema.FieldDef, value Value, encodeRef RefEncoder) ([]byte, error) {
	bitmapSize := (len(fields) + 7) / 8
	size := bitmapSize
	for _, f := range fields {
		size += f.Type.ReferenceSize()
	}
	return encodeFields(fields, bitmapSize, size, value, encodeRef)
}

// DecodeVariantFields is the inverse of EncodeVariantFields.
func DecodeVariantFields(fields []schema.FieldDef, buf []byte, dec RefDecoder) (Value, error) {
	bitmapSize := (len(fields) + 7) / 8
	return decodeFields(fields, bitmapSize, buf, dec)
}

func isFractionType(d schema.Def) bool {
	_, ok := d.ResolveBaseType().(*schema.FractionDef)
	return ok
}

func encodePrimitiveField(dst []byte, f schema.FieldDef, base schema.Def, value any, isNull bool) error {
	if isNull {
		return nil // zero bytes, still reserved
	}
	kind, policy := primitiveKindAndPolicy(base)
	bytes, err := primcodec.Encode(value, kind, policy)
	if err != nil {
		return err
	}
	copy(dst, bytes)
	return nil
}

func primitiveKindAndPolicy(base schema.Def) (primcodec.Kind, primcodec.OverflowPolicy) {
	switch t := base.(type) {
	case *schema.PrimitiveDef:
		return t.Kind, primcodec.PolicyNone
	case *schema.OverflowDef:
		return t.Base.Kind, t.Policy
	default:
		panic("record: not a primitive base")
	}
}

func encodeEnumInline(dst []byte, f schema.FieldDef, base schema.Def, value any, isNull bool, enc RefEncoder) error {
	if isNull {
		return nil
	}
	b, err := enc.EncodeEnumField(f, value)
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// The raw byte encoders/decoders below are exported for the compactor,
// which rewrites reference fields in place on the raw record bytes rather
// than going through a full decode/re-encode round trip (spec §4.I step 6).

func EncodeRefBytes(dst []byte, r Ref)                   { putRef(dst, r) }
func DecodeRefBytes(b []byte) Ref                        { return getRef(b) }
func EncodeInterfaceRefBytes(dst []byte, r InterfaceRef) { putInterfaceRef(dst, r) }
func DecodeInterfaceRefBytes(b []byte) InterfaceRef      { return getInterfaceRef(b) }
func EncodeCompositeIndexBytes(dst []byte, idx uint32)   { putUint32(dst, idx) }
func DecodeCompositeIndexBytes(b []byte) uint32          { return getUint32(b) }

// FieldBytes slices out field i's raw reference bytes (and whether it's
// null) from an already-encoded composite/variant record, without
// resolving the reference through a RefDecoder.
func FieldBytes(fields []schema.FieldDef, bitmapSize int, buf []byte, i int) (field []byte, isNull bool) {
	offset := bitmapSize
	for j := 0; j < i; j++ {
		offset += fields[j].Type.ReferenceSize()
	}
	width := fields[i].Type.ReferenceSize()
	isNull = buf[i/8]&(1<<uint(i%8)) != 0
	return buf[offset : offset+width], isNull
}

func putRef(dst []byte, r Ref) {
	putUint32(dst[0:4], r.Start)
	putUint32(dst[4:8], r.Length)
}

func putInterfaceRef(dst []byte, r InterfaceRef) {
	dst[0] = byte(r.TypeID)
	dst[1] = byte(r.TypeID >> 8)
	putUint32(dst[2:6], r.Index)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func getRef(b []byte) Ref {
	return Ref{Start: getUint32(b[0:4]), Length: getUint32(b[4:8])}
}

func getInterfaceRef(b []byte) InterfaceRef {
	typeID := uint16(b[0]) | uint16(b[1])<<8
	return InterfaceRef{TypeID: typeID, Index: getUint32(b[2:6])}
}

// RefDecoder is the read-side counterpart of RefEncoder: it resolves a
// stored reference back into a value. Implemented by storage.Manager.
type RefDecoder interface {
	DecodeArrayField(field schema.FieldDef, ref Ref) (any, error)
	DecodeCompositeField(field schema.FieldDef, index uint32) (any, error)
	DecodeInterfaceField(field schema.FieldDef, ref InterfaceRef) (any, error)
	DecodeEnumField(field schema.FieldDef, buf []byte) (any, error)
	DecodeFractionField(field schema.FieldDef, numRef, denRef Ref) (any, error)
}

// DecodeComposite is the inverse of EncodeComposite.
func DecodeComposite(def *schema.CompositeDef, buf []byte, dec RefDecoder) (Value, error) {
	return decodeFields(def.Fields, def.NullBitmapSize(), buf, dec)
}

func decodeFields(fields []schema.FieldDef, bitmapSize int, buf []byte, dec RefDecoder) (Value, error) {
	bitmap := buf[:bitmapSize]
	offset := bitmapSize
	out := make(Value, len(fields))

	for i, f := range fields {
		width := f.Type.ReferenceSize()
		fieldBytes := buf[offset : offset+width]
		isNull := bitmap[i/8]&(1<<uint(i%8)) != 0

		v, err := decodeField(f, fieldBytes, isNull, dec)
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
		offset += width
	}
	return out, nil
}

func decodeField(f schema.FieldDef, buf []byte, isNull bool, dec RefDecoder) (any, error) {
	base := f.Type.ResolveBaseType()

	switch {
	case base.IsPrimitive():
		if isNull {
			return nil, nil
		}
		kind, _ := primitiveKindAndPolicy(base)
		return primcodec.Decode(buf, kind), nil
	case isFractionType(f.Type):
		numRef, denRef := getRef(buf[:8]), getRef(buf[8:])
		if isNull || (numRef.IsNull() && denRef.IsNull()) {
			return nil, nil
		}
		return dec.DecodeFractionField(f, numRef, denRef)
	case base.IsArray():
		ref := getRef(buf)
		if isNull || ref.IsNull() {
			return nil, nil
		}
		return dec.DecodeArrayField(f, ref)
	case base.IsComposite():
		idx := getUint32(buf)
		if isNull || idx == schema.NullRef {
			return nil, nil
		}
		return dec.DecodeCompositeField(f, idx)
	case base.IsInterface():
		ref := getInterfaceRef(buf)
		if isNull || ref.IsNull() {
			return nil, nil
		}
		return dec.DecodeInterfaceField(f, ref)
	case base.IsEnum():
		if isNull {
			return nil, nil
		}
		return dec.DecodeEnumField(f, buf)
	default:
		return nil, errs.NewUnknownType(f.Type.Name())
	}
}

// IsZero reports whether buf is entirely zero bytes — the tombstone test
// (spec §4.D, §9). Because null array/interface fields always encode their
// sentinel rather than plain zero bytes, an all-zero buffer can only be a
// soft-deleted record, never a legitimate all-null live one.
func IsZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
