// Package metadata reads and writes the `_metadata.json` sidecar that
// records every registered type and the persistent type_id map (spec §4.H).
// Loading follows a two-phase stub-then-resolve protocol so mutually
// recursive composite/interface/enum graphs round-trip correctly.
package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"typedtables/errs"
	"typedtables/primcodec"
	"typedtables/schema"
)

// FileName is the sidecar's fixed name within a database directory.
const FileName = "_metadata.json"

type fieldSpec struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Default  json.RawMessage `json:"default,omitempty"`
	Overflow string          `json:"overflow,omitempty"`
}

type variantSpec struct {
	Name         string      `json:"name"`
	Discriminant int64       `json:"discriminant"`
	Fields       []fieldSpec `json:"fields,omitempty"`
}

type typeSpec struct {
	Kind              string        `json:"kind"`
	Primitive         string        `json:"primitive,omitempty"`
	BaseType          string        `json:"base_type,omitempty"`
	ElementType       string        `json:"element_type,omitempty"`
	Fields            []fieldSpec   `json:"fields,omitempty"`
	Interfaces        []string      `json:"interfaces,omitempty"`
	Parent            string        `json:"parent,omitempty"`
	Extends           []string      `json:"extends,omitempty"`
	Variants          []variantSpec `json:"variants,omitempty"`
	HasExplicitValues bool          `json:"has_explicit_values,omitempty"`
	BackingType       string        `json:"backing_type,omitempty"`
}

type file struct {
	Types   map[string]typeSpec `json:"types"`
	TypeIDs map[string]uint16   `json:"type_ids"`
}

// Save writes the registry's current contents to dataDir/_metadata.json,
// built-ins included (spec §4.H save protocol: "write the current registry
// verbatim").
func Save(dataDir string, registry *schema.Registry) error {
	out := file{Types: make(map[string]typeSpec), TypeIDs: registry.TypeIDs()}
	for _, name := range registry.ListTypes() {
		out.Types[name] = toSpec(registry.Get(name))
	}
	bytes, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errors.Wrap(err, "metadata: marshal")
	}
	path := filepath.Join(dataDir, FileName)
	if err := os.WriteFile(path, bytes, 0o644); err != nil {
		return errors.Wrapf(err, "metadata: write %s", path)
	}
	return nil
}

func toSpec(def schema.Def) typeSpec {
	switch t := def.(type) {
	case *schema.PrimitiveDef:
		return typeSpec{Kind: "primitive", Primitive: string(t.Kind)}
	case *schema.StringDef:
		return typeSpec{Kind: "string", ElementType: t.Element.Name()}
	case *schema.DictDef:
		return typeSpec{Kind: "array", ElementType: t.Entry.Name()}
	case *schema.BigIntDef:
		return typeSpec{Kind: "array", ElementType: t.Element.Name()}
	case *schema.ArrayDef:
		return typeSpec{Kind: "array", ElementType: t.Element.Name()}
	case *schema.AliasDef:
		if t.Name() == "boolean" {
			return typeSpec{Kind: "boolean"}
		}
		return typeSpec{Kind: "alias", BaseType: t.Base.Name()}
	case *schema.FractionDef:
		// Fractions are built-in and never re-declared by user schemas;
		// represented as an alias to bigint pairing for metadata purposes.
		return typeSpec{Kind: "alias", BaseType: t.NumeratorType.Name()}
	case *schema.CompositeDef:
		spec := typeSpec{Kind: "composite", Interfaces: t.Interfaces, Fields: fieldSpecs(t.Fields)}
		if t.Parent != nil {
			spec.Parent = t.Parent.Name()
		}
		return spec
	case *schema.InterfaceDef:
		return typeSpec{Kind: "interface", Extends: t.Extends, Fields: fieldSpecs(t.Fields)}
	case *schema.EnumDef:
		spec := typeSpec{Kind: "enum", HasExplicitValues: t.HasExplicit, Variants: make([]variantSpec, len(t.Variants))}
		for i, v := range t.Variants {
			spec.Variants[i] = variantSpec{Name: v.Name, Discriminant: v.Discriminant, Fields: fieldSpecs(v.Fields)}
		}
		if t.Backing != "" {
			spec.BackingType = string(t.Backing)
		}
		return spec
	default:
		return typeSpec{Kind: "unknown"}
	}
}

func fieldSpecs(fields []schema.FieldDef) []fieldSpec {
	out := make([]fieldSpec, len(fields))
	for i, f := range fields {
		spec := fieldSpec{Name: f.Name, Type: fieldTypeName(f.Type)}
		if f.Default != nil {
			if b, err := json.Marshal(f.Default); err == nil {
				spec.Default = b
			}
		}
		if o, ok := f.Type.(*schema.OverflowDef); ok {
			spec.Type = o.Base.Name()
			if o.Policy == primcodec.Saturating {
				spec.Overflow = "saturating"
			} else {
				spec.Overflow = "wrapping"
			}
		}
		out[i] = spec
	}
	return out
}

func fieldTypeName(d schema.Def) string {
	if o, ok := d.(*schema.OverflowDef); ok {
		return o.Base.Name()
	}
	return d.Name()
}

// Load reads dataDir/_metadata.json and populates registry following the
// two-phase protocol of spec §4.H: register empty stubs for every
// composite/interface/enum, then iteratively resolve field/variant lists
// against the registry until the worklist is empty or a pass makes no
// progress (UnresolvableTypes).
func Load(dataDir string, registry *schema.Registry) error {
	path := filepath.Join(dataDir, FileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "metadata: read %s", path)
	}
	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return errors.Wrap(err, "metadata: unmarshal")
	}

	worklist := make(map[string]typeSpec)
	for name, spec := range f.Types {
		switch spec.Kind {
		case "composite":
			if _, err := registry.RegisterStub(name); err != nil {
				return err
			}
			worklist[name] = spec
		case "interface":
			if _, err := registry.RegisterInterfaceStub(name); err != nil {
				return err
			}
			worklist[name] = spec
		case "enum":
			if _, err := registry.RegisterEnumStub(name); err != nil {
				return err
			}
			worklist[name] = spec
		default:
			worklist[name] = spec
		}
	}

	maxIterations := len(worklist) + 1
	for iter := 0; iter < maxIterations && len(worklist) > 0; iter++ {
		progressed := false
		for name, spec := range worklist {
			if resolveOne(registry, name, spec, worklist) {
				delete(worklist, name)
				progressed = true
			}
		}
		if !progressed {
			names := make([]string, 0, len(worklist))
			for name := range worklist {
				names = append(names, name)
			}
			return errs.NewUnresolvable(names)
		}
	}
	if len(worklist) > 0 {
		names := make([]string, 0, len(worklist))
		for name := range worklist {
			names = append(names, name)
		}
		return errs.NewUnresolvable(names)
	}

	registry.RestoreTypeIDs(f.TypeIDs)
	return nil
}

// resolveOne attempts to fully construct and populate/register the type
// named name from spec, returning false (no error) if a dependency hasn't
// resolved yet so the caller retries on a later pass.
func resolveOne(registry *schema.Registry, name string, spec typeSpec, worklist map[string]typeSpec) bool {
	switch spec.Kind {
	case "primitive":
		return true // built-ins are always already present
	case "boolean":
		return true
	case "alias":
		base := registry.Get(spec.BaseType)
		if base == nil {
			return false
		}
		if registry.Get(name) == nil {
			_ = registry.Register(schema.NewAliasDef(name, base))
		}
		return true
	case "string":
		return true // built-in
	case "array":
		elem := registry.Get(spec.ElementType)
		if elem == nil {
			return false
		}
		if registry.Get(name) == nil {
			_ = registry.Register(schema.NewArrayDef(name, elem, false))
		}
		return true
	case "composite":
		fields, ok := resolveFields(registry, spec.Fields)
		if !ok {
			return false
		}
		var parent *schema.CompositeDef
		if spec.Parent != "" {
			p, ok := registry.Get(spec.Parent).(*schema.CompositeDef)
			if !ok || p.IsStub() {
				return false
			}
			parent = p
		}
		ifaces := make([]*schema.InterfaceDef, 0, len(spec.Interfaces))
		for _, ifaceName := range spec.Interfaces {
			iface, ok := registry.Get(ifaceName).(*schema.InterfaceDef)
			if !ok || iface.IsStub() {
				return false
			}
			ifaces = append(ifaces, iface)
		}
		merged, err := schema.BuildCompositeFields(name, parent, ifaces, fields)
		if err != nil {
			return false
		}
		c, _ := registry.RegisterStub(name)
		c.Populate(parent, spec.Interfaces, merged)
		return true
	case "interface":
		fields, ok := resolveFields(registry, spec.Fields)
		if !ok {
			return false
		}
		extends := make([]*schema.InterfaceDef, 0, len(spec.Extends))
		for _, extName := range spec.Extends {
			ext, ok := registry.Get(extName).(*schema.InterfaceDef)
			if !ok || ext.IsStub() {
				return false
			}
			extends = append(extends, ext)
		}
		merged, err := schema.BuildInterfaceFields(name, extends, fields)
		if err != nil {
			return false
		}
		i, _ := registry.RegisterInterfaceStub(name)
		i.Populate(spec.Extends, merged)
		return true
	case "enum":
		variants := make([]schema.VariantDef, len(spec.Variants))
		for i, v := range spec.Variants {
			fields, ok := resolveFields(registry, v.Fields)
			if !ok {
				return false
			}
			variants[i] = schema.VariantDef{Name: v.Name, Discriminant: v.Discriminant, Fields: fields}
		}
		var backing primcodec.Kind
		hasBacking := spec.BackingType != ""
		if hasBacking {
			backing = primcodec.Kind(spec.BackingType)
		}
		e, _ := registry.RegisterEnumStub(name)
		if err := e.Populate(variants, spec.HasExplicitValues, backing, hasBacking); err != nil {
			return false
		}
		return true
	default:
		return true
	}
}

func resolveFields(registry *schema.Registry, specs []fieldSpec) ([]schema.FieldDef, bool) {
	out := make([]schema.FieldDef, len(specs))
	for i, fs := range specs {
		base, err := registry.GetOrRaise(fs.Type)
		if err != nil {
			return nil, false
		}
		fieldType := base
		if fs.Overflow != "" {
			prim, ok := base.(*schema.PrimitiveDef)
			if !ok {
				return nil, false
			}
			policy := primcodec.Saturating
			if fs.Overflow == "wrapping" {
				policy = primcodec.Wrapping
			}
			wrapped, err := schema.NewOverflowDef(prim.Name()+"$"+fs.Overflow, prim, policy)
			if err != nil {
				return nil, false
			}
			fieldType = wrapped
		}
		var def any
		if len(fs.Default) > 0 {
			_ = json.Unmarshal(fs.Default, &def)
		}
		out[i] = schema.FieldDef{Name: fs.Name, Type: fieldType, Default: def}
	}
	return out, true
}
