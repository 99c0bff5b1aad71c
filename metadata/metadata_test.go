package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"typedtables/schema"
)

func TestSaveLoadRoundTripsPlainComposites(t *testing.T) {
	src := schema.NewRegistry()
	pet := schema.NewCompositeStub("Pet")
	if err := src.Register(pet); err != nil {
		t.Fatalf("Register(Pet): %v", err)
	}
	pet.Populate(nil, nil, []schema.FieldDef{
		{Name: "name", Type: src.Get("string")},
		{Name: "age", Type: src.Get("uint8")},
	})
	src.GetTypeID("Pet")

	dir := t.TempDir()
	if err := Save(dir, src); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		t.Fatalf("expected %s to exist after Save: %v", FileName, err)
	}

	dst := schema.NewRegistry()
	if err := Load(dir, dst); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got, ok := dst.Get("Pet").(*schema.CompositeDef)
	if !ok {
		t.Fatalf("Pet did not resolve to a *CompositeDef after Load: %T", dst.Get("Pet"))
	}
	if got.IsStub() {
		t.Fatal("Pet should be fully populated after Load, not left as a stub")
	}
	if len(got.Fields) != 2 {
		t.Fatalf("Pet has %d fields after Load, want 2", len(got.Fields))
	}

	srcID := src.GetTypeID("Pet")
	dstID := dst.GetTypeID("Pet")
	if srcID != dstID {
		t.Errorf("Pet type_id = %d after Load, want the persisted %d", dstID, srcID)
	}
}

// TestSaveLoadRoundTripsCyclicComposites exercises the two-phase
// stub-then-resolve protocol against a self-referential composite: a Node
// whose own "next" field points back at Node itself. A single top-down pass
// could never resolve this (Node depends on Node), so Load must register a
// stub before it can satisfy the field reference.
func TestSaveLoadRoundTripsCyclicComposites(t *testing.T) {
	src := schema.NewRegistry()
	node, err := src.RegisterStub("Node")
	if err != nil {
		t.Fatalf("RegisterStub(Node): %v", err)
	}
	node.Populate(nil, nil, []schema.FieldDef{
		{Name: "value", Type: src.Get("int32")},
		{Name: "next", Type: node},
	})

	dir := t.TempDir()
	if err := Save(dir, src); err != nil {
		t.Fatalf("Save: %v", err)
	}

	dst := schema.NewRegistry()
	if err := Load(dir, dst); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got, ok := dst.Get("Node").(*schema.CompositeDef)
	if !ok {
		t.Fatalf("Node did not resolve to a *CompositeDef after Load: %T", dst.Get("Node"))
	}
	if got.IsStub() {
		t.Fatal("Node should be fully populated after Load, not left as a stub")
	}
	next, ok := got.GetField("next")
	if !ok {
		t.Fatal("Node.next field missing after Load")
	}
	if next.Type != schema.Def(got) {
		t.Errorf("Node.next should refer back to the same Node definition, got %v", next.Type)
	}
}

func TestLoadFailsOnGenuinelyUnresolvableTypes(t *testing.T) {
	dir := t.TempDir()
	// A malformed metadata file naming a field type that doesn't exist and
	// is never defined anywhere in the file: no amount of retrying can ever
	// resolve it, so Load must give up and report it rather than loop.
	bad := `{"types":{"Broken":{"kind":"composite","fields":[{"name":"x","type":"NoSuchType"}]}},"type_ids":{}}`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(bad), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	dst := schema.NewRegistry()
	if err := Load(dir, dst); err == nil {
		t.Fatal("expected Load to report an unresolvable type, not succeed")
	}
}
