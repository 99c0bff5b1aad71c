package storage

import (
	"os"
	"path/filepath"
	"testing"

	"typedtables/record"
	"typedtables/schema"
)

func petPersonRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()

	pet := schema.NewCompositeStub("Pet")
	if err := reg.Register(pet); err != nil {
		t.Fatalf("Register(Pet): %v", err)
	}
	pet.Populate(nil, nil, []schema.FieldDef{
		{Name: "name", Type: reg.Get("string")},
	})

	person := schema.NewCompositeStub("Person")
	if err := reg.Register(person); err != nil {
		t.Fatalf("Register(Person): %v", err)
	}
	person.Populate(nil, nil, []schema.FieldDef{
		{Name: "name", Type: reg.Get("string")},
		{Name: "pet", Type: pet},
	})
	return reg
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	mgr, err := NewManager(dir, petPersonRegistry(t), DefaultOptions())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func TestInsertAndGetCompositeRoundTrip(t *testing.T) {
	mgr := newTestManager(t)

	petIdx, err := mgr.InsertComposite("Pet", record.Value{"name": "Biscuit"})
	if err != nil {
		t.Fatalf("InsertComposite(Pet): %v", err)
	}
	personIdx, err := mgr.InsertComposite("Person", record.Value{"name": "Ada", "pet": petIdx})
	if err != nil {
		t.Fatalf("InsertComposite(Person): %v", err)
	}

	got, err := mgr.GetComposite("Person", personIdx)
	if err != nil {
		t.Fatalf("GetComposite(Person): %v", err)
	}
	if got["name"] != "Ada" {
		t.Errorf("name = %v, want Ada", got["name"])
	}
	if got["pet"] != petIdx {
		t.Errorf("pet = %v, want the bare index %d, not an embedded Pet value", got["pet"], petIdx)
	}

	pet, err := mgr.GetComposite("Pet", got["pet"].(uint32))
	if err != nil {
		t.Fatalf("GetComposite(Pet): %v", err)
	}
	if pet["name"] != "Biscuit" {
		t.Errorf("pet.name = %v, want Biscuit", pet["name"])
	}
}

func TestInsertCompositeFieldRejectsOutOfRangeIndex(t *testing.T) {
	mgr := newTestManager(t)
	if _, err := mgr.InsertComposite("Person", record.Value{"name": "Ghost", "pet": uint32(99)}); err == nil {
		t.Fatal("expected an IndexError inserting a Person whose pet index does not exist yet")
	}
}

func TestNullCompositeFieldRoundTrips(t *testing.T) {
	mgr := newTestManager(t)
	idx, err := mgr.InsertComposite("Person", record.Value{"name": "Grace", "pet": nil})
	if err != nil {
		t.Fatalf("InsertComposite: %v", err)
	}
	got, err := mgr.GetComposite("Person", idx)
	if err != nil {
		t.Fatalf("GetComposite: %v", err)
	}
	if got["pet"] != nil {
		t.Errorf("pet = %v, want nil", got["pet"])
	}
}

func TestDeleteCompositeTombstonesTheRow(t *testing.T) {
	mgr := newTestManager(t)
	idx, err := mgr.InsertComposite("Pet", record.Value{"name": "Biscuit"})
	if err != nil {
		t.Fatalf("InsertComposite: %v", err)
	}
	if err := mgr.DeleteComposite("Pet", idx); err != nil {
		t.Fatalf("DeleteComposite: %v", err)
	}
	deleted, err := mgr.IsDeletedComposite("Pet", idx)
	if err != nil {
		t.Fatalf("IsDeletedComposite: %v", err)
	}
	if !deleted {
		t.Fatal("expected the row to be tombstoned after Delete")
	}
}

func TestArrayFieldStringRoundTrip(t *testing.T) {
	reg := schema.NewRegistry()
	greeting := schema.NewCompositeStub("Greeting")
	if err := reg.Register(greeting); err != nil {
		t.Fatalf("Register: %v", err)
	}
	greeting.Populate(nil, nil, []schema.FieldDef{
		{Name: "text", Type: reg.Get("string")},
	})

	dir := filepath.Join(t.TempDir(), "db")
	mgr, err := NewManager(dir, reg, DefaultOptions())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer mgr.Close()

	idx, err := mgr.InsertComposite("Greeting", record.Value{"text": "hi"})
	if err != nil {
		t.Fatalf("InsertComposite: %v", err)
	}
	got, err := mgr.GetComposite("Greeting", idx)
	if err != nil {
		t.Fatalf("GetComposite: %v", err)
	}
	if got["text"] != "hi" {
		t.Errorf("text = %v, want hi", got["text"])
	}
}

func TestMetadataSidecarIsWrittenOnConstruction(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	mgr, err := NewManager(dir, schema.NewRegistry(), DefaultOptions())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer mgr.Close()

	if _, err := os.Stat(filepath.Join(dir, "_metadata.json")); err != nil {
		t.Fatalf("expected _metadata.json to exist after NewManager: %v", err)
	}
}
