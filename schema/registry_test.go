package schema

import "testing"

func TestRegistryBuiltinsPreregistered(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"uint8", "int64", "float64", "string", "boolean", "path", "bigint", "biguint", "fraction"} {
		if r.Get(name) == nil {
			t.Errorf("expected built-in %q to be pre-registered", name)
		}
	}
}

func TestRegisterStubThenPopulateCyclicTypes(t *testing.T) {
	r := NewRegistry()

	nodeStub, err := r.RegisterStub("Node")
	if err != nil {
		t.Fatalf("RegisterStub(Node): %v", err)
	}
	if !r.IsStub("Node") {
		t.Fatal("Node should be a stub before Populate")
	}

	nodeStub.Populate(nil, nil, []FieldDef{
		{Name: "value", Type: r.Get("int32")},
		{Name: "next", Type: nodeStub}, // self-reference
	})
	if r.IsStub("Node") {
		t.Fatal("Node should no longer be a stub after Populate")
	}
	if field, ok := nodeStub.GetField("next"); !ok || field.Type != nodeStub {
		t.Fatal("expected Node.next to resolve back to the same stub pointer")
	}
}

func TestRegisterStubConflictsWithPopulatedType(t *testing.T) {
	r := NewRegistry()
	stub, err := r.RegisterStub("Pet")
	if err != nil {
		t.Fatalf("RegisterStub: %v", err)
	}
	stub.Populate(nil, nil, []FieldDef{{Name: "name", Type: r.Get("string")}})

	if _, err := r.RegisterStub("Pet"); err == nil {
		t.Fatal("expected RegisterStub to fail once Pet is populated")
	}
}

func TestRegisterDuplicateNameRejected(t *testing.T) {
	r := NewRegistry()
	a := NewCompositeStub("Dup")
	if err := r.Register(a); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	a.Populate(nil, nil, []FieldDef{{Name: "x", Type: r.Get("int32")}})

	b := NewCompositeStub("Dup")
	b.Populate(nil, nil, []FieldDef{{Name: "y", Type: r.Get("int32")}})
	if err := r.Register(b); err == nil {
		t.Fatal("expected DuplicateName registering a second populated type under the same name")
	}
}

func TestGetArrayTypeIsASingletonPerElement(t *testing.T) {
	r := NewRegistry()
	a, err := r.GetArrayType("int32")
	if err != nil {
		t.Fatalf("GetArrayType: %v", err)
	}
	b, err := r.GetArrayType("int32")
	if err != nil {
		t.Fatalf("GetArrayType (second call): %v", err)
	}
	if a != b {
		t.Fatal("expected GetArrayType to return the same *ArrayDef pointer for repeated calls")
	}
	if a.Name() != "int32[]" {
		t.Errorf("array type name = %q, want %q", a.Name(), "int32[]")
	}
}

func TestGetArrayTypeUnknownElement(t *testing.T) {
	r := NewRegistry()
	if _, err := r.GetArrayType("NoSuchType"); err == nil {
		t.Fatal("expected an error for an array of an unregistered element type")
	}
}

func TestTypeIDAssignmentIsStableAndPersists(t *testing.T) {
	r := NewRegistry()
	id1 := r.GetTypeID("Person")
	id2 := r.GetTypeID("Pet")
	if id1 == id2 {
		t.Fatal("expected distinct type IDs for distinct names")
	}
	if got := r.GetTypeID("Person"); got != id1 {
		t.Fatalf("GetTypeID(Person) on second call = %d, want %d", got, id1)
	}

	name, ok := r.GetTypeNameByID(id1)
	if !ok || name != "Person" {
		t.Fatalf("GetTypeNameByID(%d) = (%q, %v), want (Person, true)", id1, name, ok)
	}

	saved := r.TypeIDs()
	r2 := NewRegistry()
	r2.RestoreTypeIDs(saved)
	if got := r2.GetTypeID("Person"); got != id1 {
		t.Fatalf("after RestoreTypeIDs, GetTypeID(Person) = %d, want %d", got, id1)
	}
	// A brand new name assigned after restore must not collide with a
	// restored id.
	newID := r2.GetTypeID("NewType")
	if newID == id1 || newID == id2 {
		t.Fatalf("new type id %d collides with a restored id", newID)
	}
}

func TestListTypesIsSortedAndIncludesUserTypes(t *testing.T) {
	r := NewRegistry()
	stub := NewCompositeStub("Zebra")
	if err := r.Register(stub); err != nil {
		t.Fatalf("Register: %v", err)
	}
	stub.Populate(nil, nil, nil)

	names := r.ListTypes()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("ListTypes not sorted: %q came before %q", names[i-1], names[i])
		}
	}
	found := false
	for _, n := range names {
		if n == "Zebra" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected Zebra in ListTypes")
	}
}
