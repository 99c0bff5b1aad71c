package schema

import "testing"

func TestBuildCompositeFieldsMergesParentThenInterfacesThenOwn(t *testing.T) {
	r := NewRegistry()

	parent := NewCompositeStub("Animal")
	parent.Populate(nil, nil, []FieldDef{{Name: "name", Type: r.Get("string")}})

	iface := NewInterfaceStub("Aged")
	iface.Populate(nil, []FieldDef{{Name: "age", Type: r.Get("uint8")}})

	fields, err := BuildCompositeFields("Dog", parent, []*InterfaceDef{iface}, []FieldDef{
		{Name: "breed", Type: r.Get("string")},
	})
	if err != nil {
		t.Fatalf("BuildCompositeFields: %v", err)
	}
	want := []string{"name", "age", "breed"}
	if len(fields) != len(want) {
		t.Fatalf("got %d fields, want %d", len(fields), len(want))
	}
	for i, name := range want {
		if fields[i].Name != name {
			t.Errorf("field[%d] = %q, want %q", i, fields[i].Name, name)
		}
	}
}

func TestBuildCompositeFieldsConflictingTypesFail(t *testing.T) {
	r := NewRegistry()

	ifaceA := NewInterfaceStub("HasID")
	ifaceA.Populate(nil, []FieldDef{{Name: "id", Type: r.Get("uint32")}})
	ifaceB := NewInterfaceStub("HasIDString")
	ifaceB.Populate(nil, []FieldDef{{Name: "id", Type: r.Get("string")}})

	_, err := BuildCompositeFields("Bad", nil, []*InterfaceDef{ifaceA, ifaceB}, nil)
	if err == nil {
		t.Fatal("expected a FieldConflict error when two interfaces disagree on a field's type")
	}
}

func TestBuildCompositeFieldsDiamondInheritanceCollapses(t *testing.T) {
	r := NewRegistry()

	base := NewInterfaceStub("Named")
	base.Populate(nil, []FieldDef{{Name: "name", Type: r.Get("string")}})

	left := NewInterfaceStub("Left")
	left.Populate([]string{"Named"}, []FieldDef{{Name: "name", Type: r.Get("string")}})
	right := NewInterfaceStub("Right")
	right.Populate([]string{"Named"}, []FieldDef{{Name: "name", Type: r.Get("string")}})

	fields, err := BuildCompositeFields("Diamond", nil, []*InterfaceDef{left, right}, nil)
	if err != nil {
		t.Fatalf("BuildCompositeFields: %v", err)
	}
	if len(fields) != 1 {
		t.Fatalf("expected diamond-inherited identical field to collapse to one, got %d", len(fields))
	}
}

func TestNullBitmapSizeAndSizeBytes(t *testing.T) {
	r := NewRegistry()
	c := NewCompositeStub("Eight")
	fields := make([]FieldDef, 9)
	for i := range fields {
		fields[i] = FieldDef{Name: string(rune('a' + i)), Type: r.Get("uint8")}
	}
	c.Populate(nil, nil, fields)

	if got := c.NullBitmapSize(); got != 2 {
		t.Errorf("NullBitmapSize() for 9 fields = %d, want 2 (ceil(9/8))", got)
	}
	if got, want := c.SizeBytes(), 2+9; got != want {
		t.Errorf("SizeBytes() = %d, want %d", got, want)
	}
}

func TestGetFieldOffsetAccountsForBitmapAndPriorFields(t *testing.T) {
	r := NewRegistry()
	c := NewCompositeStub("Mixed")
	c.Populate(nil, nil, []FieldDef{
		{Name: "a", Type: r.Get("uint8")},  // 1 byte
		{Name: "b", Type: r.Get("int32")},  // 4 bytes
		{Name: "c", Type: r.Get("uint8")},
	})
	bitmap := c.NullBitmapSize()

	off, err := c.GetFieldOffset("b")
	if err != nil {
		t.Fatalf("GetFieldOffset: %v", err)
	}
	if want := bitmap + 1; off != want {
		t.Errorf("offset of b = %d, want %d", off, want)
	}

	if _, err := c.GetFieldOffset("nope"); err == nil {
		t.Fatal("expected an error looking up a nonexistent field")
	}
}

func TestIsStub(t *testing.T) {
	c := NewCompositeStub("Empty")
	if !c.IsStub() {
		t.Fatal("a freshly created stub should report IsStub() == true")
	}
	c.Populate(nil, nil, []FieldDef{{Name: "x", Type: nil}})
	if c.IsStub() {
		t.Fatal("a populated composite should report IsStub() == false")
	}
}
