package schema

import "testing"

func TestEnumPopulateRejectsMixedVariantStyles(t *testing.T) {
	e := NewEnumStub("Bad")
	err := e.Populate([]VariantDef{
		{Name: "A", Discriminant: 0},
		{Name: "B", Discriminant: 1, Fields: []FieldDef{{Name: "x", Type: nil}}},
	}, false, "", false)
	if err == nil {
		t.Fatal("expected an error mixing a C-style variant with a tagged variant")
	}
}

func TestEnumPopulateRejectsEmptyVariantList(t *testing.T) {
	e := NewEnumStub("Empty")
	if err := e.Populate(nil, false, "", false); err == nil {
		t.Fatal("expected an error populating an enum with no variants")
	}
}

func TestEnumIsStubBeforePopulate(t *testing.T) {
	e := NewEnumStub("Color")
	if !e.IsStub() {
		t.Fatal("a freshly created enum stub should report IsStub() == true")
	}
	if err := e.Populate([]VariantDef{{Name: "Red", Discriminant: 0}}, false, "", false); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if e.IsStub() {
		t.Fatal("a populated enum should report IsStub() == false")
	}
}

func TestDiscriminantSizeFollowsDeclaredBacking(t *testing.T) {
	e := NewEnumStub("Wide")
	if err := e.Populate([]VariantDef{{Name: "A", Discriminant: 0}}, false, "uint32", true); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if got := e.DiscriminantSize(); got != 4 {
		t.Errorf("DiscriminantSize() with uint32 backing = %d, want 4", got)
	}
}

func TestDiscriminantSizeGrowsWithMaxValueWhenUnbacked(t *testing.T) {
	small := NewEnumStub("Small")
	small.Populate([]VariantDef{{Name: "A", Discriminant: 0}, {Name: "B", Discriminant: 1}}, true, "", false)
	if got := small.DiscriminantSize(); got != 1 {
		t.Errorf("DiscriminantSize() for max=1 = %d, want 1", got)
	}

	big := NewEnumStub("Big")
	big.Populate([]VariantDef{{Name: "A", Discriminant: 0}, {Name: "B", Discriminant: 70000}}, true, "", false)
	if got := big.DiscriminantSize(); got != 4 {
		t.Errorf("DiscriminantSize() for max=70000 = %d, want 4", got)
	}
}

func TestHasAssociatedValuesAndSizeBytes(t *testing.T) {
	cStyle := NewEnumStub("Direction")
	cStyle.Populate([]VariantDef{{Name: "North", Discriminant: 0}, {Name: "South", Discriminant: 1}}, true, "", false)
	if cStyle.HasAssociatedValues() {
		t.Fatal("a C-style enum should report HasAssociatedValues() == false")
	}
	if got, want := cStyle.SizeBytes(), cStyle.DiscriminantSize(); got != want {
		t.Errorf("SizeBytes() for a C-style enum = %d, want %d (discriminant only)", got, want)
	}

	tagged := NewEnumStub("Shape")
	tagged.Populate([]VariantDef{
		{Name: "circle", Discriminant: 0, Fields: []FieldDef{{Name: "radius", Type: nil}}},
		{Name: "square", Discriminant: 1, Fields: []FieldDef{{Name: "side", Type: nil}}},
	}, true, "", false)
	if !tagged.HasAssociatedValues() {
		t.Fatal("a tagged-union enum should report HasAssociatedValues() == true")
	}
	if got, want := tagged.SizeBytes(), tagged.DiscriminantSize()+CompositeReferenceSize; got != want {
		t.Errorf("SizeBytes() for a tagged enum = %d, want %d (discriminant + composite reference)", got, want)
	}
}

func TestGetVariantByDiscriminantAndByName(t *testing.T) {
	e := NewEnumStub("Status")
	e.Populate([]VariantDef{
		{Name: "Pending", Discriminant: 0},
		{Name: "Done", Discriminant: 5},
	}, true, "", false)

	v, ok := e.GetVariant("Done")
	if !ok || v.Discriminant != 5 {
		t.Fatalf("GetVariant(Done) = (%v, %v), want discriminant 5", v, ok)
	}

	byDisc, ok := e.GetVariantByDiscriminant(5)
	if !ok || byDisc.Name != "Done" {
		t.Fatalf("GetVariantByDiscriminant(5) = (%v, %v), want Done", byDisc, ok)
	}

	if _, ok := e.GetVariantByDiscriminant(99); ok {
		t.Fatal("expected GetVariantByDiscriminant to miss for an unknown discriminant")
	}
}

func TestVariantTableNameJoinsEnumAndVariant(t *testing.T) {
	if got, want := VariantTableName("Shape", "circle"), "Shape/circle"; got != want {
		t.Errorf("VariantTableName = %q, want %q", got, want)
	}
}
