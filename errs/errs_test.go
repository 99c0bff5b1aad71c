package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorMessagesNameTheirKind(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"duplicate", NewDuplicateName("Person"), "already registered"},
		{"unknown", NewUnknownType("Ghost"), "is not registered"},
		{"stub conflict", NewStubConflict("Pet"), "already registered as a populated type"},
		{"unresolvable", NewUnresolvable([]string{"A", "B"}), "could not resolve 2 type(s): A, B"},
		{"index out of range", NewIndexError(5, 3), "index 5 out of range [0, 3)"},
		{"cyclic alias", NewCyclicAlias("path"), "never reaches a non-alias base"},
		{"invalid default", NewInvalidDefault("Pet", "age"), `field "age" of type "Pet"`},
		{"archive format", NewArchiveFormat("missing TTAR magic"), "missing TTAR magic"},
		{"existing output", NewExistingOutput("/tmp/db"), `"/tmp/db" already exists`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if msg := tt.err.Error(); !strings.Contains(msg, tt.want) {
				t.Errorf("Error() = %q, want it to contain %q", msg, tt.want)
			}
		})
	}
}

func TestOverflowErrorHumanizesLargeMagnitudes(t *testing.T) {
	err := NewOverflowError("int32", int64(3_000_000_000))
	if !strings.Contains(err.Error(), "3,000,000,000") {
		t.Errorf("Error() = %q, want comma-separated magnitude", err.Error())
	}
}

func TestIsComparesByKindNotIdentity(t *testing.T) {
	a := NewUnknownType("Foo")
	b := NewUnknownType("Bar")
	if !errors.Is(a, b) {
		t.Fatal("expected two UnknownType errors to match via errors.Is regardless of Name")
	}
	c := NewDuplicateName("Foo")
	if errors.Is(a, c) {
		t.Fatal("expected errors of different Kind not to match via errors.Is")
	}
}
