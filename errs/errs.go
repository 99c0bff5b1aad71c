// Package errs defines the error taxonomy shared by every layer of the
// typed table store: the type registry, the record codec, the column and
// element tables, the metadata codec and the compactor.
package errs

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/kr/pretty"
)

// Kind identifies the taxonomic category of an Error. Callers that need to
// branch on error category should compare against these constants rather
// than parsing messages.
type Kind string

const (
	DuplicateName     Kind = "DuplicateName"
	UnknownType       Kind = "UnknownType"
	StubConflict      Kind = "StubConflict"
	FieldConflictKind Kind = "FieldConflict"
	Unresolvable      Kind = "UnresolvableTypes"
	IndexOutOfRange   Kind = "IndexError"
	Overflow          Kind = "OverflowError"
	CyclicAliasKind   Kind = "CyclicAlias"
	InvalidEnumKind   Kind = "InvalidEnum"
	InvalidDefault    Kind = "InvalidDefault"
	ArchiveFormat     Kind = "ArchiveFormat"
	ExistingOutput    Kind = "ExistingOutput"
)

// Error is the single error type used across the store. Every constructor
// below fills in the fields relevant to its Kind; unused fields are left
// zero.
type Error struct {
	Kind Kind

	// Name-bearing kinds: DuplicateName, UnknownType, StubConflict,
	// CyclicAlias, InvalidDefault (type), ExistingOutput (path).
	Name string

	// FieldConflict
	Owner    string
	Field    string
	TypeA    any
	TypeB    any

	// UnresolvableTypes
	Names []string

	// IndexError
	Index int
	Count int

	// OverflowError
	TypeName string
	Value    any

	// ArchiveFormat
	Reason string
}

func (e *Error) Error() string {
	switch e.Kind {
	case DuplicateName:
		return fmt.Sprintf("%s: type %q is already registered", e.Kind, e.Name)
	case UnknownType:
		return fmt.Sprintf("%s: type %q is not registered", e.Kind, e.Name)
	case StubConflict:
		return fmt.Sprintf("%s: %q is already registered as a populated type of another kind", e.Kind, e.Name)
	case FieldConflictKind:
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s: field %q on %q disagrees between inherited sources\n", e.Kind, e.Field, e.Owner)
		fmt.Fprintf(&sb, "  a: %s\n", pretty.Sprint(e.TypeA))
		fmt.Fprintf(&sb, "  b: %s", pretty.Sprint(e.TypeB))
		return sb.String()
	case Unresolvable:
		return fmt.Sprintf("%s: could not resolve %d type(s): %s", e.Kind, len(e.Names), strings.Join(e.Names, ", "))
	case IndexOutOfRange:
		return fmt.Sprintf("%s: index %d out of range [0, %d)", e.Kind, e.Index, e.Count)
	case Overflow:
		return fmt.Sprintf("%s: value %v does not fit in %s", e.Kind, e.Value, e.TypeName)
	case CyclicAliasKind:
		return fmt.Sprintf("%s: alias chain starting at %q never reaches a non-alias base", e.Kind, e.Name)
	case InvalidEnumKind:
		if e.Reason != "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
		}
		return string(e.Kind)
	case InvalidDefault:
		return fmt.Sprintf("%s: default value for field %q of type %q is incompatible with its resolved type", e.Kind, e.Field, e.Name)
	case ArchiveFormat:
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case ExistingOutput:
		return fmt.Sprintf("%s: destination %q already exists", e.Kind, e.Name)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
}

// Is lets callers use errors.Is(err, errs.DuplicateName) style checks by
// comparing Kind, following the pattern of comparable sentinel matching
// without requiring exact pointer identity.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func NewDuplicateName(name string) *Error {
	return &Error{Kind: DuplicateName, Name: name}
}

func NewUnknownType(name string) *Error {
	return &Error{Kind: UnknownType, Name: name}
}

func NewStubConflict(name string) *Error {
	return &Error{Kind: StubConflict, Name: name}
}

func NewFieldConflict(owner, field string, typeA, typeB any) *Error {
	return &Error{Kind: FieldConflictKind, Owner: owner, Field: field, TypeA: typeA, TypeB: typeB}
}

func NewUnresolvable(names []string) *Error {
	return &Error{Kind: Unresolvable, Names: names}
}

func NewIndexError(index, count int) *Error {
	return &Error{Kind: IndexOutOfRange, Index: index, Count: count}
}

// NewOverflowError reports a value that does not fit its primitive type.
// int, int32 and int64 values are rendered with comma grouping via humanize;
// any other value (such as a bigint's decimal string) is kept as given.
func NewOverflowError(typeName string, value any) *Error {
	msg := value
	if n, ok := toInt64(value); ok {
		msg = humanize.Comma(n)
	}
	return &Error{Kind: Overflow, TypeName: typeName, Value: msg}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	default:
		return 0, false
	}
}

func NewCyclicAlias(name string) *Error {
	return &Error{Kind: CyclicAliasKind, Name: name}
}

func NewInvalidEnum(reason string) *Error {
	return &Error{Kind: InvalidEnumKind, Reason: reason}
}

func NewInvalidDefault(typeName, field string) *Error {
	return &Error{Kind: InvalidDefault, Name: typeName, Field: field}
}

func NewArchiveFormat(reason string) *Error {
	return &Error{Kind: ArchiveFormat, Reason: reason}
}

func NewExistingOutput(path string) *Error {
	return &Error{Kind: ExistingOutput, Name: path}
}
