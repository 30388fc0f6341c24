// Package types maps authored type names onto the C declarations and the
// argument format codes understood by the cexi runtime (cx_parse_tuple,
// cx_build_value and cx_call_function).
package types

import (
	"fmt"
	"strings"
)

// Name is an authored type name, the vocabulary used in signatures.
type Name string

const (
	Bool       Name = "bool"
	Char       Name = "char"
	Str        Name = "str"
	Byte       Name = "byte"
	Short      Name = "short"
	Int        Name = "int"
	Size       Name = "size"
	SSize      Name = "ssize"
	PSize      Name = "psize"
	Float      Name = "float"
	Double     Name = "double"
	Void       Name = "void"
	Long       Name = "long"
	LongLong   Name = "longlong"
	LongDouble Name = "ldouble"
	U8         Name = "u8"
	U16        Name = "u16"
	U32        Name = "u32"
	U64        Name = "u64"
	U128       Name = "u128"
	Object     Name = "object"
	None       Name = "none"

	// Unannotated is used when the author gave no type at all. It falls back
	// to the generic object mapping.
	Unannotated Name = ""
)

// TypeEntry is one row of the table. Format is empty for types that can not
// take part in a positional unpack or pack list.
type TypeEntry struct {
	Name   Name
	Decl   string
	Format string
}

var table = []TypeEntry{
	// basic
	{Bool, "_Bool", "p"},
	{Char, "char", "c"},
	{Str, "const char *", "s"},
	{Byte, "char", ""},
	{Short, "short", "h"},
	{Int, "int", "i"},
	{Size, "size_t", ""},
	{SSize, "ssize_t", ""},
	{PSize, "cx_ssize_t", "n"},
	{Float, "float", "f"},
	{Double, "double", "d"},
	{Void, "void", ""},

	// long
	{Long, "long", "l"},
	{LongLong, "long long", "L"},
	{LongDouble, "long double", ""},

	// unsigned
	{U8, "unsigned char", "b"},
	{U16, "unsigned short", "H"},
	{U32, "unsigned int", "I"},
	{U64, "unsigned long", "k"},
	{U128, "unsigned long long", "K"},

	// runtime objects
	{Object, "cx_object*", "O"},
	{Unannotated, "cx_object*", "O"},
	{None, "void", ""},
}

var byName = func() map[Name]TypeEntry {
	m := make(map[Name]TypeEntry, len(table))
	for _, e := range table {
		if _, dup := m[e.Name]; dup {
			panic(fmt.Sprintf("types: duplicate table entry %q", e.Name))
		}
		m[e.Name] = e
	}
	return m
}()

// LookupError reports a type missing from the table, or a type that has no
// format code when one was required.
type LookupError struct {
	Name   Name
	Format bool
}

func (e *LookupError) Error() string {
	if e.Format {
		return fmt.Sprintf("type %q has no argument format code", string(e.Name))
	}
	return fmt.Sprintf("unknown type %q", string(e.Name))
}

// Entries returns a copy of the table in declaration order.
func Entries() []TypeEntry {
	return append([]TypeEntry(nil), table...)
}

// Lookup returns the table row for name.
func Lookup(name Name) (TypeEntry, bool) {
	e, ok := byName[name]
	return e, ok
}

// ToDeclaration returns the C declaration string for name.
func ToDeclaration(name Name) (string, error) {
	e, ok := byName[name]
	if !ok {
		return "", &LookupError{Name: name}
	}
	return e.Decl, nil
}

// ToFormat returns the single format code for name.
func ToFormat(name Name) (string, error) {
	e, ok := byName[name]
	if !ok {
		return "", &LookupError{Name: name}
	}
	if e.Format == "" {
		return "", &LookupError{Name: name, Format: true}
	}
	return e.Format, nil
}

// Declarations maps names to their declarations, preserving order.
func Declarations(names []Name) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, n := range names {
		d, err := ToDeclaration(n)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Formats maps names to their format codes, preserving order.
func Formats(names []Name) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, n := range names {
		f, err := ToFormat(n)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// FormatString concatenates the format codes of names.
func FormatString(names []Name) (string, error) {
	codes, err := Formats(names)
	if err != nil {
		return "", err
	}
	return strings.Join(codes, ""), nil
}

// IsObject reports whether name maps to the generic runtime object.
func IsObject(name Name) bool {
	return name == Object || name == Unannotated
}

// IsVoid reports whether name declares no value.
func IsVoid(name Name) bool {
	return name == Void || name == None
}

// Pointer returns the declaration of a pointer to decl, as used for the
// output parameters of dispatch stubs.
func Pointer(decl string) string {
	return decl + "*"
}
