package types

// C keywords (C11) that can never be used as a function, slot or module name.
var reservedNames = []string{
	"auto",
	"break",
	"case",
	"char",
	"const",
	"continue",
	"default",
	"do",
	"double",
	"else",
	"enum",
	"extern",
	"float",
	"for",
	"goto",
	"if",
	"inline",
	"int",
	"long",
	"register",
	"restrict",
	"return",
	"short",
	"signed",
	"sizeof",
	"static",
	"struct",
	"switch",
	"typedef",
	"union",
	"unsigned",
	"void",
	"volatile",
	"while",
	"_Alignas",
	"_Alignof",
	"_Atomic",
	"_Bool",
	"_Complex",
	"_Generic",
	"_Imaginary",
	"_Noreturn",
	"_Static_assert",
	"_Thread_local",
}

var reservedSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(reservedNames))
	for _, t := range reservedNames {
		m[t] = struct{}{}
	}
	return m
}()

// ReservedNames returns a copy of the C keywords rejected as identifiers.
func ReservedNames() []string {
	return append([]string(nil), reservedNames...)
}

// IsReservedName reports whether name is a C keyword.
func IsReservedName(name string) bool {
	_, ok := reservedSet[name]
	return ok
}
