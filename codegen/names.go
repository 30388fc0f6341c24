package codegen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/thiremani/cexi/types"
)

// ErrNamesExhausted is returned when GenerateNames runs out of one and two
// letter identifiers.
var ErrNamesExhausted = errors.New("identifier space exhausted")

const letters = "abcdefghijklmnopqrstuvwxyz"

// GenerateNames returns count distinct short lowercase identifiers, none of
// them in exclude. Enumeration order is a..z, then aa..az, ba..bz, ... zz.
func GenerateNames(count int, exclude []string) ([]string, error) {
	if count < 0 {
		return nil, fmt.Errorf("generate %d names: negative count", count)
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		skip[e] = struct{}{}
	}

	names := make([]string, 0, min(count, len(letters)*(len(letters)+1)))
	// prefix "" yields the single letters
	prefixes := append([]string{""}, strings.Split(letters, "")...)
	for _, prefix := range prefixes {
		for _, l := range letters {
			if len(names) == count {
				return names, nil
			}
			name := prefix + string(l)
			if _, ok := skip[name]; ok {
				continue
			}
			names = append(names, name)
		}
	}
	if len(names) < count {
		return nil, fmt.Errorf("generate %d names: %w", count, ErrNamesExhausted)
	}
	return names, nil
}

// Gensym returns a fresh identifier of the form prefix_<uuid hex>_suffix.
func Gensym(prefix, suffix string) string {
	if prefix != "" {
		prefix += "_"
	}
	if suffix != "" {
		suffix = "_" + suffix
	}
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "") + suffix
}

func isLetter(ch rune) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_'
}

func isDigit(ch rune) bool {
	return '0' <= ch && ch <= '9'
}

// ValidateIdentifier checks that name can be used as a C identifier: ASCII
// letters, digits and underscore, not starting with a digit, not a keyword.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	for i, r := range name {
		switch {
		case isLetter(r):
		case isDigit(r):
			if i == 0 {
				return fmt.Errorf("identifier %q starts with a digit", name)
			}
		default:
			return fmt.Errorf("invalid character %q at position %d in identifier %q", r, i, name)
		}
	}
	if types.IsReservedName(name) {
		return fmt.Errorf("identifier %q is a C keyword", name)
	}
	return nil
}

// Capitalize upper-cases the first letter of s and lower-cases the rest.
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
