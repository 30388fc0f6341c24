package codegen

import "strings"

var escapes = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\t", `\t`,
	"\r", `\r`,
)

// Escape makes s safe inside a C string literal.
func Escape(s string) string {
	return escapes.Replace(s)
}

// Quote returns s as a C string literal, or NULL for the empty string.
func Quote(s string) string {
	if s == "" {
		return "NULL"
	}
	return `"` + Escape(s) + `"`
}

// dedent strips blank leading and trailing lines and the common leading
// whitespace of the remaining ones.
func dedent(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}

	prefix := ""
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lead := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			prefix = lead
			first = false
			continue
		}
		for !strings.HasPrefix(lead, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ""
			continue
		}
		lines[i] = strings.TrimRight(strings.TrimPrefix(line, prefix), " \t")
	}
	return strings.Join(lines, "\n")
}

// indent dedents body and indents every non-empty line by one tab stop.
func indent(body string) string {
	lines := strings.Split(dedent(body), "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = tab + line
		}
	}
	return strings.Join(lines, "\n")
}

const tab = "    "
