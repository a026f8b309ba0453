package jsexec

import "strings"

var statementPrefixes = []string{
	"const ", "let ", "var ", "if ", "for ", "while ", "function ", "class ", "try ",
}

var expressionPrefixes = []string{"await ", "(", "JSON.", "{", "["}

// Prepare turns a raw snippet into a function body whose value is the
// snippet's value. Single expressions gain a leading return; multi-statement
// bodies pass through verbatim, so their value is whatever they return
// explicitly. Prepare never fails; it only decides whether to prepend return.
func Prepare(script string) string {
	trimmed := strings.TrimSpace(script)
	if strings.HasPrefix(trimmed, "return ") {
		return script
	}

	if looksLikeExpression(trimmed) || !isMultiStatement(trimmed) {
		return "return " + trimmed
	}
	return script
}

// IsAsync reports whether the snippet needs an async wrapper.
func IsAsync(script string) bool {
	return strings.Contains(script, "await ") || strings.Contains(script, ".then(")
}

func isMultiStatement(s string) bool {
	// One trailing semicolon does not make a statement list.
	if strings.Contains(strings.TrimSuffix(s, ";"), ";") {
		return true
	}
	for _, p := range statementPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func looksLikeExpression(s string) bool {
	for _, p := range expressionPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	// IIFE: (() => ...)()
	return strings.HasSuffix(s, ")()")
}
