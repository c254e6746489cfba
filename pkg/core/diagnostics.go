package core

import (
	"fmt"

	"github.com/ajitpratap0/langhost/pkg/protocol"
)

// DiagnosticSource tags diagnostics produced by the core assembly.
const DiagnosticSource = "langhost"

var closers = map[byte]byte{')': '(', ']': '[', '}': '{'}

type opener struct {
	char   byte
	offset int
}

// checkDelimiters reports unbalanced brackets, ignoring comments and
// literals.
func checkDelimiters(text string) []protocol.Diagnostic {
	masked := maskCommentsAndStrings(text)
	diagnostics := []protocol.Diagnostic{}
	var stack []opener

	for i := 0; i < len(masked); i++ {
		c := masked[i]
		switch c {
		case '(', '[', '{':
			stack = append(stack, opener{c, i})
		case ')', ']', '}':
			want := closers[c]
			if len(stack) == 0 || stack[len(stack)-1].char != want {
				diagnostics = append(diagnostics, delimiterDiagnostic(text, i, fmt.Sprintf("unexpected '%c'", c)))
				continue
			}
			stack = stack[:len(stack)-1]
		}
	}
	for _, o := range stack {
		diagnostics = append(diagnostics, delimiterDiagnostic(text, o.offset, fmt.Sprintf("unclosed '%c'", o.char)))
	}
	return diagnostics
}

func delimiterDiagnostic(text string, offset int, message string) protocol.Diagnostic {
	start := positionOf(text, offset)
	end := start
	end.Character++
	return protocol.Diagnostic{
		Range:    protocol.Range{Start: start, End: end},
		Severity: protocol.SeverityError,
		Source:   DiagnosticSource,
		Message:  message,
	}
}

// maskCommentsAndStrings blanks out comments and string and character
// literals with spaces, keeping byte offsets and newlines intact.
func maskCommentsAndStrings(text string) string {
	out := []byte(text)
	blank := func(from, to int) {
		for i := from; i < to && i < len(out); i++ {
			if out[i] != '\n' {
				out[i] = ' '
			}
		}
	}

	for i := 0; i < len(text); {
		switch {
		case hasPrefixAt(text, i, "//"):
			end := indexFrom(text, i, "\n")
			blank(i, end)
			i = end
		case hasPrefixAt(text, i, "/*"):
			end := indexFrom(text, i+2, "*/")
			if end < len(text) {
				end += 2
			}
			blank(i, end)
			i = end
		case hasPrefixAt(text, i, `@"`):
			end := verbatimEnd(text, i+2)
			blank(i, end)
			i = end
		case text[i] == '"' || text[i] == '\'':
			end := quotedEnd(text, i+1, text[i])
			blank(i, end)
			i = end
		default:
			i++
		}
	}
	return string(out)
}

func hasPrefixAt(s string, i int, prefix string) bool {
	return len(s)-i >= len(prefix) && s[i:i+len(prefix)] == prefix
}

func indexFrom(s string, from int, sub string) int {
	for i := from; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return len(s)
}

// quotedEnd returns the offset after the closing quote. Literals stop at the
// end of the line so one stray quote cannot hide the rest of a file.
func quotedEnd(s string, from int, quote byte) int {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '\n':
			return i
		case quote:
			return i + 1
		}
	}
	return len(s)
}

// verbatimEnd handles @"..." literals where "" escapes a quote.
func verbatimEnd(s string, from int) int {
	for i := from; i < len(s); i++ {
		if s[i] != '"' {
			continue
		}
		if i+1 < len(s) && s[i+1] == '"' {
			i++
			continue
		}
		return i + 1
	}
	return len(s)
}
