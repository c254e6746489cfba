package core

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ajitpratap0/langhost/pkg/protocol"
)

// Keywords that introduce a named declaration.
var declarationKeywords = []string{
	"class", "struct", "interface", "enum", "record", "namespace", "delegate", "event",
}

// Words that may precede an identifier without declaring it.
var notTypes = map[string]bool{
	"return": true, "new": true, "throw": true, "await": true, "yield": true,
	"case": true, "goto": true, "using": true, "is": true, "as": true,
	"in": true, "out": true, "ref": true, "else": true, "typeof": true, "nameof": true,
}

// typedDeclaration matches "Type Name" followed by a token that ends a
// field, property, parameter or method head.
const typedDeclaration = `([A-Za-z_][\w.]*(?:<[^<>]*>)?(?:\[\])?\??)\s+(%s)\s*[({=;,)]`

// symbolAt returns the identifier touching pos.
func symbolAt(text string, pos protocol.Position) string {
	offset, err := offsetOf(text, pos)
	if err != nil {
		return ""
	}
	start, end := offset, offset
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !isIdentRune(r) {
			break
		}
		start -= size
	}
	for end < len(text) {
		r, size := utf8.DecodeRuneInString(text[end:])
		if !isIdentRune(r) {
			break
		}
		end += size
	}
	word := text[start:end]
	if word == "" || unicode.IsDigit([]rune(word)[0]) {
		return ""
	}
	return word
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// findDeclarations searches buffers for lexical declarations of symbol.
// Buffers are searched in the given order and each match is reported once.
func findDeclarations(buffers []Buffer, symbol string) []protocol.Location {
	quoted := regexp.QuoteMeta(symbol)
	keyword := regexp.MustCompile(`\b(?:` + strings.Join(declarationKeywords, "|") + `)\s+(` + quoted + `)\b`)
	typed := regexp.MustCompile(strings.Replace(typedDeclaration, "%s", quoted, 1))

	var out []protocol.Location
	for _, b := range buffers {
		seen := make(map[int]bool)
		add := func(start, end int) {
			if seen[start] {
				return
			}
			seen[start] = true
			out = append(out, protocol.Location{
				URI:   b.URI,
				Range: protocol.Range{Start: positionOf(b.Text, start), End: positionOf(b.Text, end)},
			})
		}

		masked := maskCommentsAndStrings(b.Text)
		for _, m := range keyword.FindAllStringSubmatchIndex(masked, -1) {
			add(m[2], m[3])
		}
		for _, m := range typed.FindAllStringSubmatchIndex(masked, -1) {
			if notTypes[masked[m[2]:m[3]]] {
				continue
			}
			add(m[4], m[5])
		}
	}
	return out
}
