package llmjson

import "strings"

// Repair rewrites almost-JSON into something encoding/json accepts. It starts
// at the first '{', stops after the matching '}' (dropping any trailing
// commentary), removes trailing commas, maps Python literals, and closes
// whatever strings and brackets are still open at the end of input. The
// boolean is false when the input holds no '{'.
func Repair(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	s = s[start:]

	var (
		out      strings.Builder
		stack    []byte
		inString bool
		escaped  bool
	)
	out.Grow(len(s) + 8)

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			case c == '\n':
				out.WriteString(`\n`)
				continue
			case c == '\r' || c == '\t':
				out.WriteByte(' ')
				continue
			}
			out.WriteByte(c)
			continue
		}

		switch c {
		case '"':
			inString = true
			out.WriteByte(c)
		case '{':
			stack = append(stack, '}')
			out.WriteByte(c)
		case '[':
			stack = append(stack, ']')
			out.WriteByte(c)
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				continue
			}
			trimTrailingComma(&out)
			stack = stack[:len(stack)-1]
			out.WriteByte(c)
			if len(stack) == 0 {
				return out.String(), true
			}
		default:
			if lit, n := pythonLiteral(s[i:]); n > 0 {
				out.WriteString(lit)
				i += n - 1
				continue
			}
			out.WriteByte(c)
		}
	}

	if inString {
		if escaped {
			// A dangling backslash would escape the closing quote.
			str := out.String()
			out.Reset()
			out.WriteString(str[:len(str)-1])
		}
		out.WriteByte('"')
	}
	trimDanglingSeparator(&out)
	for i := len(stack) - 1; i >= 0; i-- {
		trimTrailingComma(&out)
		out.WriteByte(stack[i])
	}
	return out.String(), true
}

var pythonLiterals = []struct{ from, to string }{
	{"True", "true"},
	{"False", "false"},
	{"None", "null"},
}

func pythonLiteral(s string) (string, int) {
	for _, l := range pythonLiterals {
		if strings.HasPrefix(s, l.from) && (len(s) == len(l.from) || !isIdentByte(s[len(l.from)])) {
			return l.to, len(l.from)
		}
	}
	return "", 0
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func trimTrailingComma(b *strings.Builder) {
	s := strings.TrimRight(b.String(), " \t\r\n")
	if strings.HasSuffix(s, ",") {
		s = s[:len(s)-1]
	}
	b.Reset()
	b.WriteString(s)
}

// trimDanglingSeparator drops an incomplete trailing member such as `"key":`
// or `"key"` left behind by truncated output.
func trimDanglingSeparator(b *strings.Builder) {
	s := strings.TrimRight(b.String(), " \t\r\n")
	if strings.HasSuffix(s, ":") {
		s = strings.TrimRight(s[:len(s)-1], " \t\r\n")
		s = dropTrailingString(s)
	} else if strings.HasSuffix(s, `"`) && keyPosition(s) {
		s = dropTrailingString(s)
	}
	b.Reset()
	b.WriteString(s)
}

// keyPosition reports whether the string literal ending s sits where an
// object key is expected, i.e. it is preceded by '{' or ','  inside an object.
func keyPosition(s string) bool {
	open := lastStringStart(s)
	if open < 0 {
		return false
	}
	before := strings.TrimRight(s[:open], " \t\r\n")
	if before == "" {
		return false
	}
	last := before[len(before)-1]
	if last == '{' {
		return true
	}
	if last != ',' {
		return false
	}
	return innermostOpen(before) == '{'
}

func dropTrailingString(s string) string {
	open := lastStringStart(s)
	if open < 0 {
		return s
	}
	return strings.TrimRight(s[:open], " \t\r\n")
}

// lastStringStart returns the index of the opening quote of the string
// literal that ends s.
func lastStringStart(s string) int {
	if !strings.HasSuffix(s, `"`) {
		return -1
	}
	for i := len(s) - 2; i >= 0; i-- {
		if s[i] != '"' {
			continue
		}
		bs := 0
		for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
			bs++
		}
		if bs%2 == 0 {
			return i
		}
	}
	return -1
}

func innermostOpen(s string) byte {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 {
		return 0
	}
	return stack[len(stack)-1]
}
