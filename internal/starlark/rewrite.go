package starlark

import "strings"

// Rewrite maps the $-prefixed function names of script sources onto
// Starlark identifiers: $name becomes _name and a bare $ becomes _. String
// literals and comments are left untouched.
func Rewrite(src string) string {
	if !strings.Contains(src, "$") {
		return src
	}
	var b strings.Builder
	b.Grow(len(src))

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '#':
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				end = len(src) - i
			}
			b.WriteString(src[i : i+end])
			i += end
		case c == '\'' || c == '"':
			end := stringEnd(src, i)
			b.WriteString(src[i:end])
			i = end
		case c == '$':
			b.WriteByte('_')
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// stringEnd returns the offset just past the string literal starting at i,
// or len(src) when it is unterminated.
func stringEnd(src string, i int) int {
	quote := src[i]
	delim := string(quote)
	if strings.HasPrefix(src[i:], strings.Repeat(delim, 3)) {
		delim = strings.Repeat(delim, 3)
	}
	for j := i + len(delim); j < len(src); j++ {
		switch {
		case src[j] == '\\':
			j++
		case strings.HasPrefix(src[j:], delim):
			return j + len(delim)
		case src[j] == '\n' && len(delim) == 1:
			return j
		}
	}
	return len(src)
}
