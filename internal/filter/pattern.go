package filter

import (
	"regexp"
	"strings"
)

// compile converts a glob pattern (already stripped of its !, leading / and
// trailing / markers) into a regular expression over slash-joined paths.
func compile(pattern string, anchored bool) (*regexp.Regexp, error) {
	reStr := globToRegex(pattern)
	if anchored {
		// Match the whole path from the walk root.
		reStr = "^" + reStr + "$"
	} else {
		// Match the path or any suffix of whole segments.
		reStr = "(^|/)" + reStr + "$"
	}
	return regexp.Compile(reStr)
}

// globToRegex converts a glob pattern to a regex string.
//
//	*      any run of characters except /
//	?      one character except /
//	[...]  character class, [!...] negates; never matches /
//	**/    zero or more leading segments
//	/**/   zero or more middle segments
//	/**    everything below (trailing)
//	\x     literal x
//
//nolint:gocyclo,revive // cognitive-complexity: character-by-character glob parser
func globToRegex(pattern string) string {
	var b strings.Builder
	i := 0
	for i < len(pattern) {
		c := pattern[i]
		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					b.WriteString("(.*/)?")
					i += 3
				} else {
					b.WriteString(".*")
					i += 2
				}
			} else {
				b.WriteString("[^/]*")
				i++
			}
		case '?':
			b.WriteString("[^/]")
			i++
		case '[':
			j := i + 1
			if j < len(pattern) && pattern[j] == '!' {
				j++
			}
			if j < len(pattern) && pattern[j] == ']' {
				j++
			}
			for j < len(pattern) && pattern[j] != ']' {
				j++
			}
			if j >= len(pattern) {
				// Unterminated class is a literal bracket.
				b.WriteString(`\[`)
				i++
				continue
			}
			b.WriteString(classToRegex(pattern[i+1 : j]))
			i = j + 1
		case '\\':
			if i+1 < len(pattern) {
				b.WriteString(regexp.QuoteMeta(pattern[i+1 : i+2]))
				i += 2
			} else {
				b.WriteString(`\\`)
				i++
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}
	return b.String()
}

func classToRegex(cls string) string {
	negate := strings.HasPrefix(cls, "!")
	if negate {
		cls = cls[1:]
	}
	var b strings.Builder
	b.WriteByte('[')
	if negate {
		// A negated class must still never cross a segment boundary.
		b.WriteString("^/")
	}
	for k := 0; k < len(cls); k++ {
		switch ch := cls[k]; ch {
		case '\\', '[', ']', '^':
			b.WriteByte('\\')
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
		}
	}
	b.WriteByte(']')
	return b.String()
}
