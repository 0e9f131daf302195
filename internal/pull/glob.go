package pull

import (
	"fmt"
	"regexp"
	"strings"
)

// Glob grammar accepted by Compile:
//
//	**      as a whole path segment: zero or more directories
//	*       any run of characters other than '/'
//
// When the pattern contains '|', extended syntax is enabled as well:
//
//	?       one character other than '/'
//	[...]   character class, "[!...]" negates
//	{a,b}   alternation
//	(a|b)   alternation
//	a|b     alternation of whole patterns
//
// Without '|' every other character, including ?[]{}(), matches itself.
// Matching is case-insensitive and anchored at both ends.

// globstarExpr matches zero or more whole path segments, each including its
// trailing separator (or end of input).
const globstarExpr = `((?:[^/]*(?:/|$))*)`

// starExpr matches within one segment.
const starExpr = `([^/]*)`

// Compile converts a glob into an anchored case-insensitive regular
// expression.
func Compile(pattern string) (*regexp.Regexp, error) {
	expr, err := translate(pattern)
	if err != nil {
		return nil, err
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("pull: compiling glob %q: %w", pattern, err)
	}

	return re, nil
}

// IsExtended reports whether pattern enables extended glob syntax.
func IsExtended(pattern string) bool {
	return strings.Contains(pattern, "|")
}

// HasGlobstar reports whether any path segment of pattern is "**".
func HasGlobstar(pattern string) bool {
	for _, seg := range strings.Split(pattern, "/") {
		if seg == "**" {
			return true
		}
	}

	return false
}

// groupKind records which bracket opened an alternation group.
type groupKind byte

const (
	braceGroup groupKind = '{'
	parenGroup groupKind = '('
)

func translate(pattern string) (string, error) {
	extended := IsExtended(pattern)

	var (
		b      strings.Builder
		groups []groupKind
	)

	b.WriteString("(?i)^(?:")

	for i := 0; i < len(pattern); i++ {
		c := pattern[i]

		switch {
		case c == '*':
			prev := byte(0)
			if i > 0 {
				prev = pattern[i-1]
			}

			stars := 1
			for i+1 < len(pattern) && pattern[i+1] == '*' {
				stars++
				i++
			}

			next := byte(0)
			if i+1 < len(pattern) {
				next = pattern[i+1]
			}

			if stars > 1 && (prev == 0 || prev == '/') && (next == 0 || next == '/') {
				b.WriteString(globstarExpr)
				// The globstar expression already consumes the separator.
				i++
			} else {
				b.WriteString(starExpr)
			}

		case !extended:
			b.WriteString(regexp.QuoteMeta(string(c)))

		case c == '?':
			b.WriteString("[^/]")

		case c == '[':
			end := strings.IndexByte(pattern[i+1:], ']')
			if end < 0 {
				return "", fmt.Errorf("pull: unterminated character class in %q", pattern)
			}

			class := pattern[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}

			b.WriteString("[" + class + "]")
			i += end + 1

		case c == '{' || c == '(':
			groups = append(groups, groupKind(c))
			b.WriteString("(?:")

		case c == '}' || c == ')':
			want := braceGroup
			if c == ')' {
				want = parenGroup
			}

			if len(groups) == 0 || groups[len(groups)-1] != want {
				return "", fmt.Errorf("pull: unbalanced %q in %q", c, pattern)
			}

			groups = groups[:len(groups)-1]
			b.WriteString(")")

		case c == ',' && len(groups) > 0 && groups[len(groups)-1] == braceGroup:
			b.WriteString("|")

		case c == '|':
			b.WriteString("|")

		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	if len(groups) > 0 {
		return "", fmt.Errorf("pull: unclosed group in %q", pattern)
	}

	b.WriteString(")$")

	return b.String(), nil
}
