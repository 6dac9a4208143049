package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Result is the outcome of evaluating a path against a rule list.
type Result int

const (
	Included Result = iota
	Excluded
)

func (r Result) String() string {
	if r == Excluded {
		return "excluded"
	}
	return "included"
}

// Rule is a single gitignore-style filter rule. Build rules with ParseRule,
// Exclude or Include; the zero value matches nothing.
type Rule struct {
	Pattern  string
	Negated  bool // re-includes a matching path
	Anchored bool // pattern starts with /
	DirOnly  bool // pattern ends with /

	// Base is the directory, relative to the walk root, of the ignore file
	// the rule came from. Rules with a Base only apply below it.
	Base []string

	re *regexp.Regexp
}

// ErrEmptyPattern is returned for a rule line with no pattern left after
// stripping markers.
var ErrEmptyPattern = errors.New("empty filter pattern")

// ParseRule parses one rule line.
//
//	!pattern   negated (re-include)
//	/pattern   anchored to the walk root
//	pattern/   directories only
//	\!, \#     literal leading ! or #
func ParseRule(line string) (Rule, error) {
	r := Rule{}
	p := line

	switch {
	case strings.HasPrefix(p, "!"):
		r.Negated = true
		p = p[1:]
	case strings.HasPrefix(p, `\!`), strings.HasPrefix(p, `\#`):
		p = p[1:]
	}

	if strings.HasSuffix(p, "/") {
		r.DirOnly = true
		p = strings.TrimRight(p, "/")
	}
	if strings.HasPrefix(p, "/") {
		r.Anchored = true
		p = strings.TrimLeft(p, "/")
	}
	if p == "" {
		return Rule{}, fmt.Errorf("%w: %q", ErrEmptyPattern, line)
	}

	re, err := compile(p, r.Anchored)
	if err != nil {
		return Rule{}, fmt.Errorf("compile pattern %q: %w", line, err)
	}
	r.Pattern = p
	r.re = re
	return r, nil
}

// Exclude builds a command-line exclude rule.
func Exclude(pattern string) (Rule, error) {
	return ParseRule(pattern)
}

// Include builds a command-line include rule: the pattern's sense is
// inverted, so later includes re-include previously excluded paths.
func Include(pattern string) (Rule, error) {
	r, err := ParseRule(pattern)
	if err != nil {
		return Rule{}, err
	}
	r.Negated = !r.Negated
	return r, nil
}

// WithBase returns a copy of r that only applies below base.
func (r Rule) WithBase(base []string) Rule {
	r.Base = append([]string(nil), base...)
	return r
}

// String renders the rule back in ignore-file syntax.
func (r Rule) String() string {
	var b strings.Builder
	if r.Negated {
		b.WriteByte('!')
	}
	if r.Anchored {
		b.WriteByte('/')
	}
	b.WriteString(r.Pattern)
	if r.DirOnly {
		b.WriteByte('/')
	}
	if len(r.Base) > 0 {
		return strings.Join(r.Base, "/") + ": " + b.String()
	}
	return b.String()
}

// Match reports whether the rule applies to path, regardless of its sense.
func (r Rule) Match(path []string, isDir bool) bool {
	if r.re == nil {
		return false
	}
	if r.DirOnly && !isDir {
		return false
	}
	if len(r.Base) > 0 {
		if len(path) <= len(r.Base) {
			return false
		}
		for i, seg := range r.Base {
			if path[i] != seg {
				return false
			}
		}
		path = path[len(r.Base):]
	}
	if len(path) == 0 {
		return false
	}
	return r.re.MatchString(strings.Join(path, "/"))
}

// Matches evaluates path against rules in order. Every matching rule
// overrides the result so far: last match wins.
func Matches(path []string, isDir bool, rules []Rule) Result {
	result := Included
	for _, r := range rules {
		if !r.Match(path, isDir) {
			continue
		}
		if r.Negated {
			result = Included
		} else {
			result = Excluded
		}
	}
	return result
}
