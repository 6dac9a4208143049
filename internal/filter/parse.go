package filter

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ParseIgnoreFile reads gitignore-style rules from r. Every rule gets base
// as its Base.
// Format:
//
//	pattern    exclude
//	!pattern   re-include
//	# comment  skip
//	blank line skip
//
// Trailing spaces are trimmed unless escaped with a backslash.
func ParseIgnoreFile(r io.Reader, base []string) ([]Rule, error) {
	var rules []Rule
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := trimTrailingSpace(strings.TrimSuffix(scanner.Text(), "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rule, err := ParseRule(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if len(base) > 0 {
			rule = rule.WithBase(base)
		}
		rules = append(rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ignore file: %w", err)
	}
	return rules, nil
}

func trimTrailingSpace(line string) string {
	end := len(line)
	for end > 0 && line[end-1] == ' ' {
		if end > 1 && line[end-2] == '\\' {
			break
		}
		end--
	}
	return line[:end]
}
