package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/bamsammich/ferry/internal/backend"
	"github.com/bamsammich/ferry/internal/uri"
)

// ErrNoMatch is returned when a source pattern matches nothing.
var ErrNoMatch = errors.New("no matches found")

// HasGlobMeta reports whether any segment of u contains glob syntax.
func HasGlobMeta(u uri.URI) bool {
	for _, s := range u.Segments {
		if segmentHasMeta(s) {
			return true
		}
	}
	return false
}

func segmentHasMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// ExpandGlob returns the URIs matching the wildcard segments of u, sorted.
// A URI without wildcards is returned unchanged. Hidden entries only match
// segments that themselves start with ".". A "**" segment matches any
// number of directories.
func ExpandGlob(ctx context.Context, b backend.Backend, u uri.URI) ([]uri.URI, error) {
	first := -1
	for i, s := range u.Segments {
		if segmentHasMeta(s) {
			first = i
			break
		}
	}
	if first < 0 {
		return []uri.URI{u}, nil
	}
	pattern := strings.Join(u.Segments[first:], "/")
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%s: %w", u, doublestar.ErrBadPattern)
	}

	base := uri.URI{Scheme: u.Scheme, Authority: u.Authority, Segments: u.Segments[:first]}.Join()
	var (
		matches []uri.URI
		err     error
	)
	if strings.Contains(pattern, "**") {
		matches, err = globRecursive(ctx, b, base, pattern)
	} else {
		matches, err = globLevels(ctx, b, base, u.Segments[first:])
	}
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%s: %w", u, ErrNoMatch)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].String() < matches[j].String() })
	for i := range matches {
		matches[i] = matches[i].WithTrailingSlash(u.TrailingSlash)
	}
	return matches, nil
}

// globLevels matches one pattern segment per directory level.
func globLevels(ctx context.Context, b backend.Backend, base uri.URI, segs []string) ([]uri.URI, error) {
	candidates := []uri.URI{base}
	for _, seg := range segs {
		var next []uri.URI
		for _, c := range candidates {
			if !segmentHasMeta(seg) {
				child := c.Join(seg)
				if _, err := b.Stat(ctx, child); err == nil {
					next = append(next, child)
				} else if !errors.Is(err, backend.ErrNotFound) {
					return nil, err
				}
				continue
			}
			entries, err := backend.ListAll(ctx, b, c)
			if errors.Is(err, backend.ErrNotFound) || errors.Is(err, backend.ErrNotDirectory) {
				continue
			}
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if e.IsHidden && !strings.HasPrefix(seg, ".") {
					continue
				}
				if ok, _ := doublestar.Match(seg, e.URI.Base()); ok {
					next = append(next, e.URI)
				}
			}
		}
		candidates = next
		if len(candidates) == 0 {
			break
		}
	}
	return candidates, nil
}

// globRecursive walks everything under base and matches the path below it
// against pattern.
func globRecursive(ctx context.Context, b backend.Backend, base uri.URI, pattern string) ([]uri.URI, error) {
	var matches []uri.URI
	hidden := strings.Contains("/"+pattern, "/.")
	stack := []uri.URI{base}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := backend.ListAll(ctx, b, dir)
		if errors.Is(err, backend.ErrNotFound) || errors.Is(err, backend.ErrNotDirectory) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsHidden && !hidden {
				continue
			}
			rel, _ := e.URI.Rel(base)
			if ok, _ := doublestar.Match(pattern, strings.Join(rel, "/")); ok {
				matches = append(matches, e.URI)
			}
			if e.IsDir() {
				stack = append(stack, e.URI)
			}
		}
	}
	return matches, nil
}
