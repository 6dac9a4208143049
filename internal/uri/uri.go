package uri

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Scheme identifies the address space a URI belongs to.
type Scheme int

const (
	Local Scheme = iota + 1
	Storage
	Blob
)

var schemeNames = [...]string{
	Local:   "file",
	Storage: "storage",
	Blob:    "blob",
}

func (s Scheme) String() string {
	if s > 0 && int(s) < len(schemeNames) {
		return schemeNames[s]
	}
	return "unknown"
}

// URI is a normalized location in one of the supported address spaces.
// Values are immutable: derived URIs always copy their segments.
type URI struct {
	Scheme        Scheme
	Authority     string
	Segments      []string
	TrailingSlash bool
}

// String renders the URI in canonical scheme://authority/path form.
func (u URI) String() string {
	var b strings.Builder
	b.WriteString(u.Scheme.String())
	b.WriteString("://")
	b.WriteString(u.Authority)
	b.WriteString("/")
	b.WriteString(strings.Join(u.Segments, "/"))
	if u.TrailingSlash && len(u.Segments) > 0 {
		b.WriteString("/")
	}
	return b.String()
}

// Path returns the slash-separated absolute path of the URI.
func (u URI) Path() string {
	return "/" + strings.Join(u.Segments, "/")
}

// Key returns the object key for bucket URIs (the path without leading slash).
func (u URI) Key() string {
	return strings.Join(u.Segments, "/")
}

// LocalPath returns the OS-specific path for a local URI.
func (u URI) LocalPath() string {
	return filepath.FromSlash(u.Path())
}

// Base returns the final path segment, or "" for a root URI.
func (u URI) Base() string {
	if len(u.Segments) == 0 {
		return ""
	}
	return u.Segments[len(u.Segments)-1]
}

// IsRoot reports whether the URI has no path segments.
func (u URI) IsRoot() bool {
	return len(u.Segments) == 0
}

// Join returns a new URI with elems appended. The result never carries a
// trailing slash.
func (u URI) Join(elems ...string) URI {
	segs := make([]string, 0, len(u.Segments)+len(elems))
	segs = append(segs, u.Segments...)
	for _, e := range elems {
		if e == "" {
			continue
		}
		segs = append(segs, e)
	}
	return URI{Scheme: u.Scheme, Authority: u.Authority, Segments: segs}
}

// Parent returns the URI of the containing directory. The parent of a root
// URI is the root itself.
func (u URI) Parent() URI {
	if len(u.Segments) == 0 {
		return URI{Scheme: u.Scheme, Authority: u.Authority}
	}
	segs := make([]string, len(u.Segments)-1)
	copy(segs, u.Segments)
	return URI{Scheme: u.Scheme, Authority: u.Authority, Segments: segs}
}

// WithTrailingSlash returns a copy of u with TrailingSlash set to v.
func (u URI) WithTrailingSlash(v bool) URI {
	segs := make([]string, len(u.Segments))
	copy(segs, u.Segments)
	return URI{Scheme: u.Scheme, Authority: u.Authority, Segments: segs, TrailingSlash: v}
}

// SameLocation reports whether two URIs address the same backend location
// (scheme and authority), ignoring the path.
func (u URI) SameLocation(o URI) bool {
	return u.Scheme == o.Scheme && u.Authority == o.Authority
}

// Equal reports whether u and o address the same path. TrailingSlash is
// ignored.
func (u URI) Equal(o URI) bool {
	if !u.SameLocation(o) || len(u.Segments) != len(o.Segments) {
		return false
	}
	for i := range u.Segments {
		if u.Segments[i] != o.Segments[i] {
			return false
		}
	}
	return true
}

// Rel returns the segments of u below base. ok is false when u is not base
// itself or a descendant of it.
func (u URI) Rel(base URI) (rel []string, ok bool) {
	if !u.SameLocation(base) || len(u.Segments) < len(base.Segments) {
		return nil, false
	}
	for i := range base.Segments {
		if u.Segments[i] != base.Segments[i] {
			return nil, false
		}
	}
	rel = make([]string, len(u.Segments)-len(base.Segments))
	copy(rel, u.Segments[len(base.Segments):])
	return rel, true
}

var (
	schemeRe    = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9+.-]*):`)
	authorityRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	hostPortRe  = regexp.MustCompile(`^[A-Za-z0-9._-]+(:[0-9]{1,5})?$`)
)

// Parser turns user input into URIs. Relative local paths resolve against
// Cwd; relative storage paths resolve against StorageHome on StorageHost.
type Parser struct {
	Cwd         string
	StorageHost string
	StorageHome []string
}

// NewParser returns a Parser rooted at the process working directory.
func NewParser() Parser {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "/"
	}
	return Parser{Cwd: cwd}
}

// Parse parses raw using a Parser rooted at the process working directory.
func Parse(raw string, def Scheme) (URI, error) {
	return NewParser().Parse(raw, def)
}

// Parse parses a CLI argument into a URI.
//
// Supported formats:
//   - /abs/path, rel/path           → def scheme (usually file)
//   - file:///abs/path, file:rel    → local
//   - storage://host[:port]/path    → hierarchical remote storage
//   - storage:rel/path              → relative to StorageHome on StorageHost
//   - blob://bucket/key             → bucket storage
//
// A path ending in "/" sets TrailingSlash.
//
//nolint:revive // cognitive-complexity: one branch per scheme form
func (p Parser) Parse(raw string, def Scheme) (URI, error) {
	if raw == "" {
		return URI{}, &InvalidURIError{Raw: raw, Reason: "empty location"}
	}

	scheme := def
	rest := raw
	if m := schemeRe.FindStringSubmatch(raw); m != nil {
		switch strings.ToLower(m[1]) {
		case "file":
			scheme = Local
		case "storage":
			scheme = Storage
		case "blob":
			scheme = Blob
		default:
			return URI{}, &InvalidURIError{Raw: raw, Reason: "unsupported scheme " + m[1]}
		}
		rest = raw[len(m[0]):]
	}

	var authority string
	hasAuthority := false
	if strings.HasPrefix(rest, "//") {
		hasAuthority = true
		rest = rest[2:]
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			authority, rest = rest[:idx], rest[idx:]
		} else {
			authority, rest = rest, "/"
		}
	}

	trailing := strings.HasSuffix(rest, "/") || strings.HasSuffix(rest, "/.") || rest == "."
	if strings.ContainsRune(rest, 0) {
		return URI{}, &InvalidURIError{Raw: raw, Reason: "path contains NUL byte"}
	}

	switch scheme {
	case Local:
		if hasAuthority && authority != "" && authority != "localhost" {
			return URI{}, &InvalidURIError{Raw: raw, Reason: "file URIs cannot name a host"}
		}
		local := rest
		if !strings.HasPrefix(local, "/") {
			local = filepath.ToSlash(p.Cwd) + "/" + local
		}
		return URI{Scheme: Local, Segments: normalize(nil, local), TrailingSlash: trailing}, nil

	case Storage:
		if !hasAuthority {
			authority = p.StorageHost
		}
		if authority == "" {
			return URI{}, &InvalidURIError{Raw: raw, Reason: "storage URI requires a host"}
		}
		if !hostPortRe.MatchString(authority) {
			return URI{}, &InvalidURIError{Raw: raw, Reason: "invalid characters in host " + authority}
		}
		var base []string
		if !hasAuthority && !strings.HasPrefix(rest, "/") {
			base = p.StorageHome
		}
		return URI{Scheme: Storage, Authority: authority, Segments: normalize(base, rest), TrailingSlash: trailing}, nil

	case Blob:
		if !hasAuthority || authority == "" {
			return URI{}, &InvalidURIError{Raw: raw, Reason: "blob URI requires a bucket"}
		}
		if !authorityRe.MatchString(authority) {
			return URI{}, &InvalidURIError{Raw: raw, Reason: "invalid characters in bucket " + authority}
		}
		return URI{Scheme: Blob, Authority: authority, Segments: normalize(nil, rest), TrailingSlash: trailing}, nil
	}

	return URI{}, &InvalidURIError{Raw: raw, Reason: "no scheme"}
}

// normalize splits p into clean segments appended to base. "." and empty
// segments are dropped; ".." pops but never climbs above the root.
func normalize(base []string, p string) []string {
	segs := make([]string, 0, len(base)+strings.Count(p, "/")+1)
	segs = append(segs, base...)
	for _, s := range strings.Split(p, "/") {
		switch s {
		case "", ".":
		case "..":
			if len(segs) > 0 {
				segs = segs[:len(segs)-1]
			}
		default:
			segs = append(segs, s)
		}
	}
	return segs
}
