package uri

// TargetMode controls whether a destination is a container for the sources
// or the exact final path.
type TargetMode int

const (
	// Auto places sources inside the destination when there are several
	// sources or the destination ends in "/", and renames otherwise.
	Auto TargetMode = iota
	// Exact always treats the destination as the final path (cp -T).
	Exact
	// IntoDirectory always places sources inside the destination (cp -t).
	IntoDirectory
)

func (m TargetMode) String() string {
	switch m {
	case Exact:
		return "exact"
	case IntoDirectory:
		return "into-directory"
	default:
		return "auto"
	}
}

// IntoDirectory reports whether sources will be placed inside dst.
func (m TargetMode) IntoDirectory(sources int, dst URI) bool {
	return m == IntoDirectory || (m == Auto && (sources > 1 || dst.TrailingSlash))
}

// ResolveDestination computes the destination URI for each source.
func ResolveDestination(sources []URI, dst URI, mode TargetMode) ([]URI, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	if mode == Exact && len(sources) > 1 {
		return nil, &AmbiguousTargetError{
			Destination: dst,
			Sources:     len(sources),
			Reason:      "several sources need a directory destination",
		}
	}
	if mode == Exact && dst.TrailingSlash {
		return nil, &AmbiguousTargetError{
			Destination: dst,
			Sources:     len(sources),
			Reason:      "a trailing slash names a directory, not an exact path",
		}
	}

	out := make([]URI, len(sources))
	if !mode.IntoDirectory(len(sources), dst) {
		out[0] = dst.WithTrailingSlash(false)
		return out, nil
	}
	for i, src := range sources {
		// A root source has no name; its contents merge into dst.
		out[i] = dst.Join(src.Base())
	}
	return out, nil
}
