package uri

import "fmt"

// InvalidURIError reports malformed user input. It is fatal and surfaces
// before any transfer starts.
type InvalidURIError struct {
	Raw    string
	Reason string
}

func (e *InvalidURIError) Error() string {
	return fmt.Sprintf("invalid location %q: %s", e.Raw, e.Reason)
}

// AmbiguousTargetError reports a destination that cannot receive the given
// sources under the requested target mode.
type AmbiguousTargetError struct {
	Destination URI
	Sources     int
	Reason      string
}

func (e *AmbiguousTargetError) Error() string {
	return fmt.Sprintf("ambiguous target %s for %d source(s): %s", e.Destination, e.Sources, e.Reason)
}
