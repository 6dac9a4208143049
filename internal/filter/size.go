package filter

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"
)

// ParseSize parses a human-readable size such as 100, 100K, 1.5M, 2GiB or
// 10MB/s into bytes. Units are powers of 1024 and case-insensitive; a
// trailing "/s" is ignored so bandwidth limits read naturally.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSuffix(s, "/s"), "/S"))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n, nil
}
