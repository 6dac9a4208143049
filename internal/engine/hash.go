package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/bamsammich/ferry/internal/backend"
	"github.com/bamsammich/ferry/internal/uri"
)

// HashReader computes the BLAKE3 digest of r, hex-encoded.
func HashReader(r io.Reader) (string, error) {
	h := blake3.New()
	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashURI computes the BLAKE3 digest of the object at u.
func HashURI(ctx context.Context, b backend.Backend, u uri.URI) (string, error) {
	r, err := b.OpenRead(ctx, u, 0)
	if err != nil {
		return "", err
	}
	defer r.Close()
	sum, err := HashReader(r)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", u, err)
	}
	return sum, nil
}
