package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/bamsammich/ferry/internal/backend"
	"github.com/bamsammich/ferry/internal/uri"
)

// ErrChecksumMismatch is returned when a copied file does not hash to the
// same digest as its source.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// VerifyError records a single checksum mismatch.
type VerifyError struct {
	Source      uri.URI
	Destination uri.URI
	SrcHash     string
	DstHash     string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("%s -> %s: src %s, dst %s", e.Source, e.Destination, short(e.SrcHash), short(e.DstHash))
}

func (e *VerifyError) Unwrap() error { return ErrChecksumMismatch }

// verifyCopy re-reads both ends of a finished copy and compares their
// BLAKE3 digests.
func verifyCopy(ctx context.Context, srcB, dstB backend.Backend, src, dst uri.URI) error {
	srcHash, err := HashURI(ctx, srcB, src)
	if err != nil {
		return fmt.Errorf("verify source: %w", err)
	}
	dstHash, err := HashURI(ctx, dstB, dst)
	if err != nil {
		return fmt.Errorf("verify destination: %w", err)
	}
	if srcHash != dstHash {
		return &VerifyError{Source: src, Destination: dst, SrcHash: srcHash, DstHash: dstHash}
	}
	return nil
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
