package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"

	"github.com/aws/smithy-go"
	"github.com/pkg/sftp"
	"golang.org/x/sys/unix"

	"github.com/bamsammich/ferry/internal/uri"
)

// Sentinel errors. Backends return errors that match these with errors.Is.
var (
	ErrNotFound      = fs.ErrNotExist
	ErrAlreadyExists = fs.ErrExist
	ErrPermission    = fs.ErrPermission
	ErrIsDirectory   = errors.New("is a directory")
	ErrNotDirectory  = errors.New("not a directory")
	ErrUnsupported   = errors.ErrUnsupported
)

// Error wraps a backend failure with the operation and location.
type Error struct {
	Op  string
	URI uri.URI
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URI, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(op string, u uri.URI, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	return &Error{Op: op, URI: u, Err: err}
}

// TransientError marks an error as retryable regardless of its cause.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// throttleCodes are S3 API error codes worth retrying.
var throttleCodes = map[string]bool{
	"SlowDown":             true,
	"Throttling":           true,
	"ThrottlingException":  true,
	"RequestTimeout":       true,
	"RequestTimeTooSkewed": true,
	"InternalError":        true,
	"ServiceUnavailable":   true,
}

type httpStatusError interface {
	HTTPStatusCode() int
}

// IsTransient reports whether err is worth retrying: timeouts, dropped
// connections, truncated streams, throttling and server-side failures.
// Cancellation and unknown errors are permanent.
//
//nolint:gocyclo // one check per error family
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	for _, errno := range []error{unix.ECONNRESET, unix.ECONNABORTED, unix.EPIPE, unix.ETIMEDOUT} {
		if errors.Is(err, errno) {
			return true
		}
	}

	if errors.Is(err, sftp.ErrSSHFxConnectionLost) || errors.Is(err, sftp.ErrSSHFxNoConnection) {
		return true
	}

	var ae smithy.APIError
	if errors.As(err, &ae) && throttleCodes[ae.ErrorCode()] {
		return true
	}
	var he httpStatusError
	if errors.As(err, &he) {
		code := he.HTTPStatusCode()
		return code == 429 || code >= 500
	}
	return false
}
