package backend_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"

	"github.com/bamsammich/ferry/internal/backend"
)

type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("read: %w", context.DeadlineExceeded), false},
		{"not found", backend.ErrNotFound, false},
		{"permission", backend.ErrPermission, false},
		{"plain", errors.New("boom"), false},
		{"marked", &backend.TransientError{Err: errors.New("flaky")}, true},
		{"unexpected eof", fmt.Errorf("copy: %w", io.ErrUnexpectedEOF), true},
		{"io deadline", os.ErrDeadlineExceeded, true},
		{"reset", &net.OpError{Op: "read", Err: unix.ECONNRESET}, true},
		{"broken pipe", fmt.Errorf("write: %w", unix.EPIPE), true},
		{"sftp lost", sftp.ErrSSHFxConnectionLost, true},
		{"throttled", &smithy.GenericAPIError{Code: "SlowDown"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"http 503", statusErr(503), true},
		{"http 429", statusErr(429), true},
		{"http 404", statusErr(404), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, backend.IsTransient(tt.err))
		})
	}
}

func TestErrorUnwraps(t *testing.T) {
	t.Parallel()
	err := &backend.Error{Op: "stat", Err: backend.ErrNotFound}
	assert.ErrorIs(t, err, backend.ErrNotFound)
	assert.Contains(t, err.Error(), "stat")
}
