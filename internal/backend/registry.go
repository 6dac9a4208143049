package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bamsammich/ferry/internal/uri"
)

// Dialer connects a backend for the scheme and authority of u.
type Dialer func(ctx context.Context, u uri.URI) (Backend, error)

// Registry hands out one shared backend per scheme and authority,
// connecting lazily on first use.
type Registry struct {
	mu      sync.Mutex
	dialers map[uri.Scheme]Dialer
	open    map[string]Backend
}

// NewRegistry returns a Registry with the local backend registered.
func NewRegistry() *Registry {
	r := &Registry{
		dialers: make(map[uri.Scheme]Dialer),
		open:    make(map[string]Backend),
	}
	local := NewLocal(0)
	r.Register(uri.Local, func(context.Context, uri.URI) (Backend, error) { return local, nil })
	return r
}

// Register sets the dialer for a scheme, replacing any previous one.
func (r *Registry) Register(s uri.Scheme, d Dialer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialers[s] = d
}

// SFTPDialer dials storage: authorities over SSH.
func SFTPDialer(opts SSHOpts, pageSize int) Dialer {
	return func(ctx context.Context, u uri.URI) (Backend, error) {
		return DialSFTP(ctx, u.Authority, opts, pageSize)
	}
}

// S3Dialer opens blob: buckets with the default AWS credential chain.
func S3Dialer(opts S3Opts) Dialer {
	return func(ctx context.Context, u uri.URI) (Backend, error) {
		return DialS3(ctx, u.Authority, opts)
	}
}

// Get returns the backend serving u, dialing it on first use.
func (r *Registry) Get(ctx context.Context, u uri.URI) (Backend, error) {
	key := u.Scheme.String() + "://" + u.Authority

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.open[key]; ok {
		return b, nil
	}
	d, ok := r.dialers[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("no backend for scheme %s: %w", u.Scheme, ErrUnsupported)
	}
	b, err := d(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", key, err)
	}
	r.open[key] = b
	return b, nil
}

// Close closes every backend the registry opened.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for key, b := range r.open {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", key, err))
		}
		delete(r.open, key)
	}
	return errors.Join(errs...)
}
