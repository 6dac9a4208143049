package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/bamsammich/ferry/internal/uri"
)

const (
	defaultS3PageSize = 1000
	deleteBatchSize   = 1000

	// S3 rejects parts other than the last below 5 MiB, and allows at most
	// 10000 parts of up to 5 GiB each.
	defaultPartSize = 8 << 20
	maxParts        = 10000
	partsPerTier    = 1000
	maxPartTier     = 9
)

// S3API is the subset of the S3 client used by the blob backend.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

var _ Backend = (*S3)(nil)

// S3Opts configures the blob backend's client.
type S3Opts struct {
	Region    string
	Endpoint  string // custom endpoint for S3-compatible stores
	PathStyle bool
	Profile   string
	PageSize  int32
	PartSize  int64 // first multipart part size, at least 5 MiB for AWS (default 8 MiB)
}

// S3 serves blob: URIs from one bucket. Keys use "/" as the directory
// delimiter; directories are the common prefixes of their contents.
type S3 struct {
	api      S3API
	bucket   string
	pageSize int32
	partSize int64
}

// NewS3 wraps an S3 client for bucket.
func NewS3(api S3API, bucket string, opts S3Opts) *S3 {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultS3PageSize
	}
	partSize := opts.PartSize
	if partSize <= 0 {
		partSize = defaultPartSize
	}
	return &S3{api: api, bucket: bucket, pageSize: pageSize, partSize: partSize}
}

// DialS3 builds an S3 client from the default credential chain.
func DialS3(ctx context.Context, bucket string, opts S3Opts) (*S3, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.PathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return NewS3(client, bucket, opts), nil
}

func (*S3) Caps() Capabilities { return Capabilities{} }

func (*S3) Close() error { return nil }

func dirPrefix(u uri.URI) string {
	if u.IsRoot() {
		return ""
	}
	return u.Key() + "/"
}

func (b *S3) wrap(op string, u uri.URI, err error) error {
	if err == nil {
		return nil
	}
	var (
		nsk *types.NoSuchKey
		nf  *types.NotFound
		nsb *types.NoSuchBucket
		ae  smithy.APIError
	)
	switch {
	case errors.As(err, &nsk), errors.As(err, &nf), errors.As(err, &nsb):
		err = fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.As(err, &ae) && ae.ErrorCode() == "AccessDenied":
		err = fmt.Errorf("%w: %w", ErrPermission, err)
	}
	return wrapErr(op, u, err)
}

func (b *S3) List(ctx context.Context, u uri.URI) (Pager, error) {
	if !u.IsRoot() {
		if _, err := b.head(ctx, u); err == nil {
			return nil, wrapErr("list", u, ErrNotDirectory)
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	prefix := dirPrefix(u)
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}
	p := s3.NewListObjectsV2Paginator(b.api, input, func(o *s3.ListObjectsV2PaginatorOptions) {
		o.Limit = b.pageSize
	})
	return &s3Pager{b: b, u: u, prefix: prefix, p: p}, nil
}

type s3Pager struct {
	b      *S3
	u      uri.URI
	prefix string
	p      *s3.ListObjectsV2Paginator
	seen   bool
}

func (p *s3Pager) NextPage(ctx context.Context) ([]FileEntry, error) {
	if !p.p.HasMorePages() {
		return nil, io.EOF
	}
	out, err := p.p.NextPage(ctx)
	if err != nil {
		return nil, p.b.wrap("list", p.u, err)
	}

	entries := make([]FileEntry, 0, len(out.CommonPrefixes)+len(out.Contents))
	for _, cp := range out.CommonPrefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), p.prefix), "/")
		if name == "" {
			continue
		}
		entries = append(entries, NewEntry(p.u.Join(name), Directory, 0, time.Time{}))
	}
	for _, obj := range out.Contents {
		name := strings.TrimPrefix(aws.ToString(obj.Key), p.prefix)
		if name == "" {
			// Directory marker object.
			continue
		}
		size := uint64(0)
		if n := aws.ToInt64(obj.Size); n > 0 {
			size = uint64(n)
		}
		entries = append(entries, NewEntry(p.u.Join(name), File, size, aws.ToTime(obj.LastModified)))
	}

	if !p.seen {
		p.seen = true
		if len(entries) == 0 && !p.p.HasMorePages() && !p.u.IsRoot() && aws.ToInt32(out.KeyCount) == 0 {
			return nil, wrapErr("list", p.u, ErrNotFound)
		}
	}
	return entries, nil
}

func (*s3Pager) Close() error { return nil }

func (b *S3) head(ctx context.Context, u uri.URI) (FileEntry, error) {
	out, err := b.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(u.Key()),
	})
	if err != nil {
		return FileEntry{}, b.wrap("stat", u, err)
	}
	size := uint64(0)
	if n := aws.ToInt64(out.ContentLength); n > 0 {
		size = uint64(n)
	}
	return NewEntry(u, File, size, aws.ToTime(out.LastModified)), nil
}

func (b *S3) Stat(ctx context.Context, u uri.URI) (FileEntry, error) {
	if u.IsRoot() {
		return NewEntry(u, Directory, 0, time.Time{}), nil
	}
	e, err := b.head(ctx, u)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return e, err
	}

	out, listErr := b.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(dirPrefix(u)),
		MaxKeys: aws.Int32(1),
	})
	if listErr != nil {
		return FileEntry{}, b.wrap("stat", u, listErr)
	}
	if len(out.Contents) > 0 || len(out.CommonPrefixes) > 0 {
		return NewEntry(u, Directory, 0, time.Time{}), nil
	}
	return FileEntry{}, err
}

func (b *S3) OpenRead(ctx context.Context, u uri.URI, offset uint64) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(u.Key()),
	}
	if offset > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}
	out, err := b.api.GetObject(ctx, input)
	if err != nil {
		var ae smithy.APIError
		if offset > 0 && errors.As(err, &ae) && ae.ErrorCode() == "InvalidRange" {
			// Offset at or past the end: nothing left to read.
			return io.NopCloser(strings.NewReader("")), nil
		}
		return nil, b.wrap("get", u, err)
	}
	return out.Body, nil
}

// OpenWrite streams the object to S3. Data is buffered one part at a time;
// objects that fit in a single part are sent with PutObject, larger ones as a
// multipart upload. Objects cannot be appended to, so only offset 0 with
// truncate is allowed.
func (b *S3) OpenWrite(ctx context.Context, u uri.URI, offset uint64, truncate bool) (WriteStream, error) {
	if offset != 0 || !truncate {
		return nil, wrapErr("put", u, fmt.Errorf("append: %w", ErrUnsupported))
	}
	if u.IsRoot() {
		return nil, wrapErr("put", u, ErrIsDirectory)
	}
	return &s3WriteStream{ctx: ctx, b: b, u: u, key: u.Key()}, nil
}

type s3WriteStream struct {
	ctx context.Context //nolint:containedctx // parts are uploaded from Write
	b   *S3
	u   uri.URI
	key string

	buf      bytes.Buffer
	uploadID string // set once the first part is sent
	parts    []types.CompletedPart
	done     bool
}

// partSize returns the size of 1-based part n. Sizes double every
// partsPerTier parts so that maxParts parts reach the largest object S3
// accepts without buffering large parts for ordinary files.
func (w *s3WriteStream) partSize(n int) int {
	return int(w.b.partSize) << min((n-1)/partsPerTier, maxPartTier)
}

func (w *s3WriteStream) Write(p []byte) (int, error) {
	if w.done {
		return 0, wrapErr("put", w.u, os.ErrClosed)
	}
	written := 0
	for len(p) > 0 {
		room := w.partSize(len(w.parts)+1) - w.buf.Len()
		n := min(room, len(p))
		w.buf.Write(p[:n])
		written += n
		p = p[n:]
		if w.buf.Len() == w.partSize(len(w.parts)+1) {
			if err := w.flushPart(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (w *s3WriteStream) flushPart() error {
	if w.uploadID == "" {
		out, err := w.b.api.CreateMultipartUpload(w.ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(w.b.bucket),
			Key:    aws.String(w.key),
		})
		if err != nil {
			return w.b.wrap("put", w.u, err)
		}
		w.uploadID = aws.ToString(out.UploadId)
	}
	num := int32(len(w.parts) + 1) //nolint:gosec // bounded by maxParts
	if num > maxParts {
		return wrapErr("put", w.u, fmt.Errorf("more than %d parts: %w", maxParts, ErrUnsupported))
	}
	out, err := w.b.api.UploadPart(w.ctx, &s3.UploadPartInput{
		Bucket:        aws.String(w.b.bucket),
		Key:           aws.String(w.key),
		UploadId:      aws.String(w.uploadID),
		PartNumber:    aws.Int32(num),
		Body:          bytes.NewReader(w.buf.Bytes()),
		ContentLength: aws.Int64(int64(w.buf.Len())),
	})
	if err != nil {
		return w.b.wrap("put", w.u, err)
	}
	w.parts = append(w.parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(num)})
	w.buf.Reset()
	return nil
}

func (w *s3WriteStream) Close() error {
	if w.done {
		return nil
	}
	if w.uploadID == "" {
		w.done = true
		_, err := w.b.api.PutObject(w.ctx, &s3.PutObjectInput{
			Bucket:        aws.String(w.b.bucket),
			Key:           aws.String(w.key),
			Body:          bytes.NewReader(w.buf.Bytes()),
			ContentLength: aws.Int64(int64(w.buf.Len())),
		})
		return w.b.wrap("put", w.u, err)
	}

	if w.buf.Len() > 0 {
		if err := w.flushPart(); err != nil {
			w.Abort()
			return err
		}
	}
	w.done = true
	_, err := w.b.api.CompleteMultipartUpload(w.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.b.bucket),
		Key:             aws.String(w.key),
		UploadId:        aws.String(w.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: w.parts},
	})
	if err != nil {
		w.abortUpload()
		return w.b.wrap("put", w.u, err)
	}
	return nil
}

// Abort discards buffered data and any parts already sent.
func (w *s3WriteStream) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.buf = bytes.Buffer{}
	if w.uploadID == "" {
		return nil
	}
	return w.abortUpload()
}

func (w *s3WriteStream) abortUpload() error {
	// The transfer's context is often what was cancelled.
	ctx := context.WithoutCancel(w.ctx)
	_, err := w.b.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.b.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
	})
	return w.b.wrap("abort", w.u, err)
}

// MakeDirectory is a no-op: prefixes exist as soon as an object uses them.
func (*S3) MakeDirectory(ctx context.Context, _ uri.URI) error {
	return ctx.Err()
}

func (b *S3) Remove(ctx context.Context, u uri.URI, recursive bool) error {
	e, err := b.Stat(ctx, u)
	if err != nil {
		return err
	}
	if e.Kind == File {
		return b.deleteKeys(ctx, u, []string{u.Key()})
	}
	if !recursive {
		return wrapErr("remove", u, ErrIsDirectory)
	}

	p := s3.NewListObjectsV2Paginator(b.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(dirPrefix(u)),
	}, func(o *s3.ListObjectsV2PaginatorOptions) {
		o.Limit = b.pageSize
	})
	var batch []string
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return b.wrap("list", u, err)
		}
		for _, obj := range out.Contents {
			batch = append(batch, aws.ToString(obj.Key))
			if len(batch) == deleteBatchSize {
				if err := b.deleteKeys(ctx, u, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}
	}
	if len(batch) > 0 {
		return b.deleteKeys(ctx, u, batch)
	}
	return nil
}

func (b *S3) deleteKeys(ctx context.Context, u uri.URI, keys []string) error {
	ids := make([]types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		ids[i] = types.ObjectIdentifier{Key: aws.String(k)}
	}
	out, err := b.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(b.bucket),
		Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return b.wrap("delete", u, err)
	}
	if len(out.Errors) > 0 {
		first := out.Errors[0]
		return wrapErr("delete", u, fmt.Errorf("%d object(s) not deleted, first %s: %s",
			len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message)))
	}
	return nil
}
