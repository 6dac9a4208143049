// Package backendtest provides in-memory backends for tests: an SFTP server
// over a pipe and a fake S3 API.
package backendtest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/ferry/internal/backend"
)

// MemSFTP returns an SFTP backend talking to an in-memory server. Both are
// closed when the test ends.
func MemSFTP(t *testing.T, pageSize int) *backend.SFTP {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, sftp.InMemHandler())
	go server.Serve() //nolint:errcheck // ends when the pipe closes

	client, err := sftp.NewClientPipe(clientConn, clientConn)
	require.NoError(t, err)

	b := backend.NewSFTP(client, nil, pageSize)
	t.Cleanup(func() {
		b.Close()
		server.Close()
	})
	return b
}

type object struct {
	data  []byte
	mtime time.Time
}

type multipartUpload struct {
	key   string
	parts map[int32][]byte
}

// FakeS3 is an in-memory S3API with delimiter listing, pagination, ranged
// reads and multipart uploads.
type FakeS3 struct {
	// MinPartSize, when set, makes CompleteMultipartUpload reject uploads
	// whose parts other than the last are smaller.
	MinPartSize int

	mu        sync.Mutex
	objects   map[string]object
	uploads   map[string]*multipartUpload
	uploadSeq int
	listCalls int
	putCalls  int
	partCalls int
}

var _ backend.S3API = (*FakeS3)(nil)

func NewFakeS3() *FakeS3 {
	return &FakeS3{objects: make(map[string]object), uploads: make(map[string]*multipartUpload)}
}

// Put stores an object directly.
func (f *FakeS3) Put(key string, data []byte, mtime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = object{data: bytes.Clone(data), mtime: mtime}
}

// Object returns a stored object's content.
func (f *FakeS3) Object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[key]
	return o.data, ok
}

// Keys returns every stored key in order.
func (f *FakeS3) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ListCalls returns how many ListObjectsV2 requests were served.
func (f *FakeS3) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// PutCalls returns how many PutObject requests were served.
func (f *FakeS3) PutCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putCalls
}

// PartCalls returns how many UploadPart requests were served.
func (f *FakeS3) PartCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.partCalls
}

// PendingUploads returns how many multipart uploads are neither completed
// nor aborted.
func (f *FakeS3) PendingUploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func (f *FakeS3) ListObjectsV2(
	_ context.Context,
	in *s3.ListObjectsV2Input,
	_ ...func(*s3.Options),
) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++

	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	// Items are keys or rolled-up common prefixes, in key order.
	type item struct {
		name     string
		isPrefix bool
	}
	var items []item
	seen := map[string]bool{}
	for _, k := range keys {
		rest := k[len(prefix):]
		if delim != "" {
			if idx := strings.Index(rest, delim); idx >= 0 {
				cp := prefix + rest[:idx+len(delim)]
				if !seen[cp] {
					seen[cp] = true
					items = append(items, item{name: cp, isPrefix: true})
				}
				continue
			}
		}
		items = append(items, item{name: k})
	}

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		for start < len(items) && items[start].name <= tok {
			start++
		}
	}
	maxKeys := int(aws.ToInt32(in.MaxKeys))
	if maxKeys <= 0 {
		maxKeys = 1000
	}
	end := min(start+maxKeys, len(items))

	out := &s3.ListObjectsV2Output{}
	for _, it := range items[start:end] {
		if it.isPrefix {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(it.name)})
			continue
		}
		o := f.objects[it.name]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(it.name),
			Size:         aws.Int64(int64(len(o.data))),
			LastModified: aws.Time(o.mtime),
		})
	}
	out.KeyCount = aws.Int32(int32(end - start)) //nolint:gosec // bounded by maxKeys
	if end < len(items) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(items[end-1].name)
	} else {
		out.IsTruncated = aws.Bool(false)
	}
	return out, nil
}

func (f *FakeS3) HeadObject(
	_ context.Context,
	in *s3.HeadObjectInput,
	_ ...func(*s3.Options),
) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{Message: aws.String("not found")}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(o.data))),
		LastModified:  aws.Time(o.mtime),
	}, nil
}

func (f *FakeS3) GetObject(
	_ context.Context,
	in *s3.GetObjectInput,
	_ ...func(*s3.Options),
) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	data := o.data
	if r := aws.ToString(in.Range); r != "" {
		var from int
		if _, err := fmt.Sscanf(r, "bytes=%d-", &from); err != nil {
			return nil, &smithy.GenericAPIError{Code: "InvalidArgument", Message: err.Error()}
		}
		if from >= len(data) {
			return nil, &smithy.GenericAPIError{Code: "InvalidRange", Message: "range not satisfiable"}
		}
		data = data[from:]
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(bytes.Clone(data))),
		ContentLength: aws.Int64(int64(len(data))),
		LastModified:  aws.Time(o.mtime),
	}, nil
}

func (f *FakeS3) PutObject(
	_ context.Context,
	in *s3.PutObjectInput,
	_ ...func(*s3.Options),
) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	f.objects[aws.ToString(in.Key)] = object{data: data, mtime: time.Now()}
	return &s3.PutObjectOutput{}, nil
}

func (f *FakeS3) DeleteObjects(
	_ context.Context,
	in *s3.DeleteObjectsInput,
	_ ...func(*s3.Options),
) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.DeleteObjectsOutput{}
	for _, id := range in.Delete.Objects {
		key := aws.ToString(id.Key)
		delete(f.objects, key)
		out.Deleted = append(out.Deleted, types.DeletedObject{Key: aws.String(key)})
	}
	return out, nil
}

func noSuchUpload(id string) error {
	return &smithy.GenericAPIError{Code: "NoSuchUpload", Message: "no such upload " + id}
}

func (f *FakeS3) CreateMultipartUpload(
	_ context.Context,
	in *s3.CreateMultipartUploadInput,
	_ ...func(*s3.Options),
) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadSeq++
	id := fmt.Sprintf("upload-%d", f.uploadSeq)
	f.uploads[id] = &multipartUpload{key: aws.ToString(in.Key), parts: make(map[int32][]byte)}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *FakeS3) UploadPart(
	_ context.Context,
	in *s3.UploadPartInput,
	_ ...func(*s3.Options),
) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(in.UploadId)
	up, ok := f.uploads[id]
	if !ok {
		return nil, noSuchUpload(id)
	}
	f.partCalls++
	num := aws.ToInt32(in.PartNumber)
	up.parts[num] = data
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf(`"%s-%d"`, id, num))}, nil
}

func (f *FakeS3) CompleteMultipartUpload(
	_ context.Context,
	in *s3.CompleteMultipartUploadInput,
	_ ...func(*s3.Options),
) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(in.UploadId)
	up, ok := f.uploads[id]
	if !ok {
		return nil, noSuchUpload(id)
	}
	var parts []types.CompletedPart
	if in.MultipartUpload != nil {
		parts = in.MultipartUpload.Parts
	}
	var data []byte
	for i, p := range parts {
		num := aws.ToInt32(p.PartNumber)
		body, ok := up.parts[num]
		if !ok || int(num) != i+1 {
			return nil, &smithy.GenericAPIError{Code: "InvalidPart", Message: fmt.Sprintf("part %d", num)}
		}
		if f.MinPartSize > 0 && i < len(parts)-1 && len(body) < f.MinPartSize {
			return nil, &smithy.GenericAPIError{Code: "EntityTooSmall", Message: fmt.Sprintf("part %d", num)}
		}
		data = append(data, body...)
	}
	delete(f.uploads, id)
	f.objects[up.key] = object{data: data, mtime: time.Now()}
	return &s3.CompleteMultipartUploadOutput{Key: aws.String(up.key)}, nil
}

func (f *FakeS3) AbortMultipartUpload(
	_ context.Context,
	in *s3.AbortMultipartUploadInput,
	_ ...func(*s3.Options),
) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(in.UploadId)
	if _, ok := f.uploads[id]; !ok {
		return nil, noSuchUpload(id)
	}
	delete(f.uploads, id)
	return &s3.AbortMultipartUploadOutput{}, nil
}
