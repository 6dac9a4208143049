package engine

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/ferry/internal/backend"
	"github.com/bamsammich/ferry/internal/backend/backendtest"
	"github.com/bamsammich/ferry/internal/uri"
)

type planResult struct {
	tasks    map[string]TransferTask // keyed by destination path below the dst root
	failures []Failure
}

func plan(t *testing.T, cfg PlannerConfig, sources ...PlanSource) planResult {
	t.Helper()
	out := planResult{tasks: make(map[string]TransferTask)}
	tasks := make(chan TransferTask)
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		for task := range tasks {
			rel, _ := task.Destination.Rel(sources[0].Destination)
			out.tasks[strings.Join(rel, "/")] = task
		}
	}()
	NewPlanner(cfg).Plan(context.Background(), sources, tasks, func(f Failure) {
		mu.Lock()
		out.failures = append(out.failures, f)
		mu.Unlock()
	})
	close(tasks)
	<-done
	return out
}

func (r planResult) keys() []string {
	out := make([]string, 0, len(r.tasks))
	for k := range r.tasks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestPlanCopiesTreeAndCreatesDirectories(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src, dst := filepath.Join(dir, "src"), filepath.Join(dir, "dst")
	writeTree(t, src, map[string]string{
		"a.txt":          "a",
		"sub/b.txt":      "bb",
		"sub/deep/c.txt": "ccc",
		"empty/":         "",
	})
	b := backend.NewLocal(0)
	p := NewPlanner(PlannerConfig{Dst: b, Recursive: true})

	tasks := make(chan TransferTask, 16)
	p.Plan(context.Background(), []PlanSource{{Root: localURI(t, src), Backend: b, Destination: localURI(t, dst)}},
		tasks, func(f Failure) { t.Errorf("unexpected failure: %v", f) })
	close(tasks)

	var got []string
	for task := range tasks {
		assert.Equal(t, ActionCopy, task.Action)
		assert.Zero(t, task.ResumeOffset)
		assert.NotEmpty(t, task.ID)
		got = append(got, task.Destination.Base())
	}
	assert.ElementsMatch(t, []string{"a.txt", "b.txt", "c.txt"}, got)
	assert.Equal(t, 4, p.DirsCreated()) // dst, sub, sub/deep, empty
	assert.DirExists(t, filepath.Join(dst, "sub", "deep"))
	assert.DirExists(t, filepath.Join(dst, "empty"))
}

func TestPlanActions(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src, dst := filepath.Join(dir, "src"), filepath.Join(dir, "dst")
	writeTree(t, src, map[string]string{
		"new.txt":     "new",
		"stale.txt":   "fresh contents",
		"current.txt": "same",
		"partial.bin": "0123456789",
		"longer.bin":  "0123",
	})
	writeTree(t, dst, map[string]string{
		"stale.txt":   "old",
		"current.txt": "same",
		"partial.bin": "0123",
		"longer.bin":  "0123456789",
	})
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	setMTime(t, filepath.Join(dst, "stale.txt"), past)
	setMTime(t, filepath.Join(dst, "current.txt"), future)
	setMTime(t, filepath.Join(dst, "partial.bin"), future)
	setMTime(t, filepath.Join(dst, "longer.bin"), future)

	b := backend.NewLocal(0)
	srcU, dstU := localURI(t, src), localURI(t, dst)

	tests := []struct {
		name     string
		update   bool
		resume   bool
		expected map[string]Action
	}{
		{
			name: "plain copy overwrites everything",
			expected: map[string]Action{
				"new.txt": ActionCopy, "stale.txt": ActionCopy, "current.txt": ActionCopy,
				"partial.bin": ActionCopy, "longer.bin": ActionCopy,
			},
		},
		{
			name:   "update skips destinations that are not older",
			update: true,
			expected: map[string]Action{
				"new.txt": ActionCopy, "stale.txt": ActionCopy, "current.txt": ActionSkip,
				"partial.bin": ActionSkip, "longer.bin": ActionSkip,
			},
		},
		{
			name:   "continue resumes smaller destinations",
			resume: true,
			expected: map[string]Action{
				"new.txt": ActionCopy, "stale.txt": ActionCopy, "current.txt": ActionCopy,
				"partial.bin": ActionResume, "longer.bin": ActionCopy,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := plan(t, PlannerConfig{Dst: b, Recursive: true, UpdateOnly: tt.update, ContinuePartial: tt.resume},
				PlanSource{Root: srcU, Backend: b, Destination: dstU})
			require.Empty(t, res.failures)
			require.Len(t, res.tasks, len(tt.expected))
			for name, want := range tt.expected {
				assert.Equal(t, want, res.tasks[name].Action, name)
			}
			if tt.resume {
				assert.Equal(t, uint64(4), res.tasks["partial.bin"].ResumeOffset)
			}
		})
	}
}

func TestPlanDoesNotResumeOlderPartial(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src, dst := filepath.Join(dir, "src"), filepath.Join(dir, "dst")
	writeTree(t, src, map[string]string{"f.bin": "0123456789"})
	writeTree(t, dst, map[string]string{"f.bin": "01"})
	setMTime(t, filepath.Join(dst, "f.bin"), time.Now().Add(-time.Hour))

	b := backend.NewLocal(0)
	res := plan(t, PlannerConfig{Dst: b, Recursive: true, ContinuePartial: true},
		PlanSource{Root: localURI(t, src), Backend: b, Destination: localURI(t, dst)})
	assert.Equal(t, ActionCopy, res.tasks["f.bin"].Action)
}

func TestPlanNeverResumesOnObjectStore(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	writeTree(t, src, map[string]string{"f.bin": "0123456789"})
	fake := backendtest.NewFakeS3()
	fake.Put("dst/f.bin", []byte("0123"), time.Now().Add(time.Hour))
	s3b := backend.NewS3(fake, "bucket", backend.S3Opts{})
	dstU, err := uri.Parse("blob://bucket/dst", uri.Blob)
	require.NoError(t, err)

	res := plan(t, PlannerConfig{Dst: s3b, Recursive: true, ContinuePartial: true},
		PlanSource{Root: localURI(t, src), Backend: backend.NewLocal(0), Destination: dstU})
	require.Empty(t, res.failures)
	assert.Equal(t, ActionCopy, res.tasks["f.bin"].Action)
}

func TestPlanDirectoryInTheWay(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src, dst := filepath.Join(dir, "src"), filepath.Join(dir, "dst")
	writeTree(t, src, map[string]string{"x": "file", "ok.txt": "ok"})
	writeTree(t, dst, map[string]string{"x/": ""})

	b := backend.NewLocal(0)
	res := plan(t, PlannerConfig{Dst: b, Recursive: true},
		PlanSource{Root: localURI(t, src), Backend: b, Destination: localURI(t, dst)})
	assert.Equal(t, []string{"ok.txt"}, res.keys())
	require.Len(t, res.failures, 1)
	assert.ErrorIs(t, res.failures[0], backend.ErrIsDirectory)
}

func TestPlanSkipsSubtreeOfUncreatableDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src, dst := filepath.Join(dir, "src"), filepath.Join(dir, "dst")
	writeTree(t, src, map[string]string{"d/a.txt": "a", "d/e/b.txt": "b", "c.txt": "c"})
	writeTree(t, dst, map[string]string{"d": "a file where a directory belongs"})

	b := backend.NewLocal(0)
	res := plan(t, PlannerConfig{Dst: b, Recursive: true},
		PlanSource{Root: localURI(t, src), Backend: b, Destination: localURI(t, dst)})
	assert.Equal(t, []string{"c.txt"}, res.keys())
	require.Len(t, res.failures, 1)
	assert.Equal(t, "d", res.failures[0].URI.Base())
}

func TestPlanDropsDuplicatePairs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src, dst := filepath.Join(dir, "src"), filepath.Join(dir, "dst")
	writeTree(t, src, map[string]string{"a.txt": "a"})

	b := backend.NewLocal(0)
	s := PlanSource{Root: localURI(t, filepath.Join(src, "a.txt")), Backend: b, Destination: localURI(t, filepath.Join(dst, "a.txt"))}
	tasks := make(chan TransferTask, 4)
	NewPlanner(PlannerConfig{Dst: b}).Plan(context.Background(), []PlanSource{s, s}, tasks, func(f Failure) {
		t.Errorf("unexpected failure: %v", f)
	})
	close(tasks)
	n := 0
	for range tasks {
		n++
	}
	assert.Equal(t, 1, n)
}

func TestPlanFollowsSymlinksForObjectStores(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	writeTree(t, src, map[string]string{"real.txt": "contents", "dir/x": "x"})
	require.NoError(t, os.Symlink("real.txt", filepath.Join(src, "link.txt")))
	require.NoError(t, os.Symlink("dir", filepath.Join(src, "dirlink")))

	fake := backendtest.NewFakeS3()
	s3b := backend.NewS3(fake, "bucket", backend.S3Opts{})
	dstU, err := uri.Parse("blob://bucket/dst", uri.Blob)
	require.NoError(t, err)

	res := plan(t, PlannerConfig{Dst: s3b, Recursive: true},
		PlanSource{Root: localURI(t, src), Backend: backend.NewLocal(0), Destination: dstU})
	require.Contains(t, res.tasks, "link.txt")
	link := res.tasks["link.txt"]
	assert.Equal(t, backend.File, link.Source.Kind)
	assert.Equal(t, uint64(len("contents")), link.Source.Size)

	require.Len(t, res.failures, 1)
	assert.ErrorIs(t, res.failures[0], backend.ErrUnsupported)
	assert.Equal(t, "dirlink", res.failures[0].URI.Base())
}

func TestPlanCancelled(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src, dst := filepath.Join(dir, "src"), filepath.Join(dir, "dst")
	files := make(map[string]string)
	for i := range 50 {
		files[filepath.Join("d", string(rune('a'+i%26))+strings.Repeat("x", i))] = "x"
	}
	writeTree(t, src, files)

	b := backend.NewLocal(0)
	ctx, cancel := context.WithCancel(context.Background())
	tasks := make(chan TransferTask) // never drained
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewPlanner(PlannerConfig{Dst: b, Recursive: true}).Plan(ctx,
			[]PlanSource{{Root: localURI(t, src), Backend: b, Destination: localURI(t, dst)}},
			tasks, func(Failure) {})
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("planner did not stop after cancellation")
	}
}

func TestOlderThanUsesWholeSeconds(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.False(t, olderThan(base.Add(100*time.Millisecond), base.Add(900*time.Millisecond)))
	assert.True(t, olderThan(base, base.Add(time.Second)))
	assert.False(t, olderThan(base.Add(time.Second), base))
}
