package r2s3

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	mu       sync.Mutex
	keys     []string
	failures int
	calls    int
}

func (f *fakeUploader) Put(_ context.Context, key, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("flaky")
	}
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	f.keys = append(f.keys, key)
	return nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

func TestMirror_UploadsRelativeKeys(t *testing.T) {
	data := t.TempDir()
	up := &fakeUploader{}
	m := NewMirror(up, data, MirrorOptions{Prefix: "/prod/", Workers: 2}, quiet())

	m.Enqueue(touch(t, filepath.Join(data, "zones", "z1", "snapshots", "3.snap.zst")))
	m.Enqueue(touch(t, filepath.Join(data, "zones", "z1", "audit", "audit-2026-05-04-10.jsonl.zst")))
	m.Enqueue(touch(t, filepath.Join(t.TempDir(), "elsewhere.zst")))
	m.Enqueue(filepath.Join(data, "missing.zst"))
	m.Close()

	sort.Strings(up.keys)
	assert.Equal(t, []string{
		"prod/zones/z1/audit/audit-2026-05-04-10.jsonl.zst",
		"prod/zones/z1/snapshots/3.snap.zst",
	}, up.keys)
	st := m.Stats()
	assert.Equal(t, uint64(4), st.EnqueuedTotal)
	assert.Equal(t, uint64(2), st.UploadSuccessTotal)
	assert.Zero(t, st.UploadFailTotal)
	assert.NotZero(t, st.LastSuccessUnix)
}

func TestMirror_RetriesThenGivesUp(t *testing.T) {
	data := t.TempDir()
	up := &fakeUploader{failures: 2}
	m := NewMirror(up, data, MirrorOptions{MaxAttempts: 3, Backoff: time.Millisecond}, quiet())
	m.Enqueue(touch(t, filepath.Join(data, "a.zst")))
	m.Close()
	assert.Equal(t, 3, up.calls)
	assert.Equal(t, uint64(1), m.Stats().UploadSuccessTotal)

	up = &fakeUploader{failures: 10}
	m = NewMirror(up, data, MirrorOptions{MaxAttempts: 2, Backoff: time.Millisecond}, quiet())
	m.Enqueue(filepath.Join(data, "a.zst"))
	m.Close()
	assert.Equal(t, 2, up.calls)
	st := m.Stats()
	assert.Equal(t, uint64(1), st.UploadFailTotal)
	assert.NotZero(t, st.LastErrorUnix)
}

type blockingUploader struct{ release chan struct{} }

func (b *blockingUploader) Put(context.Context, string, string) error {
	<-b.release
	return nil
}

func TestMirror_DropsWhenSaturated(t *testing.T) {
	data := t.TempDir()
	p := touch(t, filepath.Join(data, "a.zst"))
	up := &blockingUploader{release: make(chan struct{})}
	m := NewMirror(up, data, MirrorOptions{QueueCapacity: 1, EnqueueWait: time.Millisecond}, quiet())

	for i := 0; i < 5; i++ {
		m.Enqueue(p)
	}
	close(up.release)
	m.Close()

	st := m.Stats()
	assert.Equal(t, uint64(5), st.EnqueuedTotal)
	assert.GreaterOrEqual(t, st.DroppedTotal, uint64(3), "one in flight, one queued, the rest dropped")
	assert.Equal(t, st.EnqueuedTotal-st.DroppedTotal, st.UploadSuccessTotal)
}

func TestMirror_NilIsNoop(t *testing.T) {
	var m *Mirror
	m.Enqueue("x")
	m.Close()
	assert.Equal(t, Stats{}, m.Stats())
}
