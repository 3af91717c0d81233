package reconstruct

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vault/pkg/ingest"
	"github.com/cuemby/vault/pkg/index"
	"github.com/cuemby/vault/pkg/types"
	"github.com/cuemby/vault/pkg/vaulterrors"
)

// fakeIndex and fakeStore reproduce the in-memory doubles used by
// pkg/ingest's own tests — duplicated here since those are unexported
// to that package.

type fakeIndex struct {
	mu       sync.Mutex
	blobRefs map[string]int64
	blobs    map[string]int64
	nextRef  int64
	nextBlob int64
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{blobRefs: map[string]int64{}, blobs: map[string]int64{}}
}

func (f *fakeIndex) DedupGate(ctx context.Context, tenantID string, ref types.BlobRef, mimeHint, handlerKey string) (int64, int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := ref.String()
	blobRefID, ok := f.blobRefs[key]
	if !ok {
		f.nextRef++
		blobRefID = f.nextRef
		f.blobRefs[key] = blobRefID
	}

	tkey := tenantID + "|" + key
	if blobID, owned := f.blobs[tkey]; owned {
		return blobRefID, blobID, true, nil
	}
	f.nextBlob++
	blobID := f.nextBlob
	f.blobs[tkey] = blobID
	return blobRefID, blobID, false, nil
}

func (f *fakeIndex) CreateContainer(ctx context.Context, blobID int64, entries []index.ManifestEntry) (int64, error) {
	return blobID, nil
}

type fakeStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string][]byte{}}
}

func (s *fakeStore) key(tenantID string, ref types.BlobRef) string {
	return tenantID + "|" + ref.String()
}

func (s *fakeStore) Read(ctx context.Context, tenantID string, ref types.BlobRef) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[s.key(tenantID, ref)]
	if !ok {
		return nil, vaulterrors.ErrBlobNotFound
	}
	return d, nil
}

func (s *fakeStore) Create(ctx context.Context, tenantID string, ref types.BlobRef, data []byte, mimeHint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[s.key(tenantID, ref)] = append([]byte(nil), data...)
	return nil
}

func (s *fakeStore) Exists(ctx context.Context, tenantID string, ref types.BlobRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[s.key(tenantID, ref)]
	return ok, nil
}

func (s *fakeStore) Delete(ctx context.Context, tenantID string, ref types.BlobRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, s.key(tenantID, ref))
	return nil
}

func (s *fakeStore) DeleteTenant(ctx context.Context, tenantID string) error { return nil }

func (s *fakeStore) ListTenants(ctx context.Context) (<-chan string, <-chan error) {
	ch := make(chan string)
	errCh := make(chan error)
	close(ch)
	close(errCh)
	return ch, errCh
}

func (s *fakeStore) ListContainers(ctx context.Context, tenantID string) (<-chan types.BlobRef, <-chan error) {
	ch := make(chan types.BlobRef)
	errCh := make(chan error)
	close(ch)
	close(errCh)
	return ch, errCh
}

type zipEntry struct {
	name, body string
}

func buildZip(t *testing.T, entries []zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		fw, err := w.Create(e.name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func buildTarGz(t *testing.T, entries []zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: e.name, Size: int64(len(e.body)), Mode: 0644,
			ModTime: time.Unix(1700000000, 0),
		}))
		_, err := tw.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestReconstruct_RawLeaf(t *testing.T) {
	fs := newFakeStore()
	fi := newFakeIndex()
	p := ingest.NewPipeline(fs, fi, nil, 2)
	p.Start()
	defer p.Stop()

	ref, err := p.Ingest(context.Background(), "tenant-a", "task-1", []byte("hello world"), "hello.txt")
	require.NoError(t, err)

	r := NewReconstructor(fs, nil)
	out, err := r.Reconstruct(context.Background(), "tenant-a", ref)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out))
}

func TestReconstruct_Zip_RoundTrip(t *testing.T) {
	fs := newFakeStore()
	fi := newFakeIndex()
	p := ingest.NewPipeline(fs, fi, nil, 4)
	p.Start()
	defer p.Stop()

	original := buildZip(t, []zipEntry{{"a.txt", "aaa"}, {"b.txt", "bbb"}})

	ref, err := p.Ingest(context.Background(), "tenant-a", "task-2", original, "archive.zip")
	require.NoError(t, err)
	require.True(t, ref.IsContainer)

	r := NewReconstructor(fs, nil)

	var out []byte
	require.Eventually(t, func() bool {
		out, err = r.Reconstruct(context.Background(), "tenant-a", ref)
		return err == nil
	}, time.Second, time.Millisecond, "manifest not yet written by fan-in completion")

	assert.Equal(t, original, out, "reconstructed zip must be byte-identical to the original")
}

func TestReconstruct_Zip_DirectoryEntryRoundTrip(t *testing.T) {
	fs := newFakeStore()
	fi := newFakeIndex()
	p := ingest.NewPipeline(fs, fi, nil, 4)
	p.Start()
	defer p.Stop()

	original := buildZip(t, []zipEntry{{"dir/", ""}, {"dir/file.txt", "x"}})

	ref, err := p.Ingest(context.Background(), "tenant-a", "task-dir", original, "archive.zip")
	require.NoError(t, err)

	r := NewReconstructor(fs, nil)

	var out []byte
	require.Eventually(t, func() bool {
		out, err = r.Reconstruct(context.Background(), "tenant-a", ref)
		return err == nil
	}, time.Second, time.Millisecond, "manifest not yet written by fan-in completion")

	assert.Equal(t, original, out, "a directory entry carries no blob but still round-trips byte-identically")
}

func TestReconstruct_NestedZip_RoundTrip(t *testing.T) {
	fs := newFakeStore()
	fi := newFakeIndex()
	p := ingest.NewPipeline(fs, fi, nil, 4)
	p.Start()
	defer p.Stop()

	inner := buildZip(t, []zipEntry{{"inner.txt", "deep"}})
	outer := buildZip(t, []zipEntry{{"nested.zip", string(inner)}, {"top.txt", "shallow"}})

	ref, err := p.Ingest(context.Background(), "tenant-a", "task-3", outer, "outer.zip")
	require.NoError(t, err)

	r := NewReconstructor(fs, nil)

	var out []byte
	require.Eventually(t, func() bool {
		out, err = r.Reconstruct(context.Background(), "tenant-a", ref)
		return err == nil
	}, time.Second, time.Millisecond, "manifest not yet written by fan-in completion")

	assert.Equal(t, outer, out, "reconstructed nested zip must be byte-identical to the original")
}

func TestReconstruct_TarGz_NotReconstructable(t *testing.T) {
	fs := newFakeStore()
	fi := newFakeIndex()
	p := ingest.NewPipeline(fs, fi, nil, 2)
	p.Start()
	defer p.Stop()

	content := buildTarGz(t, []zipEntry{{"one.txt", "1"}})

	ref, err := p.Ingest(context.Background(), "tenant-a", "task-4", content, "bundle.tar.gz")
	require.NoError(t, err)
	require.False(t, ref.IsContainer)

	r := NewReconstructor(fs, nil)
	out, err := r.Reconstruct(context.Background(), "tenant-a", ref)
	require.NoError(t, err)
	assert.Equal(t, content, out, "STORED tier reconstructs by reading back the original leaf bytes")
}
