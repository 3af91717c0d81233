package ingest

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

	"github.com/cuemby/vault/pkg/index"
	"github.com/cuemby/vault/pkg/types"
	"github.com/cuemby/vault/pkg/vaulterrors"
)

type fakeIndex struct {
	mu       sync.Mutex
	blobRefs map[string]int64
	blobs    map[string]int64
	nextRef  int64
	nextBlob int64

	containers []containerCall
}

type containerCall struct {
	blobID  int64
	entries []index.ManifestEntry
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
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers = append(f.containers, containerCall{blobID: blobID, entries: entries})
	return blobID, nil
}

func (f *fakeIndex) containerFor(blobID int64) (containerCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		if c.blobID == blobID {
			return c, true
		}
	}
	return containerCall{}, false
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

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
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

func newTestPipeline() (*Pipeline, *fakeIndex, *fakeStore) {
	fi := newFakeIndex()
	fs := newFakeStore()
	p := NewPipeline(fs, fi, nil, 4)
	p.Start()
	return p, fi, fs
}

func TestIngest_RawLeaf(t *testing.T) {
	p, _, fs := newTestPipeline()
	defer p.Stop()

	ref, err := p.Ingest(context.Background(), "tenant-a", "task-1", []byte("hello world"), "hello.txt")
	require.NoError(t, err)
	assert.False(t, ref.IsContainer)
	assert.Equal(t, int64(len("hello world")), ref.LeafSize)

	data, err := fs.Read(context.Background(), "tenant-a", ref)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestIngest_Zip_SimpleArchive(t *testing.T) {
	p, fi, _ := newTestPipeline()
	defer p.Stop()

	content := buildZip(t, []zipEntry{{"a.txt", "aaa"}, {"b.txt", "bbb"}})

	ref, err := p.Ingest(context.Background(), "tenant-a", "task-2", content, "archive.zip")
	require.NoError(t, err)
	assert.True(t, ref.IsContainer)

	cc, ok := waitForContainer(fi, ref)
	require.True(t, ok, "container row never created")
	require.Len(t, cc.entries, 2)
	assert.Equal(t, "a.txt", cc.entries[0].InternalPath)
	assert.Equal(t, "b.txt", cc.entries[1].InternalPath)
}

func TestIngest_Zip_DedupWithinArchive(t *testing.T) {
	p, fi, fs := newTestPipeline()
	defer p.Stop()

	content := buildZip(t, []zipEntry{{"a.txt", "same"}, {"b.txt", "same"}})

	ref, err := p.Ingest(context.Background(), "tenant-a", "task-3", content, "archive.zip")
	require.NoError(t, err)

	cc, ok := waitForContainer(fi, ref)
	require.True(t, ok)
	require.Len(t, cc.entries, 2)
	assert.Equal(t, cc.entries[0].Ref, cc.entries[1].Ref)

	// Only one object for the shared leaf content, plus the manifest.
	assert.Equal(t, 2, fs.count())
}

func TestIngest_NestedZip(t *testing.T) {
	p, fi, _ := newTestPipeline()
	defer p.Stop()

	inner := buildZip(t, []zipEntry{{"inner.txt", "deep"}})
	outer := buildZip(t, []zipEntry{{"nested.zip", string(inner)}, {"top.txt", "shallow"}})

	ref, err := p.Ingest(context.Background(), "tenant-a", "task-4", outer, "outer.zip")
	require.NoError(t, err)

	cc, ok := waitForContainer(fi, ref)
	require.True(t, ok)
	require.Len(t, cc.entries, 2)

	var nestedEntry *index.ManifestEntry
	for i := range cc.entries {
		if cc.entries[i].InternalPath == "nested.zip" {
			nestedEntry = &cc.entries[i]
		}
	}
	require.NotNil(t, nestedEntry)
	require.NotNil(t, nestedEntry.Ref)
	assert.True(t, nestedEntry.Ref.IsContainer)

	innerCC, ok := waitForContainer(fi, *nestedEntry.Ref)
	require.True(t, ok, "inner container row never created")
	require.Len(t, innerCC.entries, 1)
	assert.Equal(t, "inner.txt", innerCC.entries[0].InternalPath)
}

func TestIngest_TarGz_KeptAsLeafWithBonusDecomposition(t *testing.T) {
	p, fi, _ := newTestPipeline()
	defer p.Stop()

	content := buildTarGz(t, []zipEntry{{"one.txt", "1"}, {"two.txt", "2"}})

	ref, err := p.Ingest(context.Background(), "tenant-a", "task-5", content, "bundle.tar.gz")
	require.NoError(t, err)
	assert.False(t, ref.IsContainer, "STORED tier must keep the whole container as a leaf")

	// The bonus decomposition runs detached; give it a moment to land.
	var bonusEntries int
	require.Eventually(t, func() bool {
		fi.mu.Lock()
		defer fi.mu.Unlock()
		for _, c := range fi.containers {
			bonusEntries = len(c.entries)
			if bonusEntries == 2 {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond, "bonus ingest never produced a 2-entry container")
}

func TestIngest_DirectoryEntry(t *testing.T) {
	p, fi, _ := newTestPipeline()
	defer p.Stop()

	content := buildZip(t, []zipEntry{{"dir/", ""}, {"dir/file.txt", "x"}})

	ref, err := p.Ingest(context.Background(), "tenant-a", "task-6", content, "archive.zip")
	require.NoError(t, err)

	cc, ok := waitForContainer(fi, ref)
	require.True(t, ok)
	require.Len(t, cc.entries, 2)
	assert.Equal(t, types.EntryTypeDirectory, cc.entries[0].EntryType)
	assert.Nil(t, cc.entries[0].Ref, "a directory has no blob of its own")
}

// waitForContainer polls fi for the container row keyed by ref's
// dedup-gated blobID under tenant-a, since CreateContainer runs
// asynchronously relative to Ingest's return for any fan-in other
// than the root's.
func waitForContainer(fi *fakeIndex, ref types.BlobRef) (containerCall, bool) {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		fi.mu.Lock()
		blobID, owned := fi.blobs["tenant-a|"+ref.String()]
		fi.mu.Unlock()
		if owned {
			if cc, ok := fi.containerFor(blobID); ok {
				return cc, true
			}
		}
		time.Sleep(time.Millisecond)
	}
	return containerCall{}, false
}
