package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vault/pkg/types"
	"github.com/cuemby/vault/pkg/vaulterrors"
)

func newTestStore(t *testing.T) *FilesystemStore {
	t.Helper()
	s, err := NewFilesystemStore(t.TempDir(), true)
	require.NoError(t, err)
	return s
}

func leafRef(t *testing.T, content []byte) types.BlobRef {
	t.Helper()
	ref, err := types.NewLeafRef(types.Hash(content), int64(len(content)))
	require.NoError(t, err)
	return ref
}

func TestFilesystemStore_CreateReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	content := []byte("hello vault")
	ref := leafRef(t, content)

	require.NoError(t, s.Create(ctx, "tenant-a", ref, content, ""))

	got, err := s.Read(ctx, "tenant-a", ref)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	ok, err := s.Exists(ctx, "tenant-a", ref)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFilesystemStore_ReadMissingReturnsBlobNotFound(t *testing.T) {
	s := newTestStore(t)
	ref := leafRef(t, []byte("never written"))

	_, err := s.Read(context.Background(), "tenant-a", ref)
	assert.ErrorIs(t, err, vaulterrors.ErrBlobNotFound)
}

func TestFilesystemStore_WriteOnceCheck_IdenticalContentIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	content := []byte("idempotent")
	ref := leafRef(t, content)

	require.NoError(t, s.Create(ctx, "tenant-a", ref, content, ""))
	require.NoError(t, s.Create(ctx, "tenant-a", ref, content, ""))
}

func TestFilesystemStore_WriteOnceCheck_DifferingContentConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	content := []byte("original")
	ref := leafRef(t, content)

	require.NoError(t, s.Create(ctx, "tenant-a", ref, content, ""))
	// Same ref, different bytes: simulates a hash collision or a caller
	// bug reusing a key, which write-once must reject.
	err := s.Create(ctx, "tenant-a", ref, []byte("tampered!"), "")
	assert.ErrorIs(t, err, vaulterrors.ErrBlobAlreadyExists)
}

func TestFilesystemStore_DeletePrunesEmptyParents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	content := []byte("to be deleted")
	ref := leafRef(t, content)

	require.NoError(t, s.Create(ctx, "tenant-a", ref, content, ""))
	path := s.keyPath("tenant-a", ref)
	_, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "tenant-a", ref))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// The two-tier shard directories should have been pruned back up
	// to (but not including) the tenant root.
	_, err = os.Stat(filepath.Dir(path))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(s.tenantRoot("tenant-a"))
	assert.NoError(t, err)
}

func TestFilesystemStore_DeleteMissingReturnsBlobNotFound(t *testing.T) {
	s := newTestStore(t)
	ref := leafRef(t, []byte("absent"))
	err := s.Delete(context.Background(), "tenant-a", ref)
	assert.ErrorIs(t, err, vaulterrors.ErrBlobNotFound)
}

func TestFilesystemStore_ListTenants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, tenant := range []string{"tenant-a", "tenant-b"} {
		content := []byte("data for " + tenant)
		require.NoError(t, s.Create(ctx, tenant, leafRef(t, content), content, ""))
	}

	out, errc := s.ListTenants(ctx)
	var tenants []string
	for tenant := range out {
		tenants = append(tenants, tenant)
	}
	require.NoError(t, <-errc)
	assert.ElementsMatch(t, []string{"tenant-a", "tenant-b"}, tenants)
}

func TestFilesystemStore_ListContainers_OnlyContainerKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	leaf := []byte("leaf bytes")
	require.NoError(t, s.Create(ctx, "tenant-a", leafRef(t, leaf), leaf, ""))

	manifestBytes := []byte("manifest bytes")
	containerRef, err := types.NewContainerRef(types.Hash(manifestBytes), int64(len(manifestBytes)))
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, "tenant-a", containerRef, manifestBytes, ""))

	out, errc := s.ListContainers(ctx, "tenant-a")
	var refs []types.BlobRef
	for r := range out {
		refs = append(refs, r)
	}
	require.NoError(t, <-errc)
	require.Len(t, refs, 1)
	assert.True(t, refs[0].Equal(containerRef))
}

func TestFilesystemStore_DeleteTenant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	content := []byte("tenant scoped")
	ref := leafRef(t, content)
	require.NoError(t, s.Create(ctx, "tenant-a", ref, content, ""))

	require.NoError(t, s.DeleteTenant(ctx, "tenant-a"))

	_, err := os.Stat(s.tenantRoot("tenant-a"))
	assert.True(t, os.IsNotExist(err))
}
