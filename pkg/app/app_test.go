package app

import (
	"context"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vault/pkg/service"
	"github.com/cuemby/vault/pkg/types"
	"github.com/cuemby/vault/pkg/vaulterrors"
)

type fakeStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{data: map[string][]byte{}} }

func (s *fakeStore) key(tenantID string, ref types.BlobRef) string { return tenantID + "|" + ref.String() }

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

func (s *fakeStore) Delete(ctx context.Context, tenantID string, ref types.BlobRef) error { return nil }

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

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestApp_New_RequiresStoreAndDB(t *testing.T) {
	_, err := New(Config{Executor: "exec-1"})
	require.Error(t, err)

	db, _ := newMockDB(t)
	_, err = New(Config{DB: db, Executor: "exec-1"})
	require.Error(t, err)
}

func TestApp_StartStop_RunsMigrateThenStopsCleanly(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	a, err := New(Config{Store: newFakeStore(), DB: db, Executor: "exec-1"})
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, service.StateRunning, a.State("index"))
	assert.Equal(t, service.StateRunning, a.State("pipeline"))
	assert.Equal(t, service.StateRunning, a.State("scheduler"))

	require.NoError(t, a.Stop(context.Background()))
	assert.Equal(t, service.StateStopped, a.State("pipeline"))
	assert.Equal(t, service.StateStopped, a.State("index"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApp_Start_ForwardsStateChangesToEventBroker(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	a, err := New(Config{Store: newFakeStore(), DB: db, Executor: "exec-1"})
	require.NoError(t, err)

	sub := a.Events.Subscribe()
	defer a.Events.Unsubscribe(sub)

	require.NoError(t, a.Start(context.Background()))

	seenIndexRunning := false
	for !seenIndexRunning {
		ev := <-sub
		if ev.Metadata["service"] == "index" && ev.Metadata["to"] == string(service.StateRunning) {
			seenIndexRunning = true
		}
	}
	assert.True(t, seenIndexRunning)

	require.NoError(t, a.Stop(context.Background()))
}

func TestApp_Start_MigrationFailureFailsDependents(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(".*").WillReturnError(assert.AnError)

	a, err := New(Config{Store: newFakeStore(), DB: db, Executor: "exec-1"})
	require.NoError(t, err)

	err = a.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, service.StateFailed, a.State("index"))
	assert.Equal(t, service.StateFailed, a.State("pipeline"))
	assert.Equal(t, service.StateFailed, a.State("scheduler"))
}
