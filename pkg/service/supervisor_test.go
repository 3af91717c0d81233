package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	name      string
	startErr  error
	stopErr   error
	startedAt time.Time
	stoppedAt time.Time
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(ctx context.Context) error {
	f.startedAt = time.Now()
	return f.startErr
}

func (f *fakeService) Stop(ctx context.Context) error {
	f.stoppedAt = time.Now()
	return f.stopErr
}

func TestSupervisor_StartsInDependencyOrder(t *testing.T) {
	sup := NewSupervisor()
	store := &fakeService{name: "store"}
	idx := &fakeService{name: "index"}
	pipeline := &fakeService{name: "pipeline"}

	sup.Register(store)
	sup.Register(idx)
	sup.Register(pipeline, "store", "index")

	require.NoError(t, sup.Start(context.Background()))

	assert.True(t, store.startedAt.Before(pipeline.startedAt))
	assert.True(t, idx.startedAt.Before(pipeline.startedAt))
	assert.Equal(t, StateRunning, sup.State("store"))
	assert.Equal(t, StateRunning, sup.State("index"))
	assert.Equal(t, StateRunning, sup.State("pipeline"))
}

func TestSupervisor_StopsInReverseOrder(t *testing.T) {
	sup := NewSupervisor()
	store := &fakeService{name: "store"}
	pipeline := &fakeService{name: "pipeline"}
	sup.Register(store)
	sup.Register(pipeline, "store")

	require.NoError(t, sup.Start(context.Background()))
	require.NoError(t, sup.Stop(context.Background()))

	assert.True(t, pipeline.stoppedAt.Before(store.stoppedAt))
	assert.Equal(t, StateStopped, sup.State("store"))
	assert.Equal(t, StateStopped, sup.State("pipeline"))
}

func TestSupervisor_FailureCascades(t *testing.T) {
	sup := NewSupervisor()
	store := &fakeService{name: "store", startErr: errors.New("disk full")}
	pipeline := &fakeService{name: "pipeline"}
	sup.Register(store)
	sup.Register(pipeline, "store")

	err := sup.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, sup.State("store"))
	assert.Equal(t, StateFailed, sup.State("pipeline"), "dependents must cascade to FAILED")
}

func TestSupervisor_CycleRejected(t *testing.T) {
	sup := NewSupervisor()
	a := &fakeService{name: "a"}
	b := &fakeService{name: "b"}
	sup.Register(a, "b")
	sup.Register(b, "a")

	err := sup.Start(context.Background())
	require.Error(t, err)
}

func TestSupervisor_UnregisteredDependencyRejected(t *testing.T) {
	sup := NewSupervisor()
	sup.Register(&fakeService{name: "pipeline"}, "ghost")

	err := sup.Start(context.Background())
	require.Error(t, err)
}

func TestSupervisor_EmitsStateChangedEvents(t *testing.T) {
	sup := NewSupervisor()
	sub := sup.Subscribe()
	defer sup.Unsubscribe(sub)

	sup.Register(&fakeService{name: "store"})
	require.NoError(t, sup.Start(context.Background()))

	var got []StateChanged
	for len(got) < 2 {
		select {
		case ev := <-sub:
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for state changed events")
		}
	}
	assert.Equal(t, StateStarting, got[0].New)
	assert.Equal(t, StateRunning, got[1].New)
}

func TestSupervisor_ActiveServices(t *testing.T) {
	sup := NewSupervisor()
	sup.Register(&fakeService{name: "store"})
	sup.Register(&fakeService{name: "broken", startErr: errors.New("boom")})

	_ = sup.Start(context.Background())
	assert.Equal(t, []string{"store"}, sup.ActiveServices())
}
