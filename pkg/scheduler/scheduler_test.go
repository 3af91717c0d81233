package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vault/pkg/index"
	"github.com/cuemby/vault/pkg/types"
)

type fakeIndex struct {
	task *types.TaskRecord
	info index.ClaimInfo

	subtaskErr *types.TaskErrorDetail

	appliedOutcome *types.Outcome
	createdTask    *types.TaskRecord
}

func (f *fakeIndex) ClaimNext(ctx context.Context, executor string, advertised []string) (*types.TaskRecord, index.ClaimInfo, error) {
	return f.task, f.info, nil
}

func (f *fakeIndex) ApplyOutcome(ctx context.Context, taskID string, outcome types.Outcome) error {
	o := outcome
	f.appliedOutcome = &o
	return nil
}

func (f *fakeIndex) SweepStaleClaims(ctx context.Context, lease time.Duration) (int64, int64, error) {
	return 0, 0, nil
}

func (f *fakeIndex) CreateTask(ctx context.Context, t types.TaskRecord, resources []types.ResourceDependency) error {
	f.createdTask = &t
	return nil
}

func (f *fakeIndex) GetSubtaskResult(ctx context.Context, subtaskID string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (f *fakeIndex) GetSubtaskError(ctx context.Context, subtaskID string) (*types.TaskErrorDetail, error) {
	return f.subtaskErr, nil
}

func (f *fakeIndex) GetCompletedSubtasks(ctx context.Context, parentID string) ([]types.TaskRecord, error) {
	return nil, nil
}

func newTestScheduler(fi *fakeIndex) *Scheduler {
	return NewScheduler(fi, "node-1", 1, nil)
}

func TestDispatch_OnStart(t *testing.T) {
	fi := &fakeIndex{
		task: &types.TaskRecord{ID: "t1", TenantID: "tenant-a", Type: "ingest"},
		info: index.ClaimInfo{FirstClaim: true},
	}
	s := newTestScheduler(fi)

	var gotInput json.RawMessage
	s.RegisterType("ingest", Callbacks{
		OnStart: func(ctx context.Context, tc *TaskContext, input json.RawMessage) types.Outcome {
			gotInput = input
			return types.Complete(json.RawMessage(`{"ok":true}`))
		},
	})

	s.dispatch(context.Background(), fi.task, fi.info)

	require.NotNil(t, fi.appliedOutcome)
	assert.Equal(t, types.OutcomeComplete, fi.appliedOutcome.Kind)
	assert.NotNil(t, gotInput)
}

func TestDispatch_OnResume(t *testing.T) {
	fi := &fakeIndex{
		task: &types.TaskRecord{ID: "t1", TenantID: "tenant-a", Type: "ingest"},
		info: index.ClaimInfo{ResumeReason: "resume"},
	}
	s := newTestScheduler(fi)

	called := false
	s.RegisterType("ingest", Callbacks{
		OnStart:  func(ctx context.Context, tc *TaskContext, input json.RawMessage) types.Outcome { return types.Failed("should not run", false) },
		OnResume: func(ctx context.Context, tc *TaskContext, input json.RawMessage) types.Outcome { called = true; return types.Complete(nil) },
	})

	s.dispatch(context.Background(), fi.task, fi.info)

	assert.True(t, called)
	require.NotNil(t, fi.appliedOutcome)
	assert.Equal(t, types.OutcomeComplete, fi.appliedOutcome.Kind)
}

func TestDispatch_OnError(t *testing.T) {
	fi := &fakeIndex{
		task:       &types.TaskRecord{ID: "t1", TenantID: "tenant-a", Type: "ingest"},
		info:       index.ClaimInfo{ResumeReason: "error", FailedSubtaskID: "sub-1"},
		subtaskErr: &types.TaskErrorDetail{Message: "boom", Retryable: false},
	}
	s := newTestScheduler(fi)

	var gotErr *types.TaskErrorDetail
	s.RegisterType("ingest", Callbacks{
		OnError: func(ctx context.Context, tc *TaskContext, input json.RawMessage, subtaskErr *types.TaskErrorDetail) types.Outcome {
			gotErr = subtaskErr
			return types.Failed("propagated: "+subtaskErr.Message, false)
		},
	})

	s.dispatch(context.Background(), fi.task, fi.info)

	require.NotNil(t, gotErr)
	assert.Equal(t, "boom", gotErr.Message)
	require.NotNil(t, fi.appliedOutcome)
	assert.Equal(t, types.OutcomeFailed, fi.appliedOutcome.Kind)
}

func TestDispatch_NoCallbackRegistered(t *testing.T) {
	fi := &fakeIndex{
		task: &types.TaskRecord{ID: "t1", TenantID: "tenant-a", Type: "unknown-type"},
		info: index.ClaimInfo{FirstClaim: true},
	}
	s := newTestScheduler(fi)

	s.dispatch(context.Background(), fi.task, fi.info)

	require.NotNil(t, fi.appliedOutcome)
	assert.Equal(t, types.OutcomeFailed, fi.appliedOutcome.Kind)
	assert.False(t, fi.appliedOutcome.Err.Retryable)
}

func TestClaimAndDispatch_NoTaskAvailable(t *testing.T) {
	fi := &fakeIndex{task: nil}
	s := newTestScheduler(fi)

	got := s.claimAndDispatch(0)

	assert.False(t, got)
	assert.Nil(t, fi.appliedOutcome)
}

func TestTaskContext_CreateSubtask(t *testing.T) {
	fi := &fakeIndex{}
	tc := &TaskContext{idx: fi, taskID: "parent-1", tenantID: "tenant-a"}

	id, err := tc.CreateSubtask(context.Background(), "reconstruct", json.RawMessage(`{"k":"v"}`), 5)

	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NotNil(t, fi.createdTask)
	assert.Equal(t, "parent-1", fi.createdTask.ParentID)
	assert.Equal(t, "tenant-a", fi.createdTask.TenantID)
	assert.Equal(t, "reconstruct", fi.createdTask.Type)
	assert.Equal(t, 5, fi.createdTask.Priority)
}
