package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/cuemby/vault/pkg/types"
)

// TaskContext is the subtask API (§4.4's TaskContext) handed to a
// lifecycle callback: createSubtask, getSubtaskResult, getSubtaskError,
// getCompletedSubtasks, all scoped to the task that owns it.
type TaskContext struct {
	idx      taskIndex
	taskID   string
	tenantID string
}

// TaskID returns the id of the task this context belongs to.
func (tc *TaskContext) TaskID() string { return tc.taskID }

// TenantID returns the owning tenant, inherited by every subtask.
func (tc *TaskContext) TenantID() string { return tc.tenantID }

// CreateSubtask inserts a subtask row linked to this task as parent,
// inheriting tenant, and returns its id.
func (tc *TaskContext) CreateSubtask(ctx context.Context, taskType string, input json.RawMessage, priority int, resources ...types.ResourceDependency) (string, error) {
	id := uuid.New().String()
	t := types.TaskRecord{
		ID:       id,
		TenantID: tc.tenantID,
		ParentID: tc.taskID,
		Type:     taskType,
		Status:   types.TaskOpen,
		Priority: priority,
		Input:    input,
	}
	if err := tc.idx.CreateTask(ctx, t, resources); err != nil {
		return "", fmt.Errorf("scheduler: create subtask: %w", err)
	}
	return id, nil
}

// GetSubtaskResult returns a COMPLETE subtask's output.
func (tc *TaskContext) GetSubtaskResult(ctx context.Context, subtaskID string) (json.RawMessage, error) {
	return tc.idx.GetSubtaskResult(ctx, subtaskID)
}

// GetSubtaskError returns a DEAD/ERROR subtask's stored failure detail.
func (tc *TaskContext) GetSubtaskError(ctx context.Context, subtaskID string) (*types.TaskErrorDetail, error) {
	return tc.idx.GetSubtaskError(ctx, subtaskID)
}

// GetCompletedSubtasks lists every COMPLETE child of this task.
func (tc *TaskContext) GetCompletedSubtasks(ctx context.Context) ([]types.TaskRecord, error) {
	return tc.idx.GetCompletedSubtasks(ctx, tc.taskID)
}
