package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuemby/vault/pkg/types"
	"github.com/cuemby/vault/pkg/vaulterrors"
)

// CreateTask inserts a root or sub- task row together with its
// resource-dependency edges, atomically, per §4.4's resource model.
func (x *Index) CreateTask(ctx context.Context, t types.TaskRecord, resources []types.ResourceDependency) error {
	tx, err := x.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: create task begin: %w", err)
	}
	defer tx.Rollback()

	var parentID interface{}
	if t.ParentID != "" {
		parentID = t.ParentID
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task (id, tenant_id, parent_id, type, status, priority, input, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.TenantID, parentID, t.Type, t.Status, t.Priority, []byte(t.Input), t.MaxRetries); err != nil {
		return fmt.Errorf("index: create task: %w", err)
	}

	for _, r := range resources {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO resource_dependency (task_type, resource_name, max_concurrency)
			VALUES ($1, $2, $3)
			ON CONFLICT (task_type, resource_name) DO NOTHING
		`, r.TaskType, r.ResourceName, r.MaxConcurrency); err != nil {
			return fmt.Errorf("index: create task resource dependency: %w", err)
		}
	}

	if t.ParentID != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_dependency (parent_id, subtask_id) VALUES ($1, $2)
		`, t.ParentID, t.ID); err != nil {
			return fmt.Errorf("index: create task dependency edge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: create task commit: %w", err)
	}
	return nil
}

// ClaimInfo tells the scheduler which lifecycle callback a freshly
// claimed task needs: onStart the first time a task is ever claimed,
// onResume when every blocking subtask completed, onError when a
// subtask reached DEAD and the parent's default error-propagation
// callback must run.
type ClaimInfo struct {
	FirstClaim      bool
	ResumeReason    string // "", "resume", "error"
	FailedSubtaskID string
}

// ClaimNext implements §4.4's claim protocol: highest-priority OPEN
// task whose resource dependencies are all satisfied by
// advertisedResources, selected with SELECT ... FOR UPDATE SKIP LOCKED
// so N racing workers yield at most one winner.
func (x *Index) ClaimNext(ctx context.Context, executor string, advertisedResources []string) (*types.TaskRecord, ClaimInfo, error) {
	tx, err := x.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, ClaimInfo{}, fmt.Errorf("index: claim begin: %w", err)
	}
	defer tx.Rollback()

	query, args, err := sqlx.In(`
		SELECT t.id, t.tenant_id, t.parent_id, t.type, t.status, t.priority, t.input, t.output,
		       t.retryable, t.retry_count, t.max_retries, t.executor, t.resume_reason,
		       t.resume_subtask_id, t.created_at, t.claimed_at, t.completed_at, t.expires_at
		FROM task t
		WHERE t.status = 'OPEN'
		  AND NOT EXISTS (
		        SELECT 1 FROM resource_dependency rd
		        WHERE rd.task_type = t.type
		          AND (
		                rd.resource_name NOT IN (?)
		                OR (
		                      rd.max_concurrency > 0
		                      AND (SELECT count(*) FROM resource_lease rl WHERE rl.resource_name = rd.resource_name) >= rd.max_concurrency
		                   )
		              )
		    )
		ORDER BY t.priority DESC, t.created_at ASC
		FOR UPDATE OF t SKIP LOCKED
		LIMIT 1
	`, resourceListOrSentinel(advertisedResources))
	if err != nil {
		return nil, ClaimInfo{}, fmt.Errorf("index: claim build query: %w", err)
	}
	query = tx.Rebind(query)

	var row taskRow
	if err := tx.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ClaimInfo{}, nil
		}
		return nil, ClaimInfo{}, fmt.Errorf("index: claim select: %w", err)
	}

	info := ClaimInfo{
		FirstClaim:      row.ClaimedAt == nil,
		ResumeReason:    row.ResumeReason,
		FailedSubtaskID: row.ResumeSubtaskID.String,
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE task SET status = 'IN_PROGRESS', executor = $1, claimed_at = now(), updated_at = now(),
		       resume_reason = '', resume_subtask_id = NULL
		WHERE id = $2
	`, executor, row.ID); err != nil {
		return nil, ClaimInfo{}, fmt.Errorf("index: claim update: %w", err)
	}

	if err := grantResourceLeases(ctx, tx, row.Type, row.ID); err != nil {
		return nil, ClaimInfo{}, err
	}

	if err := tx.Commit(); err != nil {
		return nil, ClaimInfo{}, fmt.Errorf("index: claim commit: %w", err)
	}

	rec := row.toRecord()
	rec.Status = types.TaskInProgress
	rec.Executor = executor
	return &rec, info, nil
}

// resourceListOrSentinel guarantees NOT IN (?) never degenerates into
// NOT IN () — an empty advertised set must still exclude every task
// that declares a resource dependency, not silently admit all of them.
func resourceListOrSentinel(resources []string) []string {
	if len(resources) == 0 {
		return []string{"\x00no-resources-advertised"}
	}
	return resources
}

func grantResourceLeases(ctx context.Context, tx *sqlx.Tx, taskType, taskID string) error {
	rows, err := tx.QueryxContext(ctx, `SELECT resource_name FROM resource_dependency WHERE task_type = $1`, taskType)
	if err != nil {
		return fmt.Errorf("index: grant leases select: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("index: grant leases scan: %w", err)
		}
		names = append(names, name)
	}

	for _, name := range names {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO resource_lease (resource_name, task_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, name, taskID); err != nil {
			return fmt.Errorf("index: grant lease %s: %w", name, err)
		}
	}
	return nil
}

func releaseResourceLeases(ctx context.Context, tx *sqlx.Tx, taskID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM resource_lease WHERE task_id = $1`, taskID); err != nil {
		return fmt.Errorf("index: release leases: %w", err)
	}
	return nil
}

// ApplyOutcome persists a lifecycle callback's Outcome against taskID,
// per §4.4's Outcome variants. For Failed, the error's retryable flag,
// maxRetries and the task's current retryCount decide between a retry
// and DEAD; a retried task goes straight back to OPEN with its retry
// count incremented, and the ERROR status is never written.
func (x *Index) ApplyOutcome(ctx context.Context, taskID string, outcome types.Outcome) error {
	tx, err := x.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: apply outcome begin: %w", err)
	}
	defer tx.Rollback()

	switch outcome.Kind {
	case types.OutcomeComplete:
		if _, err := tx.ExecContext(ctx, `
			UPDATE task SET status = 'COMPLETE', output = $1, completed_at = now(), updated_at = now(), executor = ''
			WHERE id = $2
		`, []byte(outcome.Output), taskID); err != nil {
			return fmt.Errorf("index: apply complete: %w", err)
		}
		if err := releaseResourceLeases(ctx, tx, taskID); err != nil {
			return err
		}
		if err := unblockParents(ctx, tx, taskID); err != nil {
			return err
		}

	case types.OutcomeBlocked:
		if _, err := tx.ExecContext(ctx, `
			UPDATE task SET status = 'BLOCKED', updated_at = now(), executor = '' WHERE id = $1
		`, taskID); err != nil {
			return fmt.Errorf("index: apply blocked: %w", err)
		}
		if err := releaseResourceLeases(ctx, tx, taskID); err != nil {
			return err
		}
		for _, subtaskID := range outcome.SubtaskIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO task_dependency (parent_id, subtask_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, taskID, subtaskID); err != nil {
				return fmt.Errorf("index: apply blocked dependency: %w", err)
			}
		}

	case types.OutcomeBackground:
		expiresAt := time.Now().Add(outcome.BackgroundTimeout)
		if _, err := tx.ExecContext(ctx, `
			UPDATE task SET status = 'BACKGROUND', expires_at = $1, updated_at = now() WHERE id = $2
		`, expiresAt, taskID); err != nil {
			return fmt.Errorf("index: apply background: %w", err)
		}

	case types.OutcomeFailed:
		dead, err := applyFailure(ctx, tx, taskID, outcome.Err)
		if err != nil {
			return err
		}
		if err := releaseResourceLeases(ctx, tx, taskID); err != nil {
			return err
		}
		if dead {
			if err := unblockParentsOnFailure(ctx, tx, taskID); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("index: apply outcome: unknown kind %q", outcome.Kind)
	}

	return commitOrWrap(tx, "apply outcome")
}

// applyFailure persists a Failed outcome, retrying in place if the
// error is retryable and under budget, else moving to DEAD. It reports
// whether the task reached DEAD so the caller can propagate the
// failure to any waiting parent.
func applyFailure(ctx context.Context, tx *sqlx.Tx, taskID string, detail *types.TaskErrorDetail) (dead bool, err error) {
	var retryCount, maxRetries int
	if err := tx.QueryRowContext(ctx, `SELECT retry_count, max_retries FROM task WHERE id = $1`, taskID).Scan(&retryCount, &maxRetries); err != nil {
		return false, fmt.Errorf("index: apply failure lookup: %w", err)
	}

	errBody, err := json.Marshal(detail)
	if err != nil {
		return false, fmt.Errorf("index: apply failure marshal: %w", err)
	}

	if detail.Retryable && retryCount < maxRetries {
		_, err = tx.ExecContext(ctx, `
			UPDATE task SET status = 'OPEN', retry_count = retry_count + 1, executor = '',
			       claimed_at = NULL, output = $1, updated_at = now()
			WHERE id = $2
		`, errBody, taskID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE task SET status = 'DEAD', output = $1, completed_at = now(), executor = '', updated_at = now()
			WHERE id = $2
		`, errBody, taskID)
		dead = true
	}
	if err != nil {
		return false, fmt.Errorf("index: apply failure: %w", err)
	}
	return dead, nil
}

// unblockParents marks taskID's dependency edges resolved (setting
// resolved_at; the rows are kept) and re-opens any BLOCKED parent whose incomplete-dependency count has
// reached zero.
func unblockParents(ctx context.Context, tx *sqlx.Tx, subtaskID string) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE task_dependency SET resolved_at = now() WHERE subtask_id = $1
	`, subtaskID); err != nil {
		return fmt.Errorf("index: unblock mark resolved: %w", err)
	}

	var parentIDs []string
	if err := tx.SelectContext(ctx, &parentIDs, `
		SELECT parent_id FROM task_dependency WHERE subtask_id = $1
	`, subtaskID); err != nil {
		return fmt.Errorf("index: unblock select parents: %w", err)
	}

	for _, parentID := range parentIDs {
		var remaining int
		if err := tx.GetContext(ctx, &remaining, `
			SELECT count(*) FROM task_dependency WHERE parent_id = $1 AND resolved_at IS NULL
		`, parentID); err != nil {
			return fmt.Errorf("index: unblock count remaining: %w", err)
		}
		if remaining == 0 {
			if _, err := tx.ExecContext(ctx, `
				UPDATE task SET status = 'OPEN', resume_reason = 'resume', updated_at = now()
				WHERE id = $1 AND status = 'BLOCKED'
			`, parentID); err != nil {
				return fmt.Errorf("index: unblock reopen %s: %w", parentID, err)
			}
		}
	}
	return nil
}

// unblockParentsOnFailure reopens every BLOCKED parent of a subtask
// that reached DEAD immediately, without waiting on any sibling
// dependency, and tags the reopen with the failing subtask id so the
// scheduler dispatches onError rather than onResume.
func unblockParentsOnFailure(ctx context.Context, tx *sqlx.Tx, subtaskID string) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE task_dependency SET resolved_at = now() WHERE subtask_id = $1 AND resolved_at IS NULL
	`, subtaskID); err != nil {
		return fmt.Errorf("index: unblock on failure mark resolved: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE task t SET status = 'OPEN', resume_reason = 'error', resume_subtask_id = $1, updated_at = now()
		FROM task_dependency td
		WHERE td.subtask_id = $1 AND t.id = td.parent_id AND t.status = 'BLOCKED'
	`, subtaskID); err != nil {
		return fmt.Errorf("index: unblock on failure reopen: %w", err)
	}
	return nil
}

// GetSubtaskResult returns a COMPLETE subtask's output.
func (x *Index) GetSubtaskResult(ctx context.Context, subtaskID string) (json.RawMessage, error) {
	var output []byte
	var status string
	if err := x.db.QueryRowContext(ctx, `SELECT status, output FROM task WHERE id = $1`, subtaskID).Scan(&status, &output); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, vaulterrors.ErrTaskNotFound
		}
		return nil, fmt.Errorf("index: get subtask result: %w", err)
	}
	if status != string(types.TaskComplete) {
		return nil, vaulterrors.ErrSubtaskNotComplete
	}
	return output, nil
}

// GetSubtaskError returns a DEAD or ERROR subtask's stored failure detail.
func (x *Index) GetSubtaskError(ctx context.Context, subtaskID string) (*types.TaskErrorDetail, error) {
	var output []byte
	if err := x.db.QueryRowContext(ctx, `SELECT output FROM task WHERE id = $1`, subtaskID).Scan(&output); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, vaulterrors.ErrTaskNotFound
		}
		return nil, fmt.Errorf("index: get subtask error: %w", err)
	}
	var detail types.TaskErrorDetail
	if err := json.Unmarshal(output, &detail); err != nil {
		return nil, fmt.Errorf("index: get subtask error decode: %w", err)
	}
	return &detail, nil
}

// GetCompletedSubtasks lists every COMPLETE child of parentID.
func (x *Index) GetCompletedSubtasks(ctx context.Context, parentID string) ([]types.TaskRecord, error) {
	var rows []taskRow
	if err := x.db.SelectContext(ctx, &rows, `
		SELECT id, tenant_id, parent_id, type, status, priority, input, output,
		       retryable, retry_count, max_retries, executor, created_at, claimed_at,
		       completed_at, expires_at
		FROM task WHERE parent_id = $1 AND status = 'COMPLETE'
		ORDER BY created_at
	`, parentID); err != nil {
		return nil, fmt.Errorf("index: get completed subtasks: %w", err)
	}

	out := make([]types.TaskRecord, len(rows))
	for i, r := range rows {
		out[i] = r.toRecord()
	}
	return out, nil
}

// ReopenForResume transitions a BLOCKED task back to OPEN directly
// (used by callers that bypass unblockParents, e.g. manual retry).
func (x *Index) ReopenForResume(ctx context.Context, taskID string) error {
	if _, err := x.db.ExecContext(ctx, `
		UPDATE task SET status = 'OPEN', updated_at = now() WHERE id = $1 AND status = 'BLOCKED'
	`, taskID); err != nil {
		return fmt.Errorf("index: reopen for resume: %w", err)
	}
	return nil
}

// SweepStaleClaims implements §4.4's periodic stale-recovery pass:
// IN_PROGRESS rows claimed longer than lease ago release their
// resource leases and are returned to OPEN with an incremented retry
// count, and BACKGROUND rows past their expiry are moved to DEAD with a
// synthetic "expired" error.
func (x *Index) SweepStaleClaims(ctx context.Context, lease time.Duration) (reclaimed, expired int64, err error) {
	tx, err := x.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("index: sweep begin: %w", err)
	}
	defer tx.Rollback()

	cutoff := time.Now().Add(-lease)
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM resource_lease WHERE task_id IN (
		    SELECT id FROM task WHERE status = 'IN_PROGRESS' AND claimed_at < $1
		)
	`, cutoff); err != nil {
		return 0, 0, fmt.Errorf("index: sweep release leases: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE task SET status = 'OPEN', executor = '', claimed_at = NULL,
		       retry_count = retry_count + 1, updated_at = now()
		WHERE status = 'IN_PROGRESS' AND claimed_at < $1
	`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("index: sweep reclaim: %w", err)
	}
	reclaimed, _ = res.RowsAffected()

	expiredDetail, err := json.Marshal(types.TaskErrorDetail{Message: "background task expired before completion", Retryable: false})
	if err != nil {
		return 0, 0, fmt.Errorf("index: sweep marshal: %w", err)
	}
	res, err = tx.ExecContext(ctx, `
		UPDATE task SET status = 'DEAD', output = $1, completed_at = now(), updated_at = now()
		WHERE status = 'BACKGROUND' AND expires_at < now()
	`, expiredDetail)
	if err != nil {
		return 0, 0, fmt.Errorf("index: sweep expire: %w", err)
	}
	expired, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("index: sweep commit: %w", err)
	}
	return reclaimed, expired, nil
}

// CountByStatus returns the number of tasks currently in each status,
// for the metrics collector's periodic snapshot.
func (x *Index) CountByStatus(ctx context.Context) (map[types.TaskStatus]int, error) {
	rows, err := x.db.QueryxContext(ctx, `SELECT status, count(*) AS c FROM task GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("index: count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.TaskStatus]int)
	for rows.Next() {
		var status string
		var c int
		if err := rows.Scan(&status, &c); err != nil {
			return nil, fmt.Errorf("index: count by status scan: %w", err)
		}
		counts[types.TaskStatus(status)] = c
	}
	return counts, nil
}

func commitOrWrap(tx *sqlx.Tx, op string) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: %s commit: %w", op, err)
	}
	return nil
}

type taskRow struct {
	ID              string          `db:"id"`
	TenantID        string          `db:"tenant_id"`
	ParentID        sql.NullString  `db:"parent_id"`
	Type            string          `db:"type"`
	Status          string          `db:"status"`
	Priority        int             `db:"priority"`
	Input           json.RawMessage `db:"input"`
	Output          json.RawMessage `db:"output"`
	Retryable       bool            `db:"retryable"`
	RetryCount      int             `db:"retry_count"`
	MaxRetries      int             `db:"max_retries"`
	Executor        string          `db:"executor"`
	ResumeReason    string          `db:"resume_reason"`
	ResumeSubtaskID sql.NullString  `db:"resume_subtask_id"`
	CreatedAt       time.Time       `db:"created_at"`
	ClaimedAt       *time.Time      `db:"claimed_at"`
	CompletedAt     *time.Time      `db:"completed_at"`
	ExpiresAt       *time.Time      `db:"expires_at"`
}

func (r taskRow) toRecord() types.TaskRecord {
	return types.TaskRecord{
		ID:          r.ID,
		TenantID:    r.TenantID,
		ParentID:    r.ParentID.String,
		Type:        r.Type,
		Status:      types.TaskStatus(r.Status),
		Priority:    r.Priority,
		Input:       r.Input,
		Output:      r.Output,
		Retryable:   r.Retryable,
		RetryCount:  r.RetryCount,
		MaxRetries:  r.MaxRetries,
		Executor:    r.Executor,
		CreatedAt:   r.CreatedAt,
		ClaimedAt:   r.ClaimedAt,
		CompletedAt: r.CompletedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}
