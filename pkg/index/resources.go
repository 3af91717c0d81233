package index

import (
	"context"
	"fmt"
)

// ResourceUsage reports how many resource_lease rows currently hold
// resourceName — the count ClaimNext compares against a resource's
// max_concurrency. It says nothing about which resources a node can
// serve: the advertised set a worker plugs into ClaimNext is supplied
// by the caller, since the index only tracks concurrency, not
// ownership.
func (x *Index) ResourceUsage(ctx context.Context, resourceName string) (int, error) {
	var count int
	if err := x.db.GetContext(ctx, &count, `SELECT count(*) FROM resource_lease WHERE resource_name = $1`, resourceName); err != nil {
		return 0, fmt.Errorf("index: resource usage: %w", err)
	}
	return count, nil
}

// RegisterNode upserts a node's heartbeat row (§4.5's STARTED event).
func (x *Index) RegisterNode(ctx context.Context, id, hostname string) error {
	if _, err := x.db.ExecContext(ctx, `
		INSERT INTO node (id, hostname, last_heartbeat, started_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (id) DO UPDATE SET last_heartbeat = now()
	`, id, hostname); err != nil {
		return fmt.Errorf("index: register node: %w", err)
	}
	return nil
}

// Heartbeat refreshes a node's last_heartbeat column.
func (x *Index) Heartbeat(ctx context.Context, id string) error {
	if _, err := x.db.ExecContext(ctx, `UPDATE node SET last_heartbeat = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("index: heartbeat: %w", err)
	}
	return nil
}

// DeregisterNode removes a node's row (§4.5's STOPPED/FAILED event).
// Leases are keyed by task, not node, so this only drops the node
// record itself and releases no lease; SweepStaleClaims reclaims the
// node's IN_PROGRESS tasks (and their leases) once the claim lease
// expires.
func (x *Index) DeregisterNode(ctx context.Context, id string) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM node WHERE id = $1`, id); err != nil {
		return fmt.Errorf("index: deregister node: %w", err)
	}
	return nil
}

// CountNodes reports the total number of registered nodes and how many
// are stale (heartbeat older than thresholdSeconds), for the metrics
// collector.
func (x *Index) CountNodes(ctx context.Context, thresholdSeconds int) (total, stale int, err error) {
	if err := x.db.GetContext(ctx, &total, `SELECT count(*) FROM node`); err != nil {
		return 0, 0, fmt.Errorf("index: count nodes: %w", err)
	}
	if err := x.db.GetContext(ctx, &stale, `
		SELECT count(*) FROM node WHERE last_heartbeat < now() - ($1 || ' seconds')::interval
	`, thresholdSeconds); err != nil {
		return 0, 0, fmt.Errorf("index: count stale nodes: %w", err)
	}
	return total, stale, nil
}

// StaleNodeIDs returns node ids whose heartbeat is older than the given
// threshold, expressed as a raw SQL interval-compatible duration in
// seconds, for the reconciler-style sweep adapted alongside
// SweepStaleClaims.
func (x *Index) StaleNodeIDs(ctx context.Context, thresholdSeconds int) ([]string, error) {
	var ids []string
	if err := x.db.SelectContext(ctx, &ids, `
		SELECT id FROM node WHERE last_heartbeat < now() - ($1 || ' seconds')::interval
	`, thresholdSeconds); err != nil {
		return nil, fmt.Errorf("index: stale nodes: %w", err)
	}
	return ids, nil
}
