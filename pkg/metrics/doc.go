/*
Package metrics defines and registers Vault's Prometheus metrics and
exposes them at /metrics, alongside /health, /ready, and /live handlers
backed by a separate in-process component registry (see health.go).

# Metrics catalog

Scheduler: vault_tasks_claimed_total{type}, vault_tasks_completed_total
{type,status}, vault_claim_latency_seconds, vault_task_execution_duration_seconds
{type}, vault_stale_claims_reclaimed_total, vault_background_tasks_expired_total.

Ingestion: vault_objects_created_total, vault_dedup_hits_total{shape},
vault_ingest_bytes_total, vault_fan_in_depth.

Object storage: vault_object_store_op_duration_seconds{backend,op}.

Index: vault_rebuild_duration_seconds, vault_rebuild_blobs_scanned_total,
vault_tasks_by_status{status}.

Cluster: vault_nodes_total{status}, tracking executor heartbeats —
Vault nodes are interchangeable task executors with no manager/worker
role split.

# Usage

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.ClaimLatency)

	metrics.TasksClaimedTotal.WithLabelValues("ingest").Inc()

All metrics are registered at package init via MustRegister, so they
appear in /metrics from process start even before their first
observation.
*/
package metrics
