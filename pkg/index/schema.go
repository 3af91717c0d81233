package index

// schema is applied by Migrate on startup. Every statement is
// idempotent so Migrate can run against an already-current database.
const schema = `
CREATE TABLE IF NOT EXISTS blob_ref (
	id           BIGSERIAL PRIMARY KEY,
	hash         BYTEA NOT NULL,
	leaf_size    BIGINT NOT NULL,
	is_container BOOLEAN NOT NULL,
	mime_type    TEXT NOT NULL DEFAULT '',
	handler_key  TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (hash, leaf_size, is_container)
);
CREATE INDEX IF NOT EXISTS blob_ref_hash_idx ON blob_ref (hash);

CREATE TABLE IF NOT EXISTS blob (
	id          BIGSERIAL PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	blob_ref_id BIGINT NOT NULL REFERENCES blob_ref (id) ON DELETE CASCADE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, blob_ref_id)
);
CREATE INDEX IF NOT EXISTS blob_tenant_idx ON blob (tenant_id);

CREATE TABLE IF NOT EXISTS container (
	id          BIGSERIAL PRIMARY KEY,
	blob_id     BIGINT NOT NULL UNIQUE REFERENCES blob (id) ON DELETE CASCADE,
	entry_count INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS entry (
	id            BIGSERIAL PRIMARY KEY,
	container_id  BIGINT NOT NULL REFERENCES container (id) ON DELETE CASCADE,
	internal_path TEXT NOT NULL,
	entry_type    TEXT NOT NULL,
	blob_ref_id   BIGINT REFERENCES blob_ref (id),
	mtime         TIMESTAMPTZ,
	metadata      JSONB,
	UNIQUE (container_id, internal_path)
);
CREATE INDEX IF NOT EXISTS entry_container_idx ON entry (container_id);
CREATE INDEX IF NOT EXISTS entry_blob_ref_idx ON entry (blob_ref_id);

CREATE TABLE IF NOT EXISTS node (
	id             TEXT PRIMARY KEY,
	hostname       TEXT NOT NULL,
	last_heartbeat TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS task (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	parent_id       TEXT REFERENCES task (id) ON DELETE CASCADE,
	type            TEXT NOT NULL,
	status          TEXT NOT NULL,
	priority        INTEGER NOT NULL DEFAULT 0,
	input           JSONB NOT NULL DEFAULT '{}'::jsonb,
	output          JSONB,
	retryable       BOOLEAN NOT NULL DEFAULT false,
	retry_count     INTEGER NOT NULL DEFAULT 0,
	max_retries     INTEGER NOT NULL DEFAULT 0,
	executor        TEXT NOT NULL DEFAULT '',
	resume_reason     TEXT NOT NULL DEFAULT '', -- '', 'resume', 'error'
	resume_subtask_id TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	claimed_at      TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ,
	expires_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS task_status_priority_idx ON task (status, priority DESC, created_at);
CREATE INDEX IF NOT EXISTS task_parent_idx ON task (parent_id);
CREATE INDEX IF NOT EXISTS task_claimed_at_idx ON task (claimed_at) WHERE status = 'IN_PROGRESS';
CREATE INDEX IF NOT EXISTS task_expires_at_idx ON task (expires_at) WHERE status = 'BACKGROUND';

CREATE TABLE IF NOT EXISTS task_dependency (
	parent_id   TEXT NOT NULL REFERENCES task (id) ON DELETE CASCADE,
	subtask_id  TEXT NOT NULL REFERENCES task (id) ON DELETE CASCADE,
	resolved_at TIMESTAMPTZ,
	PRIMARY KEY (parent_id, subtask_id)
);
CREATE INDEX IF NOT EXISTS task_dependency_subtask_idx ON task_dependency (subtask_id);

CREATE TABLE IF NOT EXISTS resource_dependency (
	task_type       TEXT NOT NULL,
	resource_name   TEXT NOT NULL,
	max_concurrency INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (task_type, resource_name)
);

CREATE TABLE IF NOT EXISTS resource_lease (
	resource_name TEXT NOT NULL,
	task_id       TEXT NOT NULL REFERENCES task (id) ON DELETE CASCADE,
	PRIMARY KEY (resource_name, task_id)
);
CREATE INDEX IF NOT EXISTS resource_lease_name_idx ON resource_lease (resource_name);
`
