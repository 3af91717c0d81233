// Package index is the relational cache over object storage: a
// Postgres-backed projection of blob refs, containers, entries, and
// tasks, kept in sync by the ingestion pipeline and rebuildable from
// object storage alone via Rebuild. It is never the source of truth
// for blob bytes — only for the metadata that makes search, dedup,
// and scheduling fast.
package index
