// Package types defines Vault's core data model: content identity
// (ContentHash, BlobRef), the relational registry rows that track
// tenant ownership and container structure, and the task records that
// drive the scheduler.
//
// Everything here is a plain value type. Persistence lives in
// pkg/objectstore (blobs) and pkg/index (relational rows); this
// package only describes shapes and the small amount of parsing logic
// that makes BlobRef a self-describing storage key.
package types
