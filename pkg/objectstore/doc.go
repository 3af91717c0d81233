// Package objectstore implements Vault's tenant-scoped, write-once,
// content-addressed blob persistence (§4.1 of the specification).
//
// Two backends satisfy the same Store interface: a filesystem backend
// for development, and an S3-compatible backend for production.
// Compression, if any, is exclusively a backend's concern — callers
// always see the original, uncompressed bytes they stored.
package objectstore
