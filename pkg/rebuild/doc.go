// Package rebuild implements §4.10: reconstruct a tenant's blob_ref,
// blob, container, and entry rows from nothing but the manifests
// already sitting in object storage. Pass 1 walks every container key
// and upserts the registry rows for the container and each of its
// entries; pass 2 then inserts the container and entry rows, which is
// safe only because pass 1 already guarantees every blob_ref those
// rows reference exists.
package rebuild
