// Package vaulterrors defines the error taxonomy at Vault's external
// boundary (§6-§7 of the specification). Callers use errors.Is against
// the sentinel values; wrapping with fmt.Errorf("...: %w", err) is the
// convention used throughout the rest of the module.
package vaulterrors

import "errors"

var (
	// ErrBlobNotFound is returned by read/delete of a missing object
	// storage key.
	ErrBlobNotFound = errors.New("vault: blob not found")

	// ErrBlobAlreadyExists is returned by create when the write-once
	// check is enabled and the key is already present with different
	// bytes than expected, or the backend otherwise forbids overwrite.
	ErrBlobAlreadyExists = errors.New("vault: blob already exists")

	// ErrStorageError wraps transient or fatal backend failures (network,
	// IO) that persisted past the backend's own retry/backoff policy.
	ErrStorageError = errors.New("vault: storage error")

	// ErrNoHandlerForFormat is returned when the format registry has no
	// factory whose detection criteria match a candidate buffer.
	ErrNoHandlerForFormat = errors.New("vault: no handler for format")

	// ErrManifestParseError is returned when a container's manifest
	// blob cannot be decoded.
	ErrManifestParseError = errors.New("vault: manifest parse error")

	// ErrTaskNotFound is returned by any lookup of a task id that does
	// not exist.
	ErrTaskNotFound = errors.New("vault: task not found")

	// ErrSubtaskNotComplete is returned by getSubtaskResult when the
	// referenced subtask has not reached COMPLETE.
	ErrSubtaskNotComplete = errors.New("vault: subtask not complete")

	// ErrNotReconstructable is returned by Reconstruct on a handler
	// whose capabilities tier is not RECONSTRUCTABLE.
	ErrNotReconstructable = errors.New("vault: handler is not reconstructable")
)
