// Package manifest implements the manifest codec of §4.8: the
// self-describing record stored at a container BlobRef's own key,
// from which §4.9 reconstruction and §4.10 index rebuild both work
// without any other source of truth.
package manifest
