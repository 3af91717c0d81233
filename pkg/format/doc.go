// Package format implements the container/leaf abstraction of §4.3: a
// registry of FormatHandlerFactory entries selected by detection
// criteria (magic bytes, MIME type, extension, in that priority
// order), each producing a Handler that knows how to decompose a
// container into children and, for reconstructable formats, rebuild
// the original bytes bit-for-bit from those children.
//
// Concrete handlers live alongside the registry: rawHandler is the
// always-present catch-all leaf, zipHandler/tarGzHandler implement the
// two container formats the ingestion pipeline currently recognizes.
package format
