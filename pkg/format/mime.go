package format

import "github.com/gabriel-vasile/mimetype"

// DetectMime sniffs a MIME type from content, for callers (the
// ingestion pipeline) that want to pass a mimeHint into Select rather
// than relying on magic bytes or filename alone.
func DetectMime(content []byte) string {
	return mimetype.Detect(content).String()
}
