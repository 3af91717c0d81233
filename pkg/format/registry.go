package format

import (
	"fmt"
	"strings"
)

// MagicMatch is one (offset, bytes) magic-number signature.
type MagicMatch struct {
	Offset int
	Bytes  []byte
}

// DetectionCriteria is a factory's declared matching rules (§4.3).
// Priority is ordinal and only compared within the same match kind —
// a magic match always outranks a MIME match, which always outranks
// an extension match, regardless of the numeric priorities involved.
type DetectionCriteria struct {
	MimeTypes  []string
	Extensions []string
	MagicBytes []MagicMatch
	Priority   int
}

// FormatHandlerFactory produces a Handler for blobs matching its
// DetectionCriteria.
type FormatHandlerFactory interface {
	// Key names this format for BlobRefRecord.HandlerKey.
	Key() string
	Criteria() DetectionCriteria
	// New constructs a Handler for this candidate. content is the
	// blob's full buffered bytes — ingestion already holds the whole
	// blob in memory to content-hash it, so handlers needing random
	// access (a zip central directory, for instance) get it for free.
	// filename may be empty if the candidate has none.
	New(content []byte, filename string) (Handler, error)
}

type registration struct {
	factory FormatHandlerFactory
	order   int
}

// Registry selects a FormatHandlerFactory for a candidate blob and
// instantiates its Handler.
type Registry struct {
	entries  []registration
	catchAll FormatHandlerFactory
}

// NewRegistry creates a Registry seeded with the catch-all leaf
// handler, which always matches and always has the lowest priority.
func NewRegistry() *Registry {
	return &Registry{catchAll: newRawFactory()}
}

// Register adds a factory. Call order matters for tie-breaking:
// earlier registrations win ties in priority.
func (r *Registry) Register(f FormatHandlerFactory) {
	r.entries = append(r.entries, registration{factory: f, order: len(r.entries)})
}

// Select picks the best-matching factory for header/filename/mimeHint
// and instantiates its Handler. mimeHint may be empty if the caller has
// no independent MIME detection.
func (r *Registry) Select(header []byte, filename, mimeHint string) (Handler, error) {
	if f := r.bestMatch(func(c DetectionCriteria) bool { return matchesMagic(c, header) }); f != nil {
		return f.New(header, filename)
	}
	if mimeHint != "" {
		if f := r.bestMatch(func(c DetectionCriteria) bool { return matchesMime(c, mimeHint) }); f != nil {
			return f.New(header, filename)
		}
	}
	if filename != "" {
		if f := r.bestMatch(func(c DetectionCriteria) bool { return matchesExtension(c, filename) }); f != nil {
			return f.New(header, filename)
		}
	}
	return r.catchAll.New(header, filename)
}

// HandlerKeyFor returns the HandlerKey that Select would record for
// this candidate, without constructing the Handler.
func (r *Registry) HandlerKeyFor(header []byte, filename, mimeHint string) string {
	if f := r.bestMatch(func(c DetectionCriteria) bool { return matchesMagic(c, header) }); f != nil {
		return f.Key()
	}
	if mimeHint != "" {
		if f := r.bestMatch(func(c DetectionCriteria) bool { return matchesMime(c, mimeHint) }); f != nil {
			return f.Key()
		}
	}
	if filename != "" {
		if f := r.bestMatch(func(c DetectionCriteria) bool { return matchesExtension(c, filename) }); f != nil {
			return f.Key()
		}
	}
	return r.catchAll.Key()
}

// NewByKey resolves a Handler by its factory's Key directly, as §4.9
// reconstruction requires: it knows only the manifest's format-key,
// never the original container bytes. content may be nil when the
// caller only intends to call Reconstruct.
func (r *Registry) NewByKey(key string, content []byte, filename string) (Handler, error) {
	if r.catchAll.Key() == key {
		return r.catchAll.New(content, filename)
	}
	for i := range r.entries {
		if r.entries[i].factory.Key() == key {
			return r.entries[i].factory.New(content, filename)
		}
	}
	return nil, fmt.Errorf("format: no handler registered for key %q", key)
}

func (r *Registry) bestMatch(matches func(DetectionCriteria) bool) FormatHandlerFactory {
	var best *registration
	for i := range r.entries {
		reg := &r.entries[i]
		if !matches(reg.factory.Criteria()) {
			continue
		}
		if best == nil {
			best = reg
			continue
		}
		bp, rp := best.factory.Criteria().Priority, reg.factory.Criteria().Priority
		if rp > bp || (rp == bp && reg.order < best.order) {
			best = reg
		}
	}
	if best == nil {
		return nil
	}
	return best.factory
}

func matchesMagic(c DetectionCriteria, header []byte) bool {
	for _, m := range c.MagicBytes {
		end := m.Offset + len(m.Bytes)
		if end > len(header) {
			continue
		}
		if stringsEqualBytes(header[m.Offset:end], m.Bytes) {
			return true
		}
	}
	return false
}

func matchesMime(c DetectionCriteria, mimeHint string) bool {
	for _, want := range c.MimeTypes {
		if strings.EqualFold(want, mimeHint) {
			return true
		}
	}
	return false
}

func matchesExtension(c DetectionCriteria, filename string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range c.Extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

func stringsEqualBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
