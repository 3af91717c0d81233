package format

import (
	"context"
	"io"

	"github.com/cuemby/vault/pkg/vaulterrors"
)

// rawFactory is the always-present catch-all at priority 0: it never
// declares any MimeTypes/Extensions/MagicBytes, so it only ever wins
// via Registry's unconditional fallback, never via bestMatch.
type rawFactory struct{}

func newRawFactory() FormatHandlerFactory { return rawFactory{} }

func (rawFactory) Key() string                { return "raw" }
func (rawFactory) Criteria() DetectionCriteria { return DetectionCriteria{Priority: 0} }
func (rawFactory) New(_ []byte, _ string) (Handler, error) {
	return rawHandler{}, nil
}

// rawHandler treats a blob as an opaque leaf: no children, no
// reconstruction concerns because there is nothing to reconstruct from.
type rawHandler struct{}

func (rawHandler) HasChildren() bool                   { return false }
func (rawHandler) IsCompressible() bool                { return true }
func (rawHandler) Capabilities() ContainerCapabilities { return ContainerCapabilities{} }

func (rawHandler) ExtractChildren(context.Context) (ChildIterator, error) {
	return emptyIterator{}, nil
}

func (rawHandler) Reconstruct(context.Context, []ContainerChild, io.Writer) error {
	return vaulterrors.ErrNotReconstructable
}

func (rawHandler) ExtractMetadata(context.Context) (map[string]string, error) {
	return nil, nil
}

func (rawHandler) ExtractText(context.Context) (string, error) {
	return "", nil
}

type emptyIterator struct{}

func (emptyIterator) Next() (ContainerChild, bool, error) { return ContainerChild{}, false, nil }
