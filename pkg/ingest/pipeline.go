package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/vault/pkg/events"
	"github.com/cuemby/vault/pkg/format"
	"github.com/cuemby/vault/pkg/index"
	"github.com/cuemby/vault/pkg/log"
	"github.com/cuemby/vault/pkg/manifest"
	"github.com/cuemby/vault/pkg/metrics"
	"github.com/cuemby/vault/pkg/objectstore"
	"github.com/cuemby/vault/pkg/types"
)

// ingestIndex is the slice of *index.Index the pipeline depends on,
// kept narrow so tests can substitute a fake.
type ingestIndex interface {
	DedupGate(ctx context.Context, tenantID string, ref types.BlobRef, mimeHint, handlerKey string) (blobRefID int64, blobID int64, alreadyOwned bool, err error)
	CreateContainer(ctx context.Context, blobID int64, entries []index.ManifestEntry) (int64, error)
}

// ingestFileEvent is §4.6's IngestFile: a buffer to classify and
// decompose, optionally registered against an enclosing FanInContext.
type ingestFileEvent struct {
	taskID   string
	tenantID string
	content  []byte
	filename string

	parent      *FanInContext
	parentIndex int
	bonus       bool

	// inherited from the ContainerChild that discovered this file, so
	// a nested container's own entry in its parent's manifest keeps
	// the mtime and format metadata the parent's handler emitted for it.
	entryMTime          *time.Time
	entryFormatMetadata []byte
}

// childDiscoveredEvent is §4.6's ChildDiscovered: one child of the
// container currently being decomposed, at its position in fanIn's
// pre-sized results slice.
type childDiscoveredEvent struct {
	child format.ContainerChild
	fanIn *FanInContext
	index int
}

// allChildrenCompleteEvent is §4.6's AllChildrenComplete, fired once a
// FanInContext's remaining counter reaches zero.
type allChildrenCompleteEvent struct {
	fanIn *FanInContext
}

// rootResult is what Ingest blocks on: the root BlobRef or the error
// that failed its owning task.
type rootResult struct {
	ref types.BlobRef
	err error
}

// Pipeline is the bounded event-driven executor of §4.6. Its queue is
// a large buffered channel rather than a truly unbounded one; enqueue
// never blocks a worker (see enqueue), so N fixed workers cannot
// deadlock on their own fan-out.
type Pipeline struct {
	store    objectstore.Store
	idx      ingestIndex
	registry *format.Registry
	workers  int

	queue  chan any
	logger zerolog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu    sync.Mutex
	roots map[string]chan rootResult

	events *events.Broker
}

// SetEvents wires an event broker that every completed or failed root
// ingest publishes to. Optional: a pipeline with no broker set simply
// doesn't publish, it still decomposes and stores content normally.
func (p *Pipeline) SetEvents(b *events.Broker) {
	p.events = b
}

// NewPipeline wires a pipeline over store and idx. registry defaults
// to format.NewDefaultRegistry when nil.
func NewPipeline(store objectstore.Store, idx ingestIndex, registry *format.Registry, workers int) *Pipeline {
	if workers <= 0 {
		workers = 1
	}
	if registry == nil {
		registry = format.NewDefaultRegistry()
	}
	return &Pipeline{
		store:    store,
		idx:      idx,
		registry: registry,
		workers:  workers,
		queue:    make(chan any, 4096),
		logger:   log.WithComponent("ingest"),
		stopCh:   make(chan struct{}),
		roots:    make(map[string]chan rootResult),
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
}

// Stop signals every worker to exit and waits for them to return.
// Callers must not have any Ingest call in flight when calling Stop.
func (p *Pipeline) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Pipeline) workerLoop(id int) {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.queue:
			p.handle(ev)
		case <-p.stopCh:
			return
		}
	}
}

// enqueue never blocks the calling worker: a full queue falls back to
// a detached send so a worker busy producing fan-out events can
// always return to pulling more work instead of deadlocking against
// its own backlog.
func (p *Pipeline) enqueue(ev any) {
	select {
	case p.queue <- ev:
	default:
		go func() { p.queue <- ev }()
	}
}

func (p *Pipeline) handle(ev any) {
	switch e := ev.(type) {
	case ingestFileEvent:
		p.handleIngestFile(e)
	case childDiscoveredEvent:
		p.handleChildDiscovered(e)
	case allChildrenCompleteEvent:
		p.completeFanIn(e.fanIn)
	}
}

// Ingest blocks the caller until content has been fully decomposed
// (or has failed), returning the root BlobRef. taskID threads
// unchanged through every nested event this ingest produces: it is
// the owning task per §4.6's failure-propagation rule, no matter how
// deeply the traversal recurses.
func (p *Pipeline) Ingest(ctx context.Context, tenantID, taskID string, content []byte, filename string) (types.BlobRef, error) {
	ch := make(chan rootResult, 1)
	p.mu.Lock()
	p.roots[taskID] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.roots, taskID)
		p.mu.Unlock()
	}()

	metrics.IngestBytesTotal.Add(float64(len(content)))
	p.enqueue(ingestFileEvent{taskID: taskID, tenantID: tenantID, content: content, filename: filename})

	select {
	case res := <-ch:
		return res.ref, res.err
	case <-ctx.Done():
		return types.BlobRef{}, ctx.Err()
	}
}

func (p *Pipeline) finishRoot(taskID string, ref types.BlobRef, err error) {
	if err == nil {
		p.publish(events.EventBlobIngested, "blob ingested: "+ref.String(), map[string]string{
			"task_id": taskID,
			"blob":    ref.String(),
		})
	}

	p.mu.Lock()
	ch, ok := p.roots[taskID]
	p.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- rootResult{ref: ref, err: err}:
	default:
	}
}

// fail marks the owning task failed, per §4.6's failure-propagation
// rule — except for a bonus traversal, which is detached from any
// task's completion and so only logs.
func (p *Pipeline) fail(taskID string, bonus bool, err error) {
	if bonus {
		p.logger.Error().Err(err).Str("task_id", taskID).Msg("bonus ingest failed")
		return
	}
	p.logger.Error().Err(err).Str("task_id", taskID).Msg("ingest failed")
	p.publish(events.EventTaskFailed, "ingest failed: "+err.Error(), map[string]string{"task_id": taskID})
	p.finishRoot(taskID, types.BlobRef{}, err)
}

// publish is a no-op when no broker is wired (see SetEvents).
func (p *Pipeline) publish(typ events.EventType, message string, metadata map[string]string) {
	if p.events == nil {
		return
	}
	p.events.Publish(&events.Event{Type: typ, Message: message, Metadata: metadata})
}

// handleIngestFile implements §4.6 traversal steps 1-3.
func (p *Pipeline) handleIngestFile(e ingestFileEvent) {
	hash := types.Hash(e.content)
	mimeHint := format.DetectMime(e.content)

	handler, err := p.registry.Select(e.content, e.filename, mimeHint)
	if err != nil {
		p.fail(e.taskID, e.bonus, fmt.Errorf("ingest: select handler: %w", err))
		return
	}
	handlerKey := p.registry.HandlerKeyFor(e.content, e.filename, mimeHint)

	if !handler.HasChildren() {
		ref, err := p.storeOrRefless(context.Background(), e.tenantID, hash, e.content, mimeHint, handlerKey)
		if err != nil {
			p.fail(e.taskID, e.bonus, err)
			return
		}
		p.resolveLeaf(e, ref)
		return
	}

	caps := handler.Capabilities()
	if caps.ReconstructionTier == format.TierReconstructable || e.bonus {
		p.extractAndFanOut(e, handler, hash, handlerKey, caps.ReconstructionTier)
		return
	}

	// STORED or CONTENTS_ONLY, not a bonus event: keep the whole
	// container as a leaf (never as a container blob), then fire a
	// detached bonus decomposition of the same buffer for indexing.
	ref, err := p.storeOrRefless(context.Background(), e.tenantID, hash, e.content, mimeHint, handlerKey)
	if err != nil {
		p.fail(e.taskID, e.bonus, err)
		return
	}
	p.resolveLeaf(e, ref)
	p.enqueue(ingestFileEvent{taskID: e.taskID, tenantID: e.tenantID, content: e.content, filename: e.filename, bonus: true})
}

// resolveLeaf delivers a resolved leaf to whatever is waiting on it: a
// bonus traversal has nothing waiting and is dropped, a nested child
// is pushed into its parent's fan-in, and a true root ingest completes
// the task. ref is nil only for zero-byte content; a root ingest
// can't represent that (a BlobRef's leaf size must be > 0), so that
// case fails the task instead of returning an empty BlobRef.
func (p *Pipeline) resolveLeaf(e ingestFileEvent, ref *types.BlobRef) {
	if e.bonus {
		return
	}
	if e.parent != nil {
		p.pushResult(e.parent, e.parentIndex, ChildResult{
			Path: e.filename, Ref: ref, EntryType: types.EntryTypeFile,
			MTime: e.entryMTime, FormatMetadata: e.entryFormatMetadata,
		})
		return
	}
	if ref == nil {
		p.fail(e.taskID, false, fmt.Errorf("ingest: cannot ingest zero-byte content as a root object"))
		return
	}
	p.finishRoot(e.taskID, *ref, nil)
}

// extractAndFanOut drains handler's lazy child sequence into a
// pre-sized FanInContext and emits one ChildDiscovered per child.
func (p *Pipeline) extractAndFanOut(e ingestFileEvent, handler format.Handler, hash types.ContentHash, handlerKey string, tier format.ReconstructionTier) {
	ctx := context.Background()

	it, err := handler.ExtractChildren(ctx)
	if err != nil {
		p.fail(e.taskID, e.bonus, fmt.Errorf("ingest: extract children: %w", err))
		return
	}

	var children []format.ContainerChild
	for {
		child, ok, err := it.Next()
		if err != nil {
			p.fail(e.taskID, e.bonus, fmt.Errorf("ingest: iterate children: %w", err))
			return
		}
		if !ok {
			break
		}
		children = append(children, child)
	}

	ref, err := types.NewContainerRef(hash, int64(len(e.content)))
	if err != nil {
		p.fail(e.taskID, e.bonus, err)
		return
	}

	var formatMeta []byte
	if metaMap, err := handler.ExtractMetadata(ctx); err == nil && len(metaMap) > 0 {
		if encoded, encErr := json.Marshal(metaMap); encErr == nil {
			formatMeta = encoded
		}
	}

	fanIn := &FanInContext{
		parent:              e.parent,
		parentIndex:         e.parentIndex,
		containerRef:        ref,
		filename:            e.filename,
		handlerKey:          handlerKey,
		tenantID:            e.tenantID,
		taskID:              e.taskID,
		bonus:               e.bonus,
		tier:                tier,
		entryMTime:          e.entryMTime,
		entryFormatMetadata: e.entryFormatMetadata,
		formatMeta:          formatMeta,
	}
	fanIn.results = make([]ChildResult, len(children))

	metrics.FanInDepth.Inc()
	if len(children) == 0 {
		p.enqueue(allChildrenCompleteEvent{fanIn: fanIn})
		return
	}
	fanIn.remaining.Store(int64(len(children)))
	for i, child := range children {
		p.enqueue(childDiscoveredEvent{child: child, fanIn: fanIn, index: i})
	}
}

func (p *Pipeline) pushResult(fanIn *FanInContext, index int, result ChildResult) {
	if fanIn.resolve(index, result) {
		p.enqueue(allChildrenCompleteEvent{fanIn: fanIn})
	}
}

// handleChildDiscovered implements §4.6's per-child handling.
func (p *Pipeline) handleChildDiscovered(e childDiscoveredEvent) {
	fanIn := e.fanIn
	child := e.child
	ctx := context.Background()

	if isDirectoryEntry(child) {
		// A directory has no content of its own: no BlobRef, no
		// dedup gate, no object storage write. Reconstruction
		// synthesizes an empty buffer for it (§4.9 step 3).
		p.pushResult(fanIn, e.index, ChildResult{
			Path: child.Path, EntryType: types.EntryTypeDirectory,
			MTime: mtimePtr(child.Metadata.MTime),
		})
		return
	}

	mimeHint := format.DetectMime(child.Content)
	handler, err := p.registry.Select(child.Content, child.Path, mimeHint)
	if err != nil {
		p.fail(fanIn.taskID, fanIn.bonus, err)
		return
	}
	handlerKey := p.registry.HandlerKeyFor(child.Content, child.Path, mimeHint)
	hash := types.Hash(child.Content)

	if !handler.HasChildren() {
		ref, err := p.storeOrRefless(ctx, fanIn.tenantID, hash, child.Content, mimeHint, handlerKey)
		if err != nil {
			p.fail(fanIn.taskID, fanIn.bonus, err)
			return
		}
		p.pushResult(fanIn, e.index, ChildResult{
			Path: child.Path, Ref: ref, EntryType: types.EntryTypeFile,
			MTime: mtimePtr(child.Metadata.MTime), FormatMetadata: child.FormatMetadata,
		})
		return
	}

	caps := handler.Capabilities()
	if caps.ReconstructionTier == format.TierReconstructable {
		p.enqueue(ingestFileEvent{
			taskID: fanIn.taskID, tenantID: fanIn.tenantID, content: child.Content, filename: child.Path,
			parent: fanIn, parentIndex: e.index, bonus: fanIn.bonus,
			entryMTime: mtimePtr(child.Metadata.MTime), entryFormatMetadata: child.FormatMetadata,
		})
		return
	}

	// STORED or CONTENTS_ONLY child: keep as a leaf, resolve it into
	// this fan-in now, and fire a detached bonus decomposition.
	ref, err := p.storeOrRefless(ctx, fanIn.tenantID, hash, child.Content, mimeHint, handlerKey)
	if err != nil {
		p.fail(fanIn.taskID, fanIn.bonus, err)
		return
	}
	p.pushResult(fanIn, e.index, ChildResult{
		Path: child.Path, Ref: ref, EntryType: types.EntryTypeFile,
		MTime: mtimePtr(child.Metadata.MTime), FormatMetadata: child.FormatMetadata,
	})
	p.enqueue(ingestFileEvent{taskID: fanIn.taskID, tenantID: fanIn.tenantID, content: child.Content, filename: child.Path, bonus: true})
}

// storeOrRefless dedup-gates and stores content as a leaf, returning
// its BlobRef — unless content is empty, in which case there is
// nothing to store and it returns a nil ref (a zero-byte leaf is
// represented the same way a directory is: no blob, synthesized on
// reconstruction).
func (p *Pipeline) storeOrRefless(ctx context.Context, tenantID string, hash types.ContentHash, content []byte, mimeHint, handlerKey string) (*types.BlobRef, error) {
	if len(content) == 0 {
		return nil, nil
	}
	ref, err := types.NewLeafRef(hash, int64(len(content)))
	if err != nil {
		return nil, err
	}
	if err := p.storeLeaf(ctx, tenantID, ref, content, mimeHint, handlerKey); err != nil {
		return nil, err
	}
	return &ref, nil
}

// completeFanIn implements §4.6 fan-in completion: assemble and store
// the manifest, insert the container/entry rows, then either push a
// ChildResult to the parent, complete the root task, or (for a bonus
// traversal) do nothing further — bonus ingests produce an index, not
// a reconstruction obligation, and never touch a parent's result set.
func (p *Pipeline) completeFanIn(fanIn *FanInContext) {
	ctx := context.Background()
	metrics.FanInDepth.Dec()

	manifestEntries := make([]manifest.Entry, len(fanIn.results))
	idxEntries := make([]index.ManifestEntry, len(fanIn.results))
	for i, r := range fanIn.results {
		var mtimeMillis *int64
		if r.MTime != nil {
			ms := r.MTime.UnixMilli()
			mtimeMillis = &ms
		}
		entry := manifest.Entry{
			Path: r.Path, EntryType: string(r.EntryType),
			MTimeMillis: mtimeMillis, FormatMetadata: r.FormatMetadata,
		}
		if r.Ref != nil {
			entry.Hash = r.Ref.Hash[:]
			entry.LeafSize = r.Ref.LeafSize
			entry.IsContainer = r.Ref.IsContainer
		}
		manifestEntries[i] = entry
		idxEntries[i] = index.ManifestEntry{
			InternalPath: r.Path, EntryType: r.EntryType, Ref: r.Ref,
			MTime: r.MTime, Metadata: json.RawMessage(r.FormatMetadata),
		}
	}

	m := manifest.Manifest{
		ContainerHash: fanIn.containerRef.Hash[:], ContainerSize: fanIn.containerRef.LeafSize,
		FormatKey: fanIn.handlerKey, FormatMetadata: fanIn.formatMeta, Entries: manifestEntries,
	}
	data, err := manifest.Encode(m)
	if err != nil {
		p.fail(fanIn.taskID, fanIn.bonus, fmt.Errorf("ingest: encode manifest: %w", err))
		return
	}

	_, blobID, alreadyOwned, err := p.idx.DedupGate(ctx, fanIn.tenantID, fanIn.containerRef, manifest.MimeType, fanIn.handlerKey)
	if err != nil {
		p.fail(fanIn.taskID, fanIn.bonus, fmt.Errorf("ingest: dedup gate container: %w", err))
		return
	}
	recordDedup(alreadyOwned)
	if !alreadyOwned {
		if err := p.store.Create(ctx, fanIn.tenantID, fanIn.containerRef, data, manifest.MimeType); err != nil {
			p.fail(fanIn.taskID, fanIn.bonus, fmt.Errorf("ingest: store manifest: %w", err))
			return
		}
		metrics.ObjectsCreatedTotal.Inc()
	}

	if _, err := p.idx.CreateContainer(ctx, blobID, idxEntries); err != nil {
		p.fail(fanIn.taskID, fanIn.bonus, fmt.Errorf("ingest: create container: %w", err))
		return
	}

	if fanIn.bonus {
		return
	}

	containerRef := fanIn.containerRef
	result := ChildResult{
		Path: fanIn.filename, Ref: &containerRef, EntryType: types.EntryTypeFile,
		MTime: fanIn.entryMTime, FormatMetadata: fanIn.entryFormatMetadata,
	}
	if fanIn.parent != nil {
		p.pushResult(fanIn.parent, fanIn.parentIndex, result)
		return
	}
	p.finishRoot(fanIn.taskID, fanIn.containerRef, nil)
}

// storeLeaf dedup-gates ref and writes data only if it is new content.
func (p *Pipeline) storeLeaf(ctx context.Context, tenantID string, ref types.BlobRef, content []byte, mimeHint, handlerKey string) error {
	_, _, alreadyOwned, err := p.idx.DedupGate(ctx, tenantID, ref, mimeHint, handlerKey)
	if err != nil {
		return fmt.Errorf("ingest: dedup gate: %w", err)
	}
	recordDedup(alreadyOwned)
	if alreadyOwned {
		return nil
	}
	if err := p.store.Create(ctx, tenantID, ref, content, mimeHint); err != nil {
		return fmt.Errorf("ingest: store leaf: %w", err)
	}
	metrics.ObjectsCreatedTotal.Inc()
	return nil
}

func recordDedup(alreadyOwned bool) {
	if alreadyOwned {
		metrics.DedupHitsTotal.WithLabelValues("owned").Inc()
		return
	}
	metrics.DedupHitsTotal.WithLabelValues("new").Inc()
}

func isDirectoryEntry(child format.ContainerChild) bool {
	return strings.HasSuffix(child.Path, "/") && len(child.Content) == 0
}

func mtimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
