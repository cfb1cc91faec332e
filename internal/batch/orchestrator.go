// Package batch drives the download of a whole asset tree: it flattens the
// tree, runs one transfer per file through a bounded queue and keeps the
// per-file state that callers observe.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"assetdl/internal/models"
	"assetdl/internal/progress"
	"assetdl/internal/queue"
	"assetdl/internal/storage"
	"assetdl/internal/transfer"
	"assetdl/internal/tree"
)

var (
	ErrNoBatch     = errors.New("no batch has been run")
	ErrUnknownItem = errors.New("unknown transfer item")
	ErrClosed      = errors.New("orchestrator closed")
)

// Transferer downloads a single file.
type Transferer interface {
	Transfer(ctx context.Context, req transfer.Request) (int64, error)
}

// SelectFunc acquires the local destination. Returning
// storage.ErrSelectionAborted cancels the batch silently.
type SelectFunc func(ctx context.Context) (storage.Destination, error)

type Orchestrator struct {
	transferer  Transferer
	asset       models.AssetRef
	concurrency int
	logger      *slog.Logger
	onChange    progress.ChangeFunc
	now         func() time.Time
	// emit delivers a transfer's actions to its store.
	emit func(*progress.Store, progress.Action)

	runMu sync.Mutex

	mu      sync.RWMutex
	batchID string
	leaves  []models.FileTreeNode
	dest    storage.Destination
	store   *progress.Store
	closed  bool
}

type Option func(*Orchestrator)

// WithConcurrency caps simultaneous transfers. Values below one use the
// queue default.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithChangeFunc observes every item update of every batch.
func WithChangeFunc(fn progress.ChangeFunc) Option {
	return func(o *Orchestrator) { o.onChange = fn }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(t Transferer, asset models.AssetRef, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transferer:  t,
		asset:       asset,
		concurrency: queue.DefaultLimit,
		logger:      slog.New(slog.DiscardHandler),
		now:         time.Now,
		emit:        (*progress.Store).Dispatch,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run downloads every leaf of root into the destination chosen by
// selectDest. Per-file failures are reported through item state; only
// batch-level failures are returned.
func (o *Orchestrator) Run(ctx context.Context, root models.FileTreeNode, selectDest SelectFunc) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	if o.isClosed() {
		return ErrClosed
	}
	if err := tree.Validate(root); err != nil {
		return fmt.Errorf("invalid file tree: %w", err)
	}
	leaves := tree.Flatten(root)

	dest, err := selectDest(ctx)
	if errors.Is(err, storage.ErrSelectionAborted) {
		o.logger.Info("destination selection aborted, nothing downloaded")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open destination: %w", err)
	}

	opts := []progress.StoreOption{progress.WithLogger(o.logger)}
	if o.onChange != nil {
		opts = append(opts, progress.WithChangeFunc(o.onChange))
	}
	store := progress.NewStore(opts...)
	for _, leaf := range leaves {
		store.Dispatch(progress.Register{
			Name:      leaf.Name,
			Path:      leaf.RelativePath,
			KeyPrefix: leaf.KeyPrefix,
			Size:      leaf.Size,
		})
	}

	o.mu.Lock()
	previous := o.store
	o.batchID = uuid.NewString()
	o.leaves = leaves
	o.dest = dest
	o.store = store
	o.mu.Unlock()
	if previous != nil {
		previous.Close()
	}

	o.execute(ctx, leaves)
	return nil
}

// Retry re-runs the current batch. With resume set only items that are not
// Completed are reset and transferred again; otherwise every item is.
func (o *Orchestrator) Retry(ctx context.Context, resume bool) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	o.mu.RLock()
	store, leaves, closed := o.store, o.leaves, o.closed
	o.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if store == nil {
		return ErrNoBatch
	}

	var pending []models.FileTreeNode
	for _, leaf := range leaves {
		item, ok := store.Item(leaf.RelativePath)
		if resume && ok && item.Status == models.StatusCompleted {
			continue
		}
		store.Dispatch(progress.Reset{Path: leaf.RelativePath})
		pending = append(pending, leaf)
	}

	o.logger.Info("retrying batch", "batch_id", o.BatchID(), "resume", resume, "files", len(pending))
	o.execute(ctx, pending)
	return nil
}

// ForceComplete marks one item Completed regardless of its state.
func (o *Orchestrator) ForceComplete(relativePath string) error {
	o.mu.RLock()
	store, closed := o.store, o.closed
	o.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if store == nil {
		return ErrNoBatch
	}
	store.Flush()
	if _, ok := store.Item(relativePath); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, relativePath)
	}
	store.Dispatch(progress.ForceComplete{Path: relativePath, At: o.now()})
	store.Flush()
	o.logger.Info("transfer force completed", "path", relativePath)
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, leaves []models.FileTreeNode) {
	o.mu.RLock()
	store, dest, batchID := o.store, o.dest, o.batchID
	o.mu.RUnlock()

	logger := o.logger.With("batch_id", batchID)
	q := queue.New[int64](o.concurrency)
	logger.Info("batch started", "files", len(leaves), "concurrency", q.Limit())
	started := o.now()

	futures := make([]*queue.Future[int64], len(leaves))
	for i, leaf := range leaves {
		futures[i] = q.Add(func() (int64, error) {
			return o.transferOne(ctx, store, dest, batchID, leaf)
		})
	}

	outcomes := make([]error, len(leaves))
	for i, f := range futures {
		_, outcomes[i] = f.Wait(context.Background())
	}

	// A transfer's final event can be lost; settle every item that is still
	// not terminal using the outcome its task returned.
	store.Flush()
	for i, leaf := range leaves {
		item, ok := store.Item(leaf.RelativePath)
		if !ok || item.Status.IsTerminal() {
			continue
		}
		logger.Warn("settling non-terminal item after batch", "path", leaf.RelativePath, "status", item.Status)
		if outcomes[i] == nil {
			store.Dispatch(progress.Complete{Path: leaf.RelativePath, Bytes: item.Total})
		} else {
			store.Dispatch(progress.Fail{Path: leaf.RelativePath, Err: outcomes[i].Error()})
		}
	}
	store.Flush()

	stats := store.Stats()
	logger.Info("batch finished",
		"total", stats.Total,
		"completed", stats.Completed,
		"failed", stats.Failed,
		"duration", o.now().Sub(started))
}

func (o *Orchestrator) transferOne(ctx context.Context, store *progress.Store, dest storage.Destination, batchID string, leaf models.FileTreeNode) (int64, error) {
	path := leaf.RelativePath
	o.emit(store, progress.Start{Path: path, At: o.now()})

	n, err := o.transferer.Transfer(ctx, transfer.Request{
		BatchID:     batchID,
		Asset:       o.asset,
		Leaf:        leaf,
		Destination: dest,
		OnProgress: func(loaded, total int64) {
			o.emit(store, progress.Progress{Path: path, Loaded: loaded, Total: total})
		},
	})
	if err != nil {
		o.emit(store, progress.Fail{Path: path, Err: err.Error()})
		return 0, err
	}

	o.emit(store, progress.Progress{Path: path, Loaded: n, Total: n})
	o.emit(store, progress.Complete{Path: path, Bytes: n})
	return n, nil
}

func (o *Orchestrator) BatchID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.batchID
}

// Items returns a snapshot of every item in flatten order.
func (o *Orchestrator) Items() []models.TransferItem {
	o.mu.RLock()
	store := o.store
	o.mu.RUnlock()
	if store == nil {
		return nil
	}
	return store.Snapshot()
}

func (o *Orchestrator) Stats() models.BatchStats {
	o.mu.RLock()
	store := o.store
	o.mu.RUnlock()
	if store == nil {
		return models.BatchStats{}
	}
	return store.Stats()
}

// Close stops the current batch's state store. Items stay readable; Run,
// Retry and ForceComplete fail with ErrClosed afterwards.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	store := o.store
	o.closed = true
	o.mu.Unlock()
	if store != nil {
		store.Close()
	}
}

func (o *Orchestrator) isClosed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.closed
}
