package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"assetdl/internal/models"
	"assetdl/internal/progress"
	"assetdl/internal/queue"
	"assetdl/internal/storage"
	"assetdl/internal/transfer"
)

type fakeTransferer struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
	delay time.Duration
}

func newFakeTransferer(failing ...string) *fakeTransferer {
	f := &fakeTransferer{calls: make(map[string]int), fail: make(map[string]bool), delay: time.Millisecond}
	for _, p := range failing {
		f.fail[p] = true
	}
	return f
}

func (f *fakeTransferer) Transfer(_ context.Context, req transfer.Request) (int64, error) {
	path := req.Leaf.RelativePath
	f.mu.Lock()
	f.calls[path]++
	failing := f.fail[path]
	f.mu.Unlock()

	time.Sleep(f.delay)
	for i := int64(1); i <= 4; i++ {
		req.OnProgress(i*25, 100)
	}
	if failing {
		return 0, fmt.Errorf("transfer of %s failed", path)
	}
	return 100, nil
}

func (f *fakeTransferer) setFailing(path string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[path] = failing
}

func (f *fakeTransferer) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type nopDestination struct{}

func (nopDestination) MkdirAll(string) error { return nil }
func (nopDestination) Create(string) (io.WriteCloser, error) {
	return nopWriter{}, nil
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriter) Close() error                { return nil }

func selectNop(context.Context) (storage.Destination, error) {
	return nopDestination{}, nil
}

func leafNode(rel string) models.FileTreeNode {
	return models.FileTreeNode{Name: rel, RelativePath: rel, KeyPrefix: "asset/" + rel, Size: 100}
}

func twelveLeafTree() models.FileTreeNode {
	var data []models.FileTreeNode
	for i := 0; i < 6; i++ {
		data = append(data, leafNode(fmt.Sprintf("data/part-%02d.bin", i)))
	}
	return models.FileTreeNode{
		Name:     "asset",
		IsFolder: true,
		SubTree: []models.FileTreeNode{
			leafNode("readme.txt"),
			{Name: "data", RelativePath: "data", IsFolder: true, SubTree: data},
			{Name: "logs", RelativePath: "logs", IsFolder: true, SubTree: []models.FileTreeNode{
				leafNode("logs/run.log"),
				leafNode("logs/err.bin"),
				leafNode("logs/out.log"),
			}},
			leafNode("model.glb"),
			leafNode("thumb.png"),
			{Name: "empty", RelativePath: "empty", IsFolder: true},
		},
	}
}

type observer struct {
	mu            sync.Mutex
	maxInProgress int
	lastLoaded    map[string]int64
	regressions   []string
}

func newObserver() *observer {
	return &observer{lastLoaded: make(map[string]int64)}
}

func (o *observer) onChange(item models.TransferItem, stats models.BatchStats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if stats.InProgress > o.maxInProgress {
		o.maxInProgress = stats.InProgress
	}
	if item.Status == models.StatusInProgress {
		if item.Loaded < o.lastLoaded[item.RelativePath] {
			o.regressions = append(o.regressions, item.RelativePath)
		}
		o.lastLoaded[item.RelativePath] = item.Loaded
	} else if item.Status == models.StatusQueued {
		delete(o.lastLoaded, item.RelativePath)
	}
}

func assertTerminalInvariants(t *testing.T, items []models.TransferItem) {
	t.Helper()
	for _, item := range items {
		if !item.Status.IsTerminal() {
			t.Errorf("%s left in %s", item.RelativePath, item.Status)
		}
		if item.Status == models.StatusCompleted {
			if item.Progress != 100 {
				t.Errorf("%s completed with progress %d", item.RelativePath, item.Progress)
			}
			if item.Total > 0 && item.Loaded != item.Total {
				t.Errorf("%s completed with loaded %d of %d", item.RelativePath, item.Loaded, item.Total)
			}
		}
	}
}

func TestRunTwelveLeavesOneFailing(t *testing.T) {
	fake := newFakeTransferer("logs/err.bin")
	obs := newObserver()
	o := New(fake, models.AssetRef{AssetID: "asset"}, WithConcurrency(5), WithChangeFunc(obs.onChange))
	defer o.Close()

	if err := o.Run(context.Background(), twelveLeafTree(), selectNop); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := models.BatchStats{Total: 12, Completed: 11, Failed: 1}
	if got := o.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
	assertTerminalInvariants(t, o.Items())

	obs.mu.Lock()
	if obs.maxInProgress > 5 {
		t.Errorf("observed %d transfers in progress, limit 5", obs.maxInProgress)
	}
	if len(obs.regressions) > 0 {
		t.Errorf("loaded regressed for %v", obs.regressions)
	}
	obs.mu.Unlock()

	if err := o.ForceComplete("logs/err.bin"); err != nil {
		t.Fatalf("ForceComplete() error = %v", err)
	}
	want = models.BatchStats{Total: 12, Completed: 12}
	if got := o.Stats(); got != want {
		t.Errorf("Stats() after ForceComplete = %+v, want %+v", got, want)
	}
	assertTerminalInvariants(t, o.Items())
}

func TestRunEmptyTree(t *testing.T) {
	fake := newFakeTransferer()
	o := New(fake, models.AssetRef{AssetID: "asset"})
	defer o.Close()

	root := models.FileTreeNode{Name: "asset", IsFolder: true}
	if err := o.Run(context.Background(), root, selectNop); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := o.Stats(); got != (models.BatchStats{}) {
		t.Errorf("Stats() = %+v, want zero", got)
	}
	if fake.totalCalls() != 0 {
		t.Errorf("transfer calls = %d, want 0", fake.totalCalls())
	}
	if o.BatchID() == "" {
		t.Errorf("BatchID() empty after Run")
	}
}

func TestRunDestinationSelection(t *testing.T) {
	fake := newFakeTransferer()
	o := New(fake, models.AssetRef{AssetID: "asset"})
	defer o.Close()

	aborted := func(context.Context) (storage.Destination, error) {
		return nil, storage.ErrSelectionAborted
	}
	if err := o.Run(context.Background(), twelveLeafTree(), aborted); err != nil {
		t.Errorf("Run() with aborted selection error = %v, want nil", err)
	}
	if fake.totalCalls() != 0 || o.Stats().Total != 0 {
		t.Errorf("aborted selection started transfers")
	}

	unsupported := func(context.Context) (storage.Destination, error) {
		return nil, storage.ErrUnsupported
	}
	if err := o.Run(context.Background(), twelveLeafTree(), unsupported); !errors.Is(err, storage.ErrUnsupported) {
		t.Errorf("Run() with unsupported storage error = %v, want ErrUnsupported", err)
	}
	if fake.totalCalls() != 0 {
		t.Errorf("unsupported storage started transfers")
	}
}

func TestRunRejectsDuplicatePaths(t *testing.T) {
	o := New(newFakeTransferer(), models.AssetRef{})
	defer o.Close()
	root := models.FileTreeNode{IsFolder: true, SubTree: []models.FileTreeNode{leafNode("a"), leafNode("a")}}
	if err := o.Run(context.Background(), root, selectNop); err == nil {
		t.Errorf("Run() with duplicate paths error = nil")
	}
}

func fiveLeafTree() models.FileTreeNode {
	root := models.FileTreeNode{Name: "asset", IsFolder: true}
	for _, p := range []string{"a", "b", "c", "d", "e"} {
		root.SubTree = append(root.SubTree, leafNode(p))
	}
	return root
}

func TestRetryResume(t *testing.T) {
	fake := newFakeTransferer("b", "d")
	o := New(fake, models.AssetRef{AssetID: "asset"}, WithConcurrency(2))
	defer o.Close()

	if err := o.Run(context.Background(), fiveLeafTree(), selectNop); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := o.Stats(); got.Completed != 3 || got.Failed != 2 {
		t.Fatalf("Stats() = %+v, want 3 completed 2 failed", got)
	}

	before := make(map[string]models.TransferItem)
	for _, item := range o.Items() {
		before[item.RelativePath] = item
	}

	fake.setFailing("b", false)
	fake.setFailing("d", false)
	if err := o.Retry(context.Background(), true); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}

	if got := fake.totalCalls(); got != 7 {
		t.Errorf("transfer calls = %d, want 7 (5 + 2 resubmitted)", got)
	}
	for _, item := range o.Items() {
		if prev := before[item.RelativePath]; prev.Status == models.StatusCompleted && item != prev {
			t.Errorf("completed item %s changed: %+v -> %+v", item.RelativePath, prev, item)
		}
	}
	if got := o.Stats(); got != (models.BatchStats{Total: 5, Completed: 5}) {
		t.Errorf("Stats() after resume = %+v", got)
	}
	assertTerminalInvariants(t, o.Items())
}

func TestRetryResumeIsIdempotent(t *testing.T) {
	fake := newFakeTransferer("c")
	o := New(fake, models.AssetRef{AssetID: "asset"})
	defer o.Close()

	if err := o.Run(context.Background(), fiveLeafTree(), selectNop); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := o.Retry(context.Background(), true); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	first := o.Stats()
	if err := o.Retry(context.Background(), true); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if second := o.Stats(); second != first {
		t.Errorf("second resume stats = %+v, first = %+v", second, first)
	}
}

func TestRetryFull(t *testing.T) {
	fake := newFakeTransferer()
	o := New(fake, models.AssetRef{AssetID: "asset"})
	defer o.Close()

	if err := o.Retry(context.Background(), false); !errors.Is(err, ErrNoBatch) {
		t.Errorf("Retry() before Run error = %v, want ErrNoBatch", err)
	}
	if err := o.Run(context.Background(), fiveLeafTree(), selectNop); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := o.Retry(context.Background(), false); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if got := fake.totalCalls(); got != 10 {
		t.Errorf("transfer calls = %d, want 10", got)
	}
	assertTerminalInvariants(t, o.Items())
}

func TestForceCompleteErrors(t *testing.T) {
	o := New(newFakeTransferer(), models.AssetRef{})
	defer o.Close()

	if err := o.ForceComplete("a"); !errors.Is(err, ErrNoBatch) {
		t.Errorf("ForceComplete() before Run error = %v, want ErrNoBatch", err)
	}
	if err := o.Run(context.Background(), fiveLeafTree(), selectNop); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := o.ForceComplete("nope"); !errors.Is(err, ErrUnknownItem) {
		t.Errorf("ForceComplete(nope) error = %v, want ErrUnknownItem", err)
	}
}

type keyIssuer struct {
	failKey string
}

func (k keyIssuer) DownloadURL(_ context.Context, _ models.AssetRef, key string) (string, error) {
	if key == k.failKey {
		return "", errors.New("url service refused request")
	}
	return "mem://" + key, nil
}

type memFetcher struct{}

func (memFetcher) Fetch(_ context.Context, url string) (io.ReadCloser, int64, error) {
	body := []byte(url)
	return io.NopCloser(&sliceReader{data: body}), int64(len(body)), nil
}

type sliceReader struct {
	data []byte
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestRunPartialFailureIsolation(t *testing.T) {
	tr := transfer.New(keyIssuer{failKey: "asset/a"}, memFetcher{}, transfer.WithBaseDelay(0))
	o := New(tr, models.AssetRef{AssetID: "asset"})
	defer o.Close()

	root := models.FileTreeNode{IsFolder: true, SubTree: []models.FileTreeNode{leafNode("a"), leafNode("b")}}
	if err := o.Run(context.Background(), root, selectNop); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	status := make(map[string]models.TransferItem)
	for _, item := range o.Items() {
		status[item.RelativePath] = item
	}
	if status["a"].Status != models.StatusFailed || status["a"].Error == "" {
		t.Errorf("a = %+v, want Failed with error", status["a"])
	}
	if b := status["b"]; b.Status != models.StatusCompleted || b.Total != int64(len("mem://asset/b")) {
		t.Errorf("b = %+v, want Completed with real size", b)
	}
}

func TestRunSettlesItemsWhoseFinalEventIsLost(t *testing.T) {
	fake := newFakeTransferer("b")
	o := New(fake, models.AssetRef{AssetID: "asset"})
	defer o.Close()
	o.emit = func(s *progress.Store, a progress.Action) {
		switch a.(type) {
		case progress.Complete, progress.Fail:
			return
		}
		s.Dispatch(a)
	}

	root := models.FileTreeNode{IsFolder: true, SubTree: []models.FileTreeNode{leafNode("a"), leafNode("b")}}
	if err := o.Run(context.Background(), root, selectNop); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := models.BatchStats{Total: 2, Completed: 1, Failed: 1}
	if got := o.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
	for _, item := range o.Items() {
		switch item.RelativePath {
		case "a":
			if item.Status != models.StatusCompleted || item.Progress != 100 || item.Loaded != item.Total || item.Total != 100 {
				t.Errorf("item a = %+v, want Completed with loaded == total == 100", item)
			}
		case "b":
			if item.Status != models.StatusFailed || item.Error == "" {
				t.Errorf("item b = %+v, want Failed with error", item)
			}
		}
	}
	assertTerminalInvariants(t, o.Items())
}

func TestClosedOrchestratorRejectsWork(t *testing.T) {
	o := New(newFakeTransferer(), models.AssetRef{}, WithConcurrency(0))
	if err := o.Run(context.Background(), fiveLeafTree(), selectNop); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	o.Close()

	if err := o.ForceComplete(o.Items()[0].RelativePath); !errors.Is(err, ErrClosed) {
		t.Errorf("ForceComplete() after Close error = %v, want ErrClosed", err)
	}
	if err := o.Retry(context.Background(), true); !errors.Is(err, ErrClosed) {
		t.Errorf("Retry() after Close error = %v, want ErrClosed", err)
	}
	if err := o.Run(context.Background(), fiveLeafTree(), selectNop); !errors.Is(err, ErrClosed) {
		t.Errorf("Run() after Close error = %v, want ErrClosed", err)
	}
	if got := o.Stats(); got.Total != 5 || got.Completed != 5 {
		t.Errorf("Stats() after Close = %+v, want the last batch", got)
	}
}

func TestBatchStartLogsEffectiveConcurrency(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	o := New(newFakeTransferer(), models.AssetRef{}, WithConcurrency(0), WithLogger(logger))
	defer o.Close()

	if err := o.Run(context.Background(), fiveLeafTree(), selectNop); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if want := fmt.Sprintf("concurrency=%d", queue.DefaultLimit); !strings.Contains(buf.String(), want) {
		t.Errorf("log output missing %q: %s", want, buf.String())
	}
}
