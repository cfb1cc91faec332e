package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/time/rate"

	"assetdl/internal/models"
	"assetdl/pkg/utils"
)

// renderer turns store change notifications into a progress bar on
// terminals and into throttled log lines elsewhere.
type renderer struct {
	mu      sync.Mutex
	w       io.Writer
	logger  *slog.Logger
	bar     *progressbar.ProgressBar
	every   rate.Sometimes
	loaded  map[string]int64
	sizes   map[string]int64
	files   int
	started time.Time
}

func newRenderer(w io.Writer, logger *slog.Logger) *renderer {
	return &renderer{
		w:      w,
		logger: logger,
		every:  rate.Sometimes{First: 1, Interval: 2 * time.Second},
		loaded: make(map[string]int64),
		sizes:  make(map[string]int64),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (r *renderer) start(files int, totalBytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = files
	r.started = time.Now()
	if !isTerminal(r.w) || files == 0 {
		return
	}
	r.bar = progressbar.NewOptions64(max(totalBytes, 1),
		progressbar.OptionSetWriter(r.w),
		progressbar.OptionSetDescription(describe(0, files)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(r.w) }),
	)
}

func (r *renderer) onChange(item models.TransferItem, stats models.BatchStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.loaded[item.RelativePath] = item.Loaded
	r.sizes[item.RelativePath] = max(item.Size, item.Total)
	loaded, size := r.totals()
	done := stats.Completed + stats.Failed

	if r.bar != nil {
		if size > r.bar.GetMax64() {
			r.bar.ChangeMax64(size)
		}
		r.bar.Describe(describe(done, stats.Total))
		_ = r.bar.Set64(loaded)
		return
	}

	if item.Status == models.StatusFailed {
		r.logger.Warn("file failed", "path", item.RelativePath, "error", item.Error)
	}
	r.every.Do(func() {
		r.logger.Info("download progress",
			"files", describe(done, stats.Total),
			"loaded", utils.FormatBytes(loaded),
			"total", utils.FormatBytes(size),
			"rate", utils.FormatRate(loaded, time.Since(r.started)),
		)
	})
}

func (r *renderer) totals() (loaded, size int64) {
	for path, n := range r.loaded {
		loaded += n
		size += r.sizes[path]
	}
	return loaded, size
}

func (r *renderer) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar != nil {
		_ = r.bar.Finish()
		r.bar = nil
	}
}

func describe(done, total int) string {
	return fmt.Sprintf("%d/%d files", done, total)
}
