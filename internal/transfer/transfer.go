// Package transfer downloads one remote file into a local destination,
// retrying failed attempts with exponential backoff.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"golang.org/x/time/rate"

	"assetdl/internal/models"
	"assetdl/internal/storage"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	copyBufferSize    = 32 * 1024
)

// URLIssuer hands out short lived access URLs for remote objects. Calls must
// be idempotent; one is made per attempt.
type URLIssuer interface {
	DownloadURL(ctx context.Context, asset models.AssetRef, key string) (string, error)
}

// Request describes one leaf to download.
type Request struct {
	BatchID     string
	Asset       models.AssetRef
	Leaf        models.FileTreeNode
	Destination storage.Destination
	// OnProgress receives bytes loaded and the expected total (zero when
	// unknown) after every chunk.
	OnProgress func(loaded, total int64)
}

type Transferer struct {
	issuer  URLIssuer
	fetcher Fetcher
	logger  *slog.Logger
	limiter *rate.Limiter

	maxRetries int
	baseDelay  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

type Option func(*Transferer)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Transferer) { t.logger = logger }
}

// WithMaxRetries sets the number of additional attempts after the first.
func WithMaxRetries(n int) Option {
	return func(t *Transferer) {
		if n >= 0 {
			t.maxRetries = n
		}
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(t *Transferer) {
		if d >= 0 {
			t.baseDelay = d
		}
	}
}

// WithLimiter shares a bandwidth limiter across all transfers.
func WithLimiter(l *rate.Limiter) Option {
	return func(t *Transferer) { t.limiter = l }
}

func New(issuer URLIssuer, fetcher Fetcher, opts ...Option) *Transferer {
	t := &Transferer{
		issuer:     issuer,
		fetcher:    fetcher,
		logger:     slog.New(slog.DiscardHandler),
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transfer downloads req.Leaf and returns the number of bytes written. On
// failure the error joins every attempt's error.
func (t *Transferer) Transfer(ctx context.Context, req Request) (int64, error) {
	logger := t.logger.With("batch_id", req.BatchID, "path", req.Leaf.RelativePath)

	var errs []error
	for attempt := 0; ; attempt++ {
		n, err := t.attempt(ctx, req)
		if err == nil {
			logger.Debug("file downloaded", "bytes", n, "attempts", attempt+1)
			return n, nil
		}
		errs = append(errs, fmt.Errorf("attempt %d: %w", attempt+1, err))

		if IsPermanent(err) || ctx.Err() != nil || attempt >= t.maxRetries {
			logger.Warn("file download failed", "attempts", attempt+1, "error", err)
			return 0, errors.Join(errs...)
		}

		delay := t.baseDelay * time.Duration(1<<attempt)
		logger.Info("retrying file download", "attempt", attempt+1, "delay", delay, "error", err)
		if err := t.sleep(ctx, delay); err != nil {
			errs = append(errs, err)
			return 0, errors.Join(errs...)
		}
	}
}

func (t *Transferer) attempt(ctx context.Context, req Request) (written int64, err error) {
	rel := req.Leaf.RelativePath

	if dir := path.Dir(rel); dir != "." {
		if err := req.Destination.MkdirAll(dir); err != nil {
			return 0, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	w, err := req.Destination.Create(rel)
	if err != nil {
		return 0, fmt.Errorf("failed to create file %s: %w", rel, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to finalize file %s: %w", rel, cerr)
		}
	}()

	url, err := t.issuer.DownloadURL(ctx, req.Asset, req.Leaf.KeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to get download url: %w", err)
	}

	body, size, err := t.fetcher.Fetch(ctx, url)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	total := size
	if total <= 0 {
		total = req.Leaf.Size
	}

	reader := &progressReader{
		ctx:     ctx,
		reader:  body,
		limiter: t.limiter,
		total:   total,
		report:  req.OnProgress,
	}
	written, err = io.CopyBuffer(w, reader, make([]byte, copyBufferSize))
	if err != nil {
		return written, fmt.Errorf("failed to write %s: %w", rel, err)
	}
	if size > 0 && written != size {
		return written, fmt.Errorf("short download for %s: got %d of %d bytes", rel, written, size)
	}
	return written, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
