// Package progress holds per-file transfer state for a batch. Transfers emit
// actions; a single consumer goroutine applies them, so readers always see a
// consistent snapshot.
package progress

import (
	"log/slog"
	"sync"

	"assetdl/internal/models"
)

const actionBuffer = 256

// ChangeFunc observes every applied action. It runs on the store's consumer
// goroutine and must not call Dispatch or Flush.
type ChangeFunc func(item models.TransferItem, stats models.BatchStats)

type envelope struct {
	action Action
	done   chan struct{}
}

type Store struct {
	logger   *slog.Logger
	onChange ChangeFunc

	sendMu  sync.RWMutex
	closed  bool
	actions chan envelope
	stopped chan struct{}

	mu    sync.RWMutex
	items []models.TransferItem
	index map[string]int
}

type StoreOption func(*Store)

func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

func WithChangeFunc(fn ChangeFunc) StoreOption {
	return func(s *Store) { s.onChange = fn }
}

// NewStore starts the consumer goroutine. Call Close to stop it.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		logger:  slog.New(slog.DiscardHandler),
		actions: make(chan envelope, actionBuffer),
		stopped: make(chan struct{}),
		index:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.consume()
	return s
}

// Dispatch queues a for application. Actions sent after Close are dropped.
func (s *Store) Dispatch(a Action) {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return
	}
	s.actions <- envelope{action: a}
}

// Flush blocks until every action dispatched before the call is applied.
func (s *Store) Flush() {
	done := make(chan struct{})

	s.sendMu.RLock()
	if s.closed {
		s.sendMu.RUnlock()
		return
	}
	s.actions <- envelope{done: done}
	s.sendMu.RUnlock()

	<-done
}

// Close applies pending actions and stops the consumer.
func (s *Store) Close() {
	s.sendMu.Lock()
	if s.closed {
		s.sendMu.Unlock()
		<-s.stopped
		return
	}
	s.closed = true
	close(s.actions)
	s.sendMu.Unlock()
	<-s.stopped
}

func (s *Store) consume() {
	defer close(s.stopped)
	for env := range s.actions {
		if env.done != nil {
			close(env.done)
			continue
		}
		s.apply(env.action)
	}
}

func (s *Store) apply(a Action) {
	path := a.RelativePath()

	s.mu.Lock()
	i, ok := s.index[path]
	switch {
	case ok:
		s.items[i] = Reduce(s.items[i], a)
	case isRegister(a):
		i = len(s.items)
		s.index[path] = i
		s.items = append(s.items, Reduce(models.TransferItem{}, a))
	default:
		s.mu.Unlock()
		s.logger.Warn("dropping action for unknown item", "path", path)
		return
	}
	item := s.items[i]
	var stats models.BatchStats
	if s.onChange != nil {
		stats = models.ComputeStats(s.items)
	}
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(item, stats)
	}
}

func isRegister(a Action) bool {
	_, ok := a.(Register)
	return ok
}

// Snapshot returns a copy of all items in registration order.
func (s *Store) Snapshot() []models.TransferItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TransferItem, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Item(path string) (models.TransferItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[path]
	if !ok {
		return models.TransferItem{}, false
	}
	return s.items[i], true
}

func (s *Store) Stats() models.BatchStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.ComputeStats(s.items)
}
