package progress

import (
	"time"

	"assetdl/internal/models"
)

// Action is a state transition for one TransferItem. The set of actions is
// closed; Reduce handles every implementation.
type Action interface {
	RelativePath() string
	action()
}

// Register adds an item in the Queued state. Registering an existing path
// replaces its bookkeeping.
type Register struct {
	Name      string
	Path      string
	KeyPrefix string
	Size      int64
}

// Start moves a Queued item to InProgress.
type Start struct {
	Path string
	At   time.Time
}

// Progress records bytes transferred so far. Total is zero when unknown.
type Progress struct {
	Path   string
	Loaded int64
	Total  int64
}

// Complete marks a transfer as finished with the given final byte count.
type Complete struct {
	Path  string
	Bytes int64
}

// Fail marks a transfer as permanently failed.
type Fail struct {
	Path string
	Err  string
}

// ForceComplete marks an item Completed regardless of its state.
type ForceComplete struct {
	Path string
	At   time.Time
}

// Reset returns an item to Queued with no progress.
type Reset struct {
	Path string
}

func (a Register) RelativePath() string      { return a.Path }
func (a Start) RelativePath() string         { return a.Path }
func (a Progress) RelativePath() string      { return a.Path }
func (a Complete) RelativePath() string      { return a.Path }
func (a Fail) RelativePath() string          { return a.Path }
func (a ForceComplete) RelativePath() string { return a.Path }
func (a Reset) RelativePath() string         { return a.Path }

func (Register) action()      {}
func (Start) action()         {}
func (Progress) action()      {}
func (Complete) action()      {}
func (Fail) action()          {}
func (ForceComplete) action() {}
func (Reset) action()         {}

// Reduce applies a to item and returns the updated item. It never performs
// I/O and never mutates its input.
func Reduce(item models.TransferItem, a Action) models.TransferItem {
	switch a := a.(type) {
	case Register:
		return models.TransferItem{
			Name:         a.Name,
			RelativePath: a.Path,
			KeyPrefix:    a.KeyPrefix,
			Size:         a.Size,
			Status:       models.StatusQueued,
		}

	case Start:
		if item.Status != models.StatusQueued {
			return item
		}
		item.Status = models.StatusInProgress
		if item.StartedAt.IsZero() {
			item.StartedAt = a.At
		}
		return item

	case Progress:
		if item.Status != models.StatusInProgress {
			return item
		}
		if a.Total > 0 {
			item.Total = a.Total
			item.Size = a.Total
		}
		if a.Loaded > item.Loaded {
			item.Loaded = a.Loaded
		}
		if item.Total > 0 && item.Loaded > item.Total {
			item.Loaded = item.Total
		}
		item.Progress = percent(item.Loaded, item.Total)
		return item

	case Complete:
		if item.Status.IsTerminal() {
			return item
		}
		if a.Bytes > 0 || item.Total == 0 {
			item.Total = a.Bytes
			item.Size = a.Bytes
		}
		item.Loaded = item.Total
		item.Progress = 100
		item.Status = models.StatusCompleted
		item.Error = ""
		return item

	case Fail:
		if item.Status.IsTerminal() {
			return item
		}
		item.Status = models.StatusFailed
		item.Error = a.Err
		return item

	case ForceComplete:
		if item.Total == 0 {
			item.Total = 1
		}
		item.Loaded = item.Total
		item.Progress = 100
		item.Status = models.StatusCompleted
		item.Error = ""
		if item.StartedAt.IsZero() {
			item.StartedAt = a.At
		}
		return item

	case Reset:
		item.Status = models.StatusQueued
		item.Progress = 0
		item.Loaded = 0
		item.Total = 0
		item.StartedAt = time.Time{}
		item.Error = ""
		return item

	default:
		panic("progress: unhandled action type")
	}
}

func percent(loaded, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(loaded * 100 / total)
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
