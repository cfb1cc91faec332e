package models

import "time"

// FileTreeNode is one node of a remote asset hierarchy. A node is a leaf iff
// it is not a folder and has no children.
type FileTreeNode struct {
	Name         string         `json:"name"`
	RelativePath string         `json:"relative_path"`
	KeyPrefix    string         `json:"key_prefix"`
	IsFolder     bool           `json:"is_folder"`
	Size         int64          `json:"size"`
	SubTree      []FileTreeNode `json:"sub_tree,omitempty"`
}

func (n FileTreeNode) IsLeaf() bool {
	return !n.IsFolder && len(n.SubTree) == 0
}

// TransferStatus is the lifecycle state of a TransferItem.
type TransferStatus string

const (
	StatusQueued     TransferStatus = "Queued"
	StatusInProgress TransferStatus = "InProgress"
	StatusCompleted  TransferStatus = "Completed"
	StatusFailed     TransferStatus = "Failed"
)

func (s TransferStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no automatic transition leaves this state.
func (s TransferStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TransferItem is the download bookkeeping for one leaf.
type TransferItem struct {
	Name         string         `json:"name"`
	RelativePath string         `json:"relative_path"`
	KeyPrefix    string         `json:"key_prefix"`
	Size         int64          `json:"size"`
	Status       TransferStatus `json:"status"`
	Progress     int            `json:"progress"`
	Loaded       int64          `json:"loaded"`
	Total        int64          `json:"total"`
	StartedAt    time.Time      `json:"started_at,omitempty"`
	Error        string         `json:"error,omitempty"`
}

type BatchStats struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	InProgress int `json:"in_progress"`
	Queued     int `json:"queued"`
}

// ComputeStats derives aggregate counts from the item collection.
func ComputeStats(items []TransferItem) BatchStats {
	stats := BatchStats{Total: len(items)}
	for _, item := range items {
		switch item.Status {
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusInProgress:
			stats.InProgress++
		case StatusQueued:
			stats.Queued++
		}
	}
	return stats
}
