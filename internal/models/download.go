package models

type DownloadItem struct {
	RemotePath string `json:"remote_path"`
	LocalPath  string `json:"local_path"`
	Size       int64  `json:"size"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

type DownloadResult struct {
	BucketName       string         `json:"bucket_name"`
	DatabaseID       string         `json:"database_id,omitempty"`
	AssetID          string         `json:"asset_id"`
	BatchID          string         `json:"batch_id"`
	Destination      string         `json:"destination"`
	Items            []DownloadItem `json:"items"`
	Stats            BatchStats     `json:"stats"`
	TotalSizeBytes   int64          `json:"total_size_bytes"`
	TotalSizeHuman   string         `json:"total_size_human"`
	OperationTime    string         `json:"operation_time"`
	DownloadDuration string         `json:"download_duration"`
	Archive          *ArchiveInfo   `json:"archive,omitempty"`
}

type FileListing struct {
	BucketName     string         `json:"bucket_name"`
	AssetID        string         `json:"asset_id"`
	Files          []DownloadItem `json:"files"`
	TotalFiles     int            `json:"total_files"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	TotalSizeHuman string         `json:"total_size_human"`
}

type ShareableLink struct {
	RelativePath string `json:"relative_path"`
	Key          string `json:"key"`
	Size         int64  `json:"size"`
	URL          string `json:"url"`
	ExpiresAt    string `json:"expires_at"`
}

type LinkListing struct {
	BucketName string          `json:"bucket_name"`
	AssetID    string          `json:"asset_id"`
	Links      []ShareableLink `json:"links"`
	TotalFiles int             `json:"total_files"`
}
