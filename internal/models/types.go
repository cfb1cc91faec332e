package models

import "time"

type AssetRef struct {
	DatabaseID string `json:"database_id"`
	AssetID    string `json:"asset_id"`
}

type AssetInfo struct {
	BucketName     string    `json:"bucket_name"`
	DatabaseID     string    `json:"database_id,omitempty"`
	AssetID        string    `json:"asset_id"`
	Region         string    `json:"region"`
	ObjectCount    int64     `json:"object_count"`
	FolderCount    int64     `json:"folder_count"`
	TotalSizeBytes int64     `json:"total_size_bytes"`
	TotalSizeHuman string    `json:"total_size_human"`
	LastModified   time.Time `json:"last_modified"`
	APIEndpoint    string    `json:"api_endpoint,omitempty"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
	Command   string `json:"command"`
}

type ArchiveInfo struct {
	ArchivePath      string    `json:"archive_path"`
	SourcePath       string    `json:"source_path"`
	CompressedSize   int64     `json:"compressed_size"`
	OriginalSize     int64     `json:"original_size"`
	CompressionRatio float64   `json:"compression_ratio"`
	CreatedAt        time.Time `json:"created_at"`
}
