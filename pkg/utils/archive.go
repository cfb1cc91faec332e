package utils

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"assetdl/internal/models"
)

// CreateArchive zips every regular file below sourceDir into outputPath.
// Files for which skip returns true are left out; paths passed to skip are
// slash separated and relative to sourceDir.
func CreateArchive(sourceDir, outputPath string, skip func(rel string) bool) (*models.ArchiveInfo, error) {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}
	defer outFile.Close()

	absOutput, _ := filepath.Abs(outputPath)
	zipWriter := zip.NewWriter(outFile)
	defer zipWriter.Close()

	var originalSize int64
	createdAt := time.Now()

	err = filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if abs, _ := filepath.Abs(path); abs == absOutput {
			return nil
		}

		relPath, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)
		if skip != nil && skip(relPath) {
			return nil
		}

		if err := addToArchive(zipWriter, path, relPath, info); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", relPath, err)
		}
		originalSize += info.Size()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}

	fileInfo, err := outFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get archive info: %w", err)
	}
	compressedSize := fileInfo.Size()

	compressionRatio := 0.0
	if originalSize > 0 {
		compressionRatio = float64(compressedSize) / float64(originalSize)
	}

	return &models.ArchiveInfo{
		ArchivePath:      outputPath,
		SourcePath:       sourceDir,
		CompressedSize:   compressedSize,
		OriginalSize:     originalSize,
		CompressionRatio: compressionRatio,
		CreatedAt:        createdAt,
	}, nil
}

func addToArchive(zipWriter *zip.Writer, path, name string, info os.FileInfo) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	writer, err := zipWriter.CreateHeader(header)
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(writer, file)
	return err
}

// GenerateArchiveName returns base_YYYYMMDD_HHMMSS.ext for the last element
// of name. Dots in name are kept; extension may omit its leading dot.
func GenerateArchiveName(name string, extension string) string {
	baseName := filepath.Base(name)
	if extension != "" && !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}
	if baseName == "" || baseName == "." || baseName == "/" {
		baseName = "archive"
	}
	return fmt.Sprintf("%s_%s%s", baseName, time.Now().Format("20060102_150405"), extension)
}
