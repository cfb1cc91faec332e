package cmd

import (
	"context"
	"fmt"
	"time"

	"assetdl/internal/models"
	"assetdl/internal/transfer"
	"assetdl/pkg/utils"
)

// collectLinks presigns every leaf without downloading it. The first failure
// stops the listing.
func collectLinks(ctx context.Context, issuer transfer.URLIssuer, asset models.AssetRef, leaves []models.FileTreeNode, expiry time.Duration) ([]models.ShareableLink, error) {
	expiresAt := utils.FormatTime(time.Now().Add(expiry))
	links := make([]models.ShareableLink, 0, len(leaves))
	for _, leaf := range leaves {
		url, err := issuer.DownloadURL(ctx, asset, leaf.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to presign %s: %w", leaf.RelativePath, err)
		}
		links = append(links, models.ShareableLink{
			RelativePath: leaf.RelativePath,
			Key:          leaf.KeyPrefix,
			Size:         leaf.Size,
			URL:          url,
			ExpiresAt:    expiresAt,
		})
	}
	return links, nil
}
