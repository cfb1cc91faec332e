package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"assetdl/internal/models"
	"assetdl/internal/s3client"
	"assetdl/internal/tree"
	"assetdl/pkg/utils"
)

var filesCmd = &cobra.Command{
	Use:   "files [asset-id]",
	Short: "List the files a download of the asset would fetch",
	Example: `  # List files of an asset
  assetdl files my-asset`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runFiles(cmd, args)
	},
}

func runFiles(cmd *cobra.Command, args []string) {
	asset := getAsset(cmd, args[0])

	client, err := s3client.New(commandConfig(cmd))
	if err != nil {
		utils.PrintError(err, "files")
		return
	}

	timeout, _ := cmd.Flags().GetInt("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	root, err := client.ListAsset(ctx, asset)
	if err != nil {
		utils.PrintError(err, "files")
		return
	}

	if err := utils.PrintJSON(buildListing(getBucketName(cmd), asset, *root)); err != nil {
		utils.PrintError(err, "files")
	}
}

func buildListing(bucket string, asset models.AssetRef, root models.FileTreeNode) models.FileListing {
	leaves := tree.Flatten(root)
	files := make([]models.DownloadItem, 0, len(leaves))
	for _, leaf := range leaves {
		files = append(files, models.DownloadItem{
			RemotePath: leaf.KeyPrefix,
			LocalPath:  leaf.RelativePath,
			Size:       leaf.Size,
		})
	}
	total := tree.TotalSize(root)
	return models.FileListing{
		BucketName:     bucket,
		AssetID:        asset.AssetID,
		Files:          files,
		TotalFiles:     len(files),
		TotalSizeBytes: total,
		TotalSizeHuman: utils.FormatBytes(total),
	}
}

func init() {
	filesCmd.Flags().Int("timeout", 300, "Timeout in seconds for the operation")
}
