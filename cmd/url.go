package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"assetdl/internal/s3client"
	"assetdl/pkg/utils"
)

var urlCmd = &cobra.Command{
	Use:   "url [asset-id] [key]",
	Short: "Print a presigned download URL for one file of an asset",
	Example: `  # Presign a single file
  assetdl url my-asset my-asset/models/car.glb`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runURL(cmd, args)
	},
}

type urlResult struct {
	BucketName string `json:"bucket_name"`
	Key        string `json:"key"`
	URL        string `json:"url"`
	ExpiresAt  string `json:"expires_at"`
}

func runURL(cmd *cobra.Command, args []string) {
	asset := getAsset(cmd, args[0])
	c := commandConfig(cmd)

	client, err := s3client.New(c)
	if err != nil {
		utils.PrintError(err, "url")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	url, err := client.DownloadURL(ctx, asset, args[1])
	if err != nil {
		utils.PrintError(err, "url")
		return
	}

	if err := utils.PrintJSON(urlResult{
		BucketName: c.BucketName,
		Key:        args[1],
		URL:        url,
		ExpiresAt:  utils.FormatTime(time.Now().Add(c.URLExpiry())),
	}); err != nil {
		utils.PrintError(err, "url")
	}
}
