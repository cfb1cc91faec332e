package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"assetdl/internal/s3client"
	"assetdl/pkg/utils"
)

var infoCmd = &cobra.Command{
	Use:   "info [asset-id]",
	Short: "Get summary information about an asset",
	Long: `Get object count, total size and last modification time of an asset.
The bucket name is taken from the configuration file unless overridden with --bucket flag.`,
	Example: `  # Get info for an asset in the configured bucket
  assetdl info my-asset

  # Get info for an asset in a specific bucket
  assetdl info my-asset --bucket my-other-bucket

  # Verbose output
  assetdl info my-asset --verbose`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runInfo(cmd, args)
	},
}

func runInfo(cmd *cobra.Command, args []string) {
	asset := getAsset(cmd, args[0])

	client, err := s3client.New(commandConfig(cmd))
	if err != nil {
		utils.PrintError(err, "info")
		return
	}

	timeout, _ := cmd.Flags().GetInt("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	if isVerbose(cmd) {
		cmd.Printf("Getting asset information for: %s/%s\n", getBucketName(cmd), asset.AssetID)
	}

	info, err := client.AssetInfo(ctx, asset)
	if err != nil {
		utils.PrintError(err, "info")
		return
	}

	if err := utils.PrintJSON(info); err != nil {
		utils.PrintError(err, "info")
		return
	}

	if isVerbose(cmd) {
		cmd.Printf("Asset info retrieved successfully\n")
	}
}

func init() {
	infoCmd.Flags().Int("timeout", 300, "Timeout in seconds for the operation")
}
