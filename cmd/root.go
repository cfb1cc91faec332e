package cmd

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"assetdl/config"
	"assetdl/internal/logging"
	"assetdl/internal/models"
)

var (
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "assetdl",
	Short: "Asset download tool for S3 asset storage",
	Long: `assetdl downloads the files of an asset stored in an S3 asset bucket.
It lists the asset's files, fetches each through a short lived presigned URL
with a bounded number of parallel transfers, and retries failed files.
Configuration is loaded from .env file or environment variables`,
}

func Execute(config *config.Config) error {
	cfg = config
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(urlCmd)
	rootCmd.AddCommand(downloadCmd)

	rootCmd.PersistentFlags().StringP("bucket", "b", "", "Override bucket name from config")
	rootCmd.PersistentFlags().String("database", "", "Override database id from config")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
}

func getBucketName(cmd *cobra.Command) string {
	bucket, _ := cmd.Flags().GetString("bucket")
	if bucket != "" {
		return bucket
	}
	return cfg.BucketName
}

func isVerbose(cmd *cobra.Command) bool {
	verbose, _ := cmd.Flags().GetBool("verbose")
	return verbose
}

func getAsset(cmd *cobra.Command, assetID string) models.AssetRef {
	database, _ := cmd.Flags().GetString("database")
	if database == "" {
		database = cfg.DatabaseID
	}
	return models.AssetRef{DatabaseID: database, AssetID: assetID}
}

// commandConfig returns the loaded config with command line overrides.
func commandConfig(cmd *cobra.Command) *config.Config {
	c := *cfg
	c.BucketName = getBucketName(cmd)
	return &c
}

func newLogger(cmd *cobra.Command, w io.Writer) *slog.Logger {
	level := cfg.Log.Level
	if isVerbose(cmd) {
		level = "debug"
	}
	logger, err := logging.New(w, level, cfg.Log.Format)
	if err != nil {
		logger, _ = logging.New(w, "info", "text")
		logger.Warn("invalid log settings, using defaults", "error", err)
	}
	return logger
}
