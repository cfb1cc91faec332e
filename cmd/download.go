package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"assetdl/internal/batch"
	"assetdl/internal/models"
	"assetdl/internal/s3client"
	"assetdl/internal/storage"
	"assetdl/internal/transfer"
	"assetdl/internal/tree"
	"assetdl/pkg/utils"
)

var downloadCmd = &cobra.Command{
	Use:   "download [asset-id]",
	Short: "Download every file of an asset",
	Long: `Download every file of an asset into a local folder.

The asset's files are listed, then fetched through presigned URLs with a bounded
number of parallel transfers. Each file is retried independently; one failing file
never stops the others. A JSON report with the state of every file is printed when
the batch settles.

If no destination is specified, files are written to ./<asset-id>.`,
	Example: `  # Download an asset into ./my-asset
  assetdl download my-asset

  # Download to a specific destination with 8 parallel transfers
  assetdl download my-asset --destination /tmp/assets/ -c 8

  # Skip the prompt, retry failed files once more and zip the result
  assetdl download my-asset --confirm --resume-failed --archive

  # Print a per-file status table
  assetdl download my-asset --table

  # Download one folder of the asset, every file into a single directory
  assetdl download my-asset --file-key textures/ --recursive --flatten

  # Only print shareable links
  assetdl download my-asset --links-only`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runDownload,
}

var errDownloadFailed = errors.New("some files failed to download")

func runDownload(cmd *cobra.Command, args []string) error {
	asset := getAsset(cmd, args[0])
	c := commandConfig(cmd)
	logger := newLogger(cmd, os.Stderr)

	destination, _ := cmd.Flags().GetString("destination")
	if destination == "" {
		destination = asset.AssetID
	}
	confirm, _ := cmd.Flags().GetBool("confirm")
	resume, _ := cmd.Flags().GetBool("resume-failed")
	archive, _ := cmd.Flags().GetBool("archive")
	showTable, _ := cmd.Flags().GetBool("table")
	fileKey, _ := cmd.Flags().GetString("file-key")
	recursive, _ := cmd.Flags().GetBool("recursive")
	flat, _ := cmd.Flags().GetBool("flatten")
	linksOnly, _ := cmd.Flags().GetBool("links-only")

	concurrency, _ := cmd.Flags().GetInt("concurrency")
	if !cmd.Flags().Changed("concurrency") {
		concurrency = c.Download.Concurrency
	}
	retries, _ := cmd.Flags().GetInt("retries")
	if !cmd.Flags().Changed("retries") {
		retries = c.Download.Retries
	}

	client, err := s3client.New(c)
	if err != nil {
		utils.PrintError(err, "download")
		return err
	}

	timeout, _ := cmd.Flags().GetInt("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	listed, err := client.ListAsset(ctx, asset)
	if err != nil {
		utils.PrintError(err, "download")
		return err
	}
	root, err := selectFiles(*listed, fileKey, recursive, flat)
	if err != nil {
		utils.PrintError(err, "download")
		return err
	}
	leaves := tree.Flatten(root)

	if linksOnly {
		links, err := collectLinks(ctx, client, asset, leaves, c.URLExpiry())
		if err != nil {
			utils.PrintError(err, "download")
			return err
		}
		listing := models.LinkListing{BucketName: c.BucketName, AssetID: asset.AssetID, Links: links, TotalFiles: len(links)}
		if err := utils.PrintJSON(listing); err != nil {
			utils.PrintError(err, "download")
			return err
		}
		return nil
	}

	renderer := newRenderer(os.Stderr, logger)
	fetcher := transfer.NewHTTPFetcher(time.Duration(timeout) * time.Second)
	transferer := transfer.New(client, fetcher,
		transfer.WithLogger(logger),
		transfer.WithMaxRetries(retries),
		transfer.WithBaseDelay(c.RetryDelay()),
		transfer.WithLimiter(transfer.NewLimiter(c.Download.BandwidthLimit)),
	)
	orchestrator := batch.New(transferer, asset,
		batch.WithConcurrency(concurrency),
		batch.WithLogger(logger),
		batch.WithChangeFunc(renderer.onChange),
	)
	defer orchestrator.Close()

	var dir *storage.Dir
	selectDest := func(context.Context) (storage.Destination, error) {
		if !confirm {
			printSummary(os.Stdout, c.BucketName, asset, destination, leaves)
			ok, err := promptConfirm(cmd.InOrStdin(), os.Stdout)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, storage.ErrSelectionAborted
			}
		}
		d, err := storage.OpenDir(destination)
		if err != nil {
			return nil, err
		}
		if err := d.EnsureSpace(tree.TotalSize(root)); err != nil {
			d.Close()
			return nil, err
		}
		dir = d
		return d, nil
	}

	defer func() {
		if dir != nil {
			dir.Close()
		}
	}()

	renderer.start(len(leaves), tree.TotalSize(root))
	started := time.Now()
	if err := orchestrator.Run(ctx, root, selectDest); err != nil {
		renderer.finish()
		utils.PrintError(err, "download")
		return err
	}
	if dir == nil {
		renderer.finish()
		fmt.Println("Download cancelled.")
		return nil
	}

	if resume && orchestrator.Stats().Failed > 0 {
		logger.Info("retrying failed files", "failed", orchestrator.Stats().Failed)
		if err := orchestrator.Retry(ctx, true); err != nil {
			renderer.finish()
			utils.PrintError(err, "download")
			return err
		}
	}
	renderer.finish()

	items := orchestrator.Items()
	result := buildResult(c.BucketName, asset, orchestrator.BatchID(), dir.Root(), items, time.Since(started))

	if archive && result.Stats.Failed == 0 && len(items) > 0 {
		info, err := utils.CreateArchive(dir.Root(), archivePath(dir.Root(), asset.AssetID), func(rel string) bool {
			return rel == storage.LockFileName
		})
		if err != nil {
			utils.PrintError(err, "download")
			return err
		}
		result.Archive = info
	}

	if err := utils.PrintJSON(result); err != nil {
		utils.PrintError(err, "download")
		return err
	}

	if showTable {
		fmt.Fprint(os.Stderr, utils.RenderStatusTable(items))
	}
	printOutcome(os.Stderr, result)

	if result.Stats.Failed > 0 {
		return fmt.Errorf("%w: %d of %d", errDownloadFailed, result.Stats.Failed, result.Stats.Total)
	}
	return nil
}

// selectFiles narrows the listed asset to what the flags ask for. Without a
// file key the whole asset is selected.
func selectFiles(root models.FileTreeNode, fileKey string, recursive, flat bool) (models.FileTreeNode, error) {
	selection := root
	if fileKey != "" {
		var err error
		selection, err = tree.Subtree(root, fileKey, recursive)
		if err != nil {
			return models.FileTreeNode{}, err
		}
	}
	if flat {
		return tree.Flat(selection)
	}
	return selection, nil
}

// archivePath places the zip next to the destination folder.
func archivePath(destRoot, assetID string) string {
	return filepath.Join(filepath.Dir(destRoot), utils.GenerateArchiveName(assetID, ".zip"))
}

func printSummary(w io.Writer, bucket string, asset models.AssetRef, destination string, leaves []models.FileTreeNode) {
	var total int64
	for _, leaf := range leaves {
		total += leaf.Size
	}
	fmt.Fprintf(w, "Download operation summary:\n")
	fmt.Fprintf(w, "Bucket: %s\n", bucket)
	fmt.Fprintf(w, "Asset: %s\n", asset.AssetID)
	fmt.Fprintf(w, "Files: %d (%s)\n", len(leaves), utils.FormatBytes(total))
	fmt.Fprintf(w, "Destination: %s\n", getDestinationDisplay(destination))
}

func getDestinationDisplay(destination string) string {
	abs, err := filepath.Abs(destination)
	if err != nil {
		return destination
	}
	return abs
}

// promptConfirm reads one line; anything but y/yes declines.
func promptConfirm(in io.Reader, out io.Writer) (bool, error) {
	fmt.Fprint(out, "Continue with download? (y/N): ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return isAffirmative(line), nil
}

func isAffirmative(response string) bool {
	return slices.Contains([]string{"y", "yes"}, strings.ToLower(strings.TrimSpace(response)))
}

func buildResult(bucket string, asset models.AssetRef, batchID, destination string, items []models.TransferItem, elapsed time.Duration) models.DownloadResult {
	result := models.DownloadResult{
		BucketName:       bucket,
		DatabaseID:       asset.DatabaseID,
		AssetID:          asset.AssetID,
		BatchID:          batchID,
		Destination:      destination,
		Items:            make([]models.DownloadItem, 0, len(items)),
		Stats:            models.ComputeStats(items),
		OperationTime:    utils.FormatTime(time.Now()),
		DownloadDuration: elapsed.Round(time.Millisecond).String(),
	}
	for _, item := range items {
		result.Items = append(result.Items, models.DownloadItem{
			RemotePath: item.KeyPrefix,
			LocalPath:  filepath.Join(destination, filepath.FromSlash(item.RelativePath)),
			Size:       item.Size,
			Status:     item.Status.String(),
			Error:      item.Error,
		})
		if item.Status == models.StatusCompleted {
			result.TotalSizeBytes += item.Size
		}
	}
	result.TotalSizeHuman = utils.FormatBytes(result.TotalSizeBytes)
	return result
}

func printOutcome(w io.Writer, result models.DownloadResult) {
	stats := result.Stats
	if stats.Failed > 0 {
		color.New(color.FgRed, color.Bold).Fprintf(w, "%d of %d files failed", stats.Failed, stats.Total)
		fmt.Fprintf(w, " (%s downloaded in %s)\n", result.TotalSizeHuman, result.DownloadDuration)
		return
	}
	color.New(color.FgGreen, color.Bold).Fprintf(w, "%d files downloaded", stats.Completed)
	fmt.Fprintf(w, " (%s in %s)\n", result.TotalSizeHuman, result.DownloadDuration)
}

func init() {
	downloadCmd.Flags().StringP("destination", "d", "", "Local destination folder (default: ./<asset-id>)")
	downloadCmd.Flags().IntP("concurrency", "c", 5, "Maximum number of parallel transfers")
	downloadCmd.Flags().Int("retries", transfer.DefaultMaxRetries, "Retries per file after the first attempt")
	downloadCmd.Flags().Bool("confirm", false, "Skip confirmation prompt")
	downloadCmd.Flags().Int("timeout", 3600, "Timeout in seconds for the operation (default: 1 hour)")
	downloadCmd.Flags().Bool("resume-failed", false, "Retry failed files once more after the batch settles")
	downloadCmd.Flags().Bool("archive", false, "Zip the downloaded folder when every file succeeded")
	downloadCmd.Flags().Bool("table", false, "Print a per-file status table")
	downloadCmd.Flags().String("file-key", "", "Download one file or folder of the asset (path relative to the asset)")
	downloadCmd.Flags().Bool("recursive", false, "With --file-key on a folder, include every file beneath it")
	downloadCmd.Flags().Bool("flatten", false, "Write every file directly into the destination, ignoring folders")
	downloadCmd.Flags().Bool("links-only", false, "Print presigned URLs for the selected files without downloading")
}
