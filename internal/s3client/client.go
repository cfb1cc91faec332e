package s3client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	appConfig "assetdl/config"
	"assetdl/internal/metacache"
	"assetdl/internal/models"
	"assetdl/internal/transfer"
	"assetdl/internal/tree"
	"assetdl/pkg/utils"
)

const urlCacheSize = 10000

type Client struct {
	s3Client  *s3.Client
	presigner *s3.PresignClient
	config    *appConfig.Config
	urls      *metacache.Cache[string, string]
}

func New(cfg *appConfig.Config) (*Client, error) {
	awsConfig, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{
				AccessKeyID:     cfg.AccessKey,
				SecretAccessKey: cfg.SecretKey,
			},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Client *s3.Client
	if cfg.ApiURL != "" {
		s3Client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.ApiURL)
			o.UsePathStyle = true
		})
	} else {
		s3Client = s3.NewFromConfig(awsConfig)
	}

	// URLs are reused for retries until half their lifetime has passed.
	return &Client{
		s3Client:  s3Client,
		presigner: s3.NewPresignClient(s3Client),
		config:    cfg,
		urls:      metacache.New[string, string](urlCacheSize, cfg.URLExpiry()/2),
	}, nil
}

// ListAsset lists every object stored under the asset and returns it as a
// file tree rooted at the asset folder.
func (c *Client) ListAsset(ctx context.Context, asset models.AssetRef) (*models.FileTreeNode, error) {
	prefix := assetPrefix(asset)

	var entries []tree.Entry
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.config.BucketName),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		entries = append(entries, entriesFromObjects(prefix, page.Contents)...)
	}

	root, err := tree.Build(asset.AssetID, prefix, entries)
	if err != nil {
		return nil, fmt.Errorf("failed to build file tree: %w", err)
	}
	return root, nil
}

func entriesFromObjects(prefix string, objects []types.Object) []tree.Entry {
	entries := make([]tree.Entry, 0, len(objects))
	for _, obj := range objects {
		key := aws.ToString(obj.Key)
		rel := strings.TrimPrefix(key, prefix)
		if rel == "" {
			continue
		}
		entries = append(entries, tree.Entry{
			RelativePath: rel,
			Key:          key,
			Size:         aws.ToInt64(obj.Size),
		})
	}
	return entries
}

// DownloadURL presigns a GET for key. Keys outside the asset are refused.
// A database maps to the configured bucket and assets are top level
// prefixes inside it, so the database only scopes the URL cache.
func (c *Client) DownloadURL(ctx context.Context, asset models.AssetRef, key string) (string, error) {
	if !strings.HasPrefix(key, assetPrefix(asset)) {
		return "", transfer.Permanent(fmt.Errorf("key %q does not belong to asset %s", key, asset.AssetID))
	}

	cacheKey := urlCacheKey(c.config.BucketName, asset, key)
	if url, ok := c.urls.Get(cacheKey); ok {
		return url, nil
	}

	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.config.BucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(c.config.URLExpiry()))
	if err != nil {
		return "", fmt.Errorf("failed to presign download url: %w", err)
	}

	c.urls.Put(cacheKey, req.URL)
	return req.URL, nil
}

func (c *Client) AssetInfo(ctx context.Context, asset models.AssetRef) (*models.AssetInfo, error) {
	prefix := assetPrefix(asset)

	var objectCount, folderCount int64
	var totalSize int64
	var lastModified time.Time

	paginator := s3.NewListObjectsV2Paginator(c.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.config.BucketName),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if strings.HasSuffix(aws.ToString(obj.Key), "/") {
				folderCount++
				continue
			}
			objectCount++
			totalSize += aws.ToInt64(obj.Size)
			if obj.LastModified != nil && obj.LastModified.After(lastModified) {
				lastModified = *obj.LastModified
			}
		}
	}

	return &models.AssetInfo{
		BucketName:     c.config.BucketName,
		DatabaseID:     asset.DatabaseID,
		AssetID:        asset.AssetID,
		Region:         c.config.Region,
		ObjectCount:    objectCount,
		FolderCount:    folderCount,
		TotalSizeBytes: totalSize,
		TotalSizeHuman: utils.FormatBytes(totalSize),
		LastModified:   lastModified,
		APIEndpoint:    c.config.ApiURL,
	}, nil
}

func urlCacheKey(bucket string, asset models.AssetRef, key string) string {
	return asset.DatabaseID + "|" + bucket + "/" + key
}

func assetPrefix(asset models.AssetRef) string {
	return strings.Trim(asset.AssetID, "/") + "/"
}
