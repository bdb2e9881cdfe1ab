package aws

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	appconfig "marketsync/internal/config"
)

// FeedService moves catalog feed snapshots and reconciliation reports
// through S3. Feed snapshots are produced upstream by the ingestion
// pipeline; reports are written here after every sync run.
type FeedService interface {
	// DownloadSnapshot fetches one feed snapshot object by key
	DownloadSnapshot(ctx context.Context, key string) ([]byte, error)

	// LatestSnapshotKey returns the newest object under the feed prefix
	// for a catalog source
	LatestSnapshotKey(ctx context.Context, sourceID string) (string, error)

	// UploadReport stores a reconciliation report, returning its URL
	UploadReport(ctx context.Context, name string, body []byte) (string, error)

	// TestConnection verifies bucket access
	TestConnection(ctx context.Context) error
}

type feedService struct {
	s3           *s3.Client
	bucket       string
	region       string
	feedPrefix   string
	reportPrefix string
}

// NewFeedService builds a FeedService from the feed configuration
func NewFeedService(cfg appconfig.FeedConfig) (FeedService, error) {
	credProvider := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credProvider),
	)
	if err != nil {
		return nil, err
	}

	return &feedService{
		s3:           s3.NewFromConfig(awsCfg),
		bucket:       cfg.Bucket,
		region:       cfg.Region,
		feedPrefix:   cfg.FeedPrefix,
		reportPrefix: cfg.ReportPrefix,
	}, nil
}

// DownloadSnapshot fetches a feed snapshot into memory
func (s *feedService) DownloadSnapshot(ctx context.Context, key string) ([]byte, error) {
	downloader := manager.NewDownloader(s.s3)
	buf := manager.NewWriteAtBuffer(nil)

	_, err := downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download feed snapshot %s: %w", key, err)
	}

	log.Debug().Str("key", key).Int("size", len(buf.Bytes())).Msg("Downloaded feed snapshot")
	return buf.Bytes(), nil
}

// LatestSnapshotKey lists the source's feed prefix and returns the key with
// the newest LastModified timestamp.
func (s *feedService) LatestSnapshotKey(ctx context.Context, sourceID string) (string, error) {
	prefix := path.Join(s.feedPrefix, sourceID) + "/"

	var latestKey string
	var latestTime time.Time

	paginator := s3.NewListObjectsV2Paginator(s.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("list feed snapshots for %s: %w", sourceID, err)
		}
		for _, object := range page.Contents {
			if object.LastModified != nil && object.LastModified.After(latestTime) {
				latestTime = *object.LastModified
				latestKey = aws.ToString(object.Key)
			}
		}
	}

	if latestKey == "" {
		return "", fmt.Errorf("no feed snapshot found for source %s", sourceID)
	}

	return latestKey, nil
}

// UploadReport stores a report under the report prefix
func (s *feedService) UploadReport(ctx context.Context, name string, body []byte) (string, error) {
	key := path.Join(s.reportPrefix, name)

	uploader := manager.NewUploader(s.s3)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("upload report %s: %w", key, err)
	}

	reportURL := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
	log.Info().Str("url", reportURL).Msg("Uploaded reconciliation report")
	return reportURL, nil
}

// TestConnection verifies bucket access with a minimal list call
func (s *feedService) TestConnection(ctx context.Context) error {
	_, err := s.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		log.Error().Err(err).Str("bucket", s.bucket).Msg("S3 connection test failed")
	}
	return err
}
