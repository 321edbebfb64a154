// Package archive exports old notification log entries to S3-compatible
// object storage and removes them from the local log.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"ravenmail/internal/conf"
	"ravenmail/internal/metrics"
	"ravenmail/internal/models"
)

const defaultBatchSize = 1000

// ObjectPutter is the part of the S3 client the archiver needs
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// LogStore is the notification log being archived
type LogStore interface {
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.NotificationLogEntry, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// Archiver moves finalized log entries older than the retention window to a bucket
type Archiver struct {
	client    ObjectPutter
	logs      LogStore
	bucket    string
	prefix    string
	retention time.Duration
	batchSize int
	log       *zap.SugaredLogger
	now       func() time.Time
}

// NewS3Client builds an S3 client from the archive configuration. Static
// credentials are used when configured, the default AWS chain otherwise.
func NewS3Client(ctx context.Context, cfg conf.ArchiveConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// New creates an archiver
func New(client ObjectPutter, logs LogStore, cfg conf.ArchiveConfig, log *zap.SugaredLogger) *Archiver {
	return &Archiver{
		client:    client,
		logs:      logs,
		bucket:    cfg.Bucket,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		retention: cfg.Retention(),
		batchSize: defaultBatchSize,
		log:       log,
		now:       time.Now,
	}
}

// Run archives every eligible entry, one object per batch. Entries are only
// deleted after their object was stored.
func (a *Archiver) Run(ctx context.Context) error {
	now := a.now().UTC()
	cutoff := now.Add(-a.retention)
	total := 0

	for batch := 0; ; batch++ {
		entries, err := a.logs.ListBefore(ctx, cutoff, a.batchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			break
		}

		key := a.objectKey(now, batch)
		if err := a.upload(ctx, key, entries); err != nil {
			return err
		}

		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if _, err := a.logs.DeleteByIDs(ctx, ids); err != nil {
			return fmt.Errorf("archived %s but failed to prune log: %w", key, err)
		}

		total += len(entries)
		metrics.ArchivedEntries.Add(float64(len(entries)))
		a.log.Infof("Archived %d notification log entries to s3://%s/%s", len(entries), a.bucket, key)

		if len(entries) < a.batchSize {
			break
		}
	}

	if total == 0 {
		a.log.Debugf("No notification log entries older than %v to archive", a.retention)
	}
	return nil
}

func (a *Archiver) objectKey(ts time.Time, batch int) string {
	name := fmt.Sprintf("%s/notifications-%s-%03d.jsonl", ts.Format("2006/01/02"), ts.Format("20060102T150405Z"), batch)
	if a.prefix == "" {
		return name
	}
	return a.prefix + "/" + name
}

func (a *Archiver) upload(ctx context.Context, key string, entries []models.NotificationLogEntry) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return fmt.Errorf("failed to encode log entry %s: %w", entries[i].ID, err)
		}
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("failed to upload %s: %s: %s", key, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}
