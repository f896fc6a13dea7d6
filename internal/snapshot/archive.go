package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArchiveConfig describes where completed snapshots should be copied
// for out-of-band disaster recovery, independent of the replication
// link itself. Archival is best-effort: a failure here never blocks or
// fails a resync, it only gets logged.
type ArchiveConfig struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // non-empty for S3-compatible targets
	AccessKeyID     string
	SecretAccessKey string
}

// Archiver uploads completed snapshot files to S3-compatible object
// storage.
type Archiver struct {
	client *s3.Client
	cfg    ArchiveConfig
}

// NewArchiver builds an S3 client from cfg. Static credentials are used
// when provided; otherwise the default AWS credential chain applies.
func NewArchiver(ctx context.Context, cfg ArchiveConfig) (*Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("snapshot: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
			o.UsePathStyle = true
		}
	})

	return &Archiver{client: client, cfg: cfg}, nil
}

// Archive uploads the snapshot at path under <prefix>/<basename>,
// timestamped so repeated full resyncs do not clobber one another.
func (a *Archiver) Archive(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("snapshot: opening %s for archival: %w", path, err)
	}
	defer f.Close()

	key := filepath.ToSlash(filepath.Join(a.cfg.Prefix,
		fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405Z"), filepath.Base(path))))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &a.cfg.Bucket,
		Key:    &key,
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("snapshot: uploading %s to s3://%s/%s: %w", path, a.cfg.Bucket, key, err)
	}
	return key, nil
}
