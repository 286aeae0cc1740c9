package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store implements SegmentStore against S3-compatible object storage.
// Adapted from the reference page-server's S3Storage (internal/storage/
// s3.go in the teacher): same credential-chain and path-style addressing
// setup, retargeted from per-page object keys to timeline snapshot/WAL
// object keys.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	ctx    context.Context
}

// S3Config holds S3 connection settings, unchanged in shape from the
// reference.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
	UseSSL    bool
}

// NewS3Store connects to an S3-compatible endpoint and ensures the
// configured bucket exists.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	ctx := context.Background()

	var awsCfg aws.Config
	var err error
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
			config.WithRegion(cfg.Region),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOptions := []func(*s3.Options){
		func(o *s3.Options) { o.UsePathStyle = true },
	}
	if cfg.Endpoint != "" {
		clientOptions = append(clientOptions, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOptions...)

	if err := ensureBucketExists(ctx, client, cfg.Bucket); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		ctx:    ctx,
	}, nil
}

func ensureBucketExists(ctx context.Context, client *s3.Client, bucket string) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	log.Printf("Created S3 bucket: %s", bucket)
	return nil
}

func (s *S3Store) key(parts ...string) string {
	key := filepath.Join(parts...)
	if s.prefix != "" {
		key = filepath.Join(s.prefix, key)
	}
	return key
}

func (s *S3Store) ListSnapshotLSNs(timeline uint32) ([]string, error) {
	prefix := s.key("timelines", tlPath(timeline), "snapshots") + "/"
	names, err := s.listCommonPrefixes(prefix)
	if err != nil {
		return nil, fmt.Errorf("s3 store: list snapshots: %w", err)
	}
	return names, nil
}

func (s *S3Store) ListDatabases(timeline uint32, snapshotLSNHex string) ([]string, error) {
	prefix := s.key("timelines", tlPath(timeline), "snapshots", snapshotLSNHex, "base") + "/"
	names, err := s.listCommonPrefixes(prefix)
	if err != nil {
		return nil, fmt.Errorf("s3 store: list databases: %w", err)
	}
	return names, nil
}

func (s *S3Store) ListSnapshotFiles(timeline uint32, snapshotLSNHex, subdir string) ([]string, error) {
	prefix := s.key("timelines", tlPath(timeline), "snapshots", snapshotLSNHex, subdir) + "/"
	return s.listObjectNames(prefix)
}

func (s *S3Store) ListWALSegments(timeline uint32) ([]string, error) {
	prefix := s.key("timelines", tlPath(timeline), "wal") + "/"
	return s.listObjectNames(prefix)
}

func (s *S3Store) OpenSnapshotFile(timeline uint32, snapshotLSNHex, subdir, filename string) (io.ReadCloser, error) {
	key := s.key("timelines", tlPath(timeline), "snapshots", snapshotLSNHex, subdir, filename)
	return s.open(key)
}

func (s *S3Store) OpenWALSegment(timeline uint32, filename string, offset int64) (io.ReadCloser, error) {
	key := s.key("timelines", tlPath(timeline), "wal", filename)
	if offset > 0 {
		return s.openRange(key, offset)
	}
	return s.open(key)
}

func (s *S3Store) open(key string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(s.ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 store: get object %s: %w", key, err)
	}
	return result.Body, nil
}

// openRange issues a ranged GetObject starting at offset, used to resume
// WAL replay partway through a segment without re-fetching bytes already
// covered by a snapshot.
func (s *S3Store) openRange(key string, offset int64) (io.ReadCloser, error) {
	result, err := s.client.GetObject(s.ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-", offset)),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 store: get object %s at offset %d: %w", key, offset, err)
	}
	return result.Body, nil
}

func (s *S3Store) listObjectNames(prefix string) ([]string, error) {
	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(s.ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			names = append(names, filepath.Base(*obj.Key))
		}
	}
	return names, nil
}

func (s *S3Store) listCommonPrefixes(prefix string) ([]string, error) {
	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(s.ctx)
		if err != nil {
			return nil, fmt.Errorf("list common prefixes: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			trimmed := strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, prefix), "/")
			if trimmed != "" {
				names = append(names, trimmed)
			}
		}
	}
	return names, nil
}

func (s *S3Store) Close() error {
	return nil
}

func tlPath(timeline uint32) string {
	return strconv.FormatUint(uint64(timeline), 10)
}
