package server

import (
	"fmt"
	"log"
	"time"

	"github.com/neonwal/pageserver/internal/auth"
	"github.com/neonwal/pageserver/internal/pageindex"
	"github.com/neonwal/pageserver/internal/reconstruct"
	"github.com/neonwal/pageserver/internal/snapshot"
	"github.com/neonwal/pageserver/internal/storage"
	"github.com/neonwal/pageserver/internal/walingest"
)

// PageServer wires the page index, WAL ingestor, page reconstructor,
// storage backend, and auth middleware into one unit serving the HTTP
// query surface.
type PageServer struct {
	Store       storage.SegmentStore
	Index       *pageindex.PageIndex
	Ingestor    *walingest.Ingestor
	Reconstruct *reconstruct.Reconstructor
	Auth        *auth.AuthMiddleware
	Timeline    uint32

	// WatermarkWaitTimeout bounds how long a get_page request will block
	// waiting for last_valid_lsn to reach the requested LSN, on top of
	// whatever deadline the request's own context already carries. Zero
	// means no additional bound is applied.
	WatermarkWaitTimeout time.Duration
}

// Config holds the settings needed to build a PageServer.
type Config struct {
	DataDir     string
	StorageType string // "file", "s3", or "hybrid"

	S3Endpoint  string
	S3Bucket    string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Prefix    string
	S3UseSSL    bool

	Tier1CacheEntries int
	LFCSizeMB         int // 0 = size from system memory

	Timeline    uint32
	RedoWorkers int
	RedoTimeout int // seconds

	WatermarkWaitTimeout time.Duration // 0 = no additional bound

	APIKey     string
	AuthTokens string
}

// NewPageServer builds the storage backend named by cfg.StorageType,
// bootstraps the page index from its snapshot and WAL data, and wires up
// WAL ingestion and page reconstruction for the running server.
func NewPageServer(cfg Config) (*PageServer, error) {
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	idx := pageindex.New()
	loader := snapshot.New(store, idx, cfg.Timeline, log.Default())
	if err := loader.Bootstrap(); err != nil {
		return nil, fmt.Errorf("page server: bootstrap from snapshot: %w", err)
	}

	ingestor := walingest.New(idx, log.Default())

	workers := cfg.RedoWorkers
	if workers <= 0 {
		workers = 4
	}
	var opts []reconstruct.Option
	if cfg.RedoTimeout > 0 {
		opts = append(opts, reconstruct.WithRedoTimeout(secondsToDuration(cfg.RedoTimeout)))
	}
	rc := reconstruct.New(idx, reconstruct.ConcatApplier{}, workers, opts...)

	authMiddleware := auth.NewAuthMiddleware(cfg.APIKey, cfg.AuthTokens)

	return &PageServer{
		Store:                store,
		Index:                idx,
		Ingestor:             ingestor,
		Reconstruct:          rc,
		Auth:                 authMiddleware,
		Timeline:             cfg.Timeline,
		WatermarkWaitTimeout: cfg.WatermarkWaitTimeout,
	}, nil
}

func newStore(cfg Config) (storage.SegmentStore, error) {
	switch cfg.StorageType {
	case "s3":
		if cfg.S3Bucket == "" || cfg.S3Endpoint == "" {
			return nil, fmt.Errorf("s3-bucket and s3-endpoint are required when using s3 storage")
		}
		s3, err := storage.NewS3Store(s3ConfigFrom(cfg))
		if err != nil {
			return nil, fmt.Errorf("page server: s3 storage: %w", err)
		}
		log.Printf("using s3 storage backend: bucket=%s endpoint=%s", cfg.S3Bucket, cfg.S3Endpoint)
		return s3, nil

	case "hybrid":
		if cfg.S3Bucket == "" || cfg.S3Endpoint == "" {
			return nil, fmt.Errorf("s3-bucket and s3-endpoint are required when using hybrid storage")
		}
		hs, err := storage.NewHybridStore(cfg.DataDir, cfg.Tier1CacheEntries, cfg.LFCSizeMB, s3ConfigFrom(cfg))
		if err != nil {
			return nil, fmt.Errorf("page server: hybrid storage: %w", err)
		}
		log.Printf("using hybrid storage backend (tier1 + lfc + s3): bucket=%s", cfg.S3Bucket)
		return hs, nil

	case "file", "":
		ls, err := storage.NewLocalStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("page server: local storage: %w", err)
		}
		log.Printf("using local storage backend: %s", cfg.DataDir)
		return ls, nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: file, s3, hybrid)", cfg.StorageType)
	}
}

func s3ConfigFrom(cfg Config) storage.S3Config {
	return storage.S3Config{
		Endpoint:  cfg.S3Endpoint,
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Prefix:    cfg.S3Prefix,
		UseSSL:    cfg.S3UseSSL,
	}
}

// Close releases the resources held by the reconstructor and storage
// backend.
func (s *PageServer) Close() error {
	s.Reconstruct.Close()
	return s.Store.Close()
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
