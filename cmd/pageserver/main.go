package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/neonwal/pageserver/internal/api"
	"github.com/neonwal/pageserver/internal/server"
)

var (
	port    = flag.Int("port", 8080, "The server port")
	dataDir = flag.String("data-dir", "./page-server-data", "Data directory for local/hybrid storage")

	tier1CacheEntries = flag.Int("cache-size", 1000, "Maximum number of byte-range entries in the tier 1 memory cache")
	lfcSizeMB         = flag.Int("lfc-size-mb", 0, "Size of the hybrid store's local file cache in megabytes (0 = size from system memory)")

	storageBackend = flag.String("storage-backend", "file", "Storage backend: file, s3, or hybrid")
	s3Endpoint     = flag.String("s3-endpoint", "", "S3 endpoint (e.g., https://s3.amazonaws.com or http://minio:9000)")
	s3Bucket       = flag.String("s3-bucket", "", "S3 bucket name")
	s3Region       = flag.String("s3-region", "us-east-1", "AWS region")
	s3AccessKey    = flag.String("s3-access-key", "", "S3 access key ID")
	s3SecretKey    = flag.String("s3-secret-key", "", "S3 secret access key")
	s3Prefix       = flag.String("s3-prefix", "", "Optional prefix for S3 objects")
	s3UseSSL       = flag.Bool("s3-use-ssl", true, "Use SSL/TLS for S3 connections")

	timeline    = flag.Uint("timeline", 1, "Timeline ID to serve")
	redoWorkers = flag.Int("redo-workers", 4, "Number of concurrent WAL-redo worker goroutines")
	redoTimeout = flag.Int("redo-timeout-seconds", 30, "Per-page redo timeout in seconds")

	watermarkWaitTimeout = flag.Duration("watermark-wait-timeout", 0, "Maximum time a get_page request will block waiting for last_valid_lsn to catch up (0 = no additional bound beyond the request's own context)")

	apiKey     = flag.String("api-key", "", "API key for authentication (optional)")
	authTokens = flag.String("auth-tokens", "", "Comma-separated list of bearer auth tokens")

	tlsEnabled  = flag.Bool("tls", false, "Enable TLS/HTTPS")
	tlsCertFile = flag.String("tls-cert", "", "Path to TLS certificate file")
	tlsKeyFile  = flag.String("tls-key", "", "Path to TLS private key file")
)

func main() {
	flag.Parse()

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Fatalf("failed to create data directory: %v", err)
	}
	absDataDir, err := filepath.Abs(*dataDir)
	if err != nil {
		log.Fatalf("failed to resolve data directory: %v", err)
	}

	cfg := server.Config{
		DataDir:              absDataDir,
		StorageType:          *storageBackend,
		S3Endpoint:           *s3Endpoint,
		S3Bucket:             *s3Bucket,
		S3Region:             *s3Region,
		S3AccessKey:          *s3AccessKey,
		S3SecretKey:          *s3SecretKey,
		S3Prefix:             *s3Prefix,
		S3UseSSL:             *s3UseSSL,
		Tier1CacheEntries:    *tier1CacheEntries,
		LFCSizeMB:            *lfcSizeMB,
		Timeline:             uint32(*timeline),
		RedoWorkers:          *redoWorkers,
		RedoTimeout:          *redoTimeout,
		WatermarkWaitTimeout: *watermarkWaitTimeout,
		APIKey:               *apiKey,
		AuthTokens:           *authTokens,
	}

	pageServer, err := server.NewPageServer(cfg)
	if err != nil {
		log.Fatalf("failed to create page server: %v", err)
	}
	defer pageServer.Close()

	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", *port),
	}
	if err := server.ConfigureTLS(httpServer, *tlsEnabled, *tlsCertFile, *tlsKeyFile); err != nil {
		log.Fatalf("failed to configure TLS: %v", err)
	}

	api.RegisterHandlers(pageServer)

	first, last := pageServer.Index.Watermarks()
	log.Printf("page server starting")
	log.Printf("  port: %d", *port)
	log.Printf("  timeline: %d", *timeline)
	log.Printf("  storage backend: %s (data dir: %s)", *storageBackend, absDataDir)
	log.Printf("  watermarks: first_valid_lsn=%d last_valid_lsn=%d", first, last)
	log.Printf("  redo workers: %d (timeout %ds)", *redoWorkers, *redoTimeout)
	if *watermarkWaitTimeout > 0 {
		log.Printf("  watermark wait timeout: %s", *watermarkWaitTimeout)
	}
	if *lfcSizeMB > 0 {
		log.Printf("  lfc size: %dMB (override)", *lfcSizeMB)
	}

	if pageServer.Auth.IsEnabled() {
		log.Printf("  authentication: enabled")
	} else {
		log.Printf("  authentication: disabled")
	}
	if *tlsEnabled {
		log.Printf("  tls: enabled (cert %s)", *tlsCertFile)
	} else {
		log.Printf("  tls: disabled")
	}

	log.Printf("endpoints:")
	log.Printf("  GET  /v1/ping")
	log.Printf("  POST /v1/get_page")
	log.Printf("  POST /v1/get_pages")
	log.Printf("  POST /v1/ingest_wal")
	log.Printf("  GET  /v1/relsize")
	log.Printf("  GET  /v1/watermarks")
	log.Printf("  GET  /v1/metrics")
	log.Printf("  POST /v1/bootstrap")

	if *tlsEnabled {
		err = httpServer.ListenAndServeTLS(*tlsCertFile, *tlsKeyFile)
	} else {
		err = httpServer.ListenAndServe()
	}
	if err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
