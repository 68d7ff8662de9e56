package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArchiveStore persists finished-run artifacts (the run row plus its
// items as one JSON document) to durable object storage, so the operator
// can review past schedules after the database rows age out of dashboards.
type ArchiveStore interface {
	// Store saves an artifact and returns a reference URI.
	Store(ctx context.Context, runID string, artifact interface{}) (string, error)
	// Retrieve fetches an artifact by reference.
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}

// S3ArchiveStore stores run artifacts in S3-compatible storage.
type S3ArchiveStore struct {
	client     *s3.Client
	bucket     string
	prefix     string
	localCache string
}

// S3ArchiveStoreConfig holds S3 configuration.
type S3ArchiveStoreConfig struct {
	Bucket          string
	Prefix          string // e.g. "archives/runs/"
	Region          string
	Endpoint        string // For MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
	LocalCacheDir   string
}

// NewS3ArchiveStore creates an S3-backed archive store.
func NewS3ArchiveStore(cfg S3ArchiveStoreConfig) (*S3ArchiveStore, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	}
	client := s3.NewFromConfig(awsCfg, clientOpts...)

	if cfg.LocalCacheDir != "" {
		if err := os.MkdirAll(cfg.LocalCacheDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	return &S3ArchiveStore{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		localCache: cfg.LocalCacheDir,
	}, nil
}

// Store serializes and uploads one run artifact.
func (s *S3ArchiveStore) Store(ctx context.Context, runID string, artifact interface{}) (string, error) {
	data, err := json.Marshal(artifact)
	if err != nil {
		return "", fmt.Errorf("failed to marshal artifact: %w", err)
	}
	key := s.buildKey(runID)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact to S3: %w", err)
	}

	if s.localCache != "" {
		cachePath := filepath.Join(s.localCache, runID+".json")
		_ = os.WriteFile(cachePath, data, 0644)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Retrieve fetches an artifact from S3, preferring the local cache.
func (s *S3ArchiveStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	key := s.extractKey(reference)

	if s.localCache != "" {
		cachePath := filepath.Join(s.localCache, filepath.Base(key))
		if data, err := os.ReadFile(cachePath); err == nil {
			return data, nil
		}
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact from S3: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	if s.localCache != "" {
		cachePath := filepath.Join(s.localCache, filepath.Base(key))
		_ = os.WriteFile(cachePath, data, 0644)
	}
	return data, nil
}

func (s *S3ArchiveStore) buildKey(runID string) string {
	timestamp := time.Now().Format("2006/01/02")
	return fmt.Sprintf("%s%s/%s.json", s.prefix, timestamp, runID)
}

func (s *S3ArchiveStore) extractKey(reference string) string {
	if len(reference) > 5 && reference[:5] == "s3://" {
		parts := reference[5:]
		for i, c := range parts {
			if c == '/' {
				return parts[i+1:]
			}
		}
	}
	return reference
}

// LocalArchiveStore stores artifacts on the local filesystem for
// development and single-node deployments.
type LocalArchiveStore struct {
	basePath string
}

// NewLocalArchiveStore creates a filesystem-backed archive store.
func NewLocalArchiveStore(basePath string) (*LocalArchiveStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &LocalArchiveStore{basePath: basePath}, nil
}

// Store writes one artifact to disk.
func (l *LocalArchiveStore) Store(ctx context.Context, runID string, artifact interface{}) (string, error) {
	data, err := json.Marshal(artifact)
	if err != nil {
		return "", fmt.Errorf("failed to marshal artifact: %w", err)
	}
	path := filepath.Join(l.basePath, runID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return path, nil
}

// Retrieve reads one artifact from disk.
func (l *LocalArchiveStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	return os.ReadFile(reference)
}
