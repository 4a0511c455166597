package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aj9599/submeter-billing/logger"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

const (
	FolderReadingPhotos = "readings"
	FolderBills         = "bills"
	FolderStatements    = "statements"
)

// StoredDocument is where an uploaded blob can be fetched from.
type StoredDocument struct {
	URL string
	Key string
}

// DocumentStore persists photos, bill scans and rendered statements.
type DocumentStore interface {
	Put(ctx context.Context, folder, name, contentType string, data []byte) (StoredDocument, error)
	Delete(ctx context.Context, key string) error
}

func objectKey(folder, name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	return path.Join(folder, time.Now().UTC().Format("2006/01"), uuid.NewString()+ext)
}

// LocalStore keeps documents on disk below root and serves them from baseURL.
type LocalStore struct {
	root    string
	baseURL string
}

func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) Put(ctx context.Context, folder, name, contentType string, data []byte) (StoredDocument, error) {
	if err := ctx.Err(); err != nil {
		return StoredDocument{}, err
	}
	key := objectKey(folder, name)
	full := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return StoredDocument{}, err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return StoredDocument{}, err
	}
	return StoredDocument{URL: s.baseURL + "/" + key, Key: key}, nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(key)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// MinioStore keeps documents in an S3-compatible bucket.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		logger.FromContext(ctx).Info("created document bucket", zap.String("bucket", cfg.Bucket))
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return &MinioStore{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket),
	}, nil
}

func (s *MinioStore) Put(ctx context.Context, folder, name, contentType string, data []byte) (StoredDocument, error) {
	key := objectKey(folder, name)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return StoredDocument{}, fmt.Errorf("put object %s: %w", key, err)
	}
	return StoredDocument{URL: s.baseURL + "/" + key, Key: key}, nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

// putWithTimeout bounds an upload and classifies its failure as upstream.
func putWithTimeout(ctx context.Context, store DocumentStore, timeout time.Duration, folder, name, contentType string, data []byte) (StoredDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	doc, err := store.Put(ctx, folder, name, contentType, data)
	if err != nil {
		return StoredDocument{}, upstream("document upload", err)
	}
	return doc, nil
}

// discard removes already uploaded documents after the owning write failed.
func discard(ctx context.Context, store DocumentStore, keys ...string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	for _, key := range keys {
		if err := store.Delete(ctx, key); err != nil {
			logger.FromContext(ctx).Warn("failed to remove orphaned document", zap.String("key", key), zap.Error(err))
		}
	}
}
