// Package storage publishes rendered reports to MinIO or any S3
// compatible object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds the object store connection settings.
type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`

	// PresignTTL, when set, makes Upload return presigned GET URLs.
	PresignTTL time.Duration `mapstructure:"presign_ttl"`
}

// Enabled reports whether an endpoint is configured.
func (c Config) Enabled() bool { return c.Endpoint != "" }

// Store uploads files into a single bucket.
type Store struct {
	client *minio.Client
	cfg    Config
}

// New connects to the store and creates the bucket when missing.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("storage: endpoint and bucket are required")
	}
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: connect %s: %w", cfg.Endpoint, err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("storage: create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &Store{client: cli, cfg: cfg}, nil
}

// Upload puts localPath under key and returns a URL for it.
func (s *Store) Upload(ctx context.Context, localPath, key string) (string, error) {
	_, err := s.client.FPutObject(ctx, s.cfg.Bucket, key, localPath, minio.PutObjectOptions{
		ContentType: ContentType(localPath),
	})
	if err != nil {
		return "", fmt.Errorf("storage: upload %s: %w", key, err)
	}

	if s.cfg.PresignTTL > 0 {
		u, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, key, s.cfg.PresignTTL, url.Values{})
		if err != nil {
			return "", fmt.Errorf("storage: presign %s: %w", key, err)
		}
		return u.String(), nil
	}
	return ObjectURL(s.client.EndpointURL(), s.cfg.Bucket, key), nil
}

// UploadAll uploads every file and returns their URLs keyed by local path.
// It stops at the first failure.
func (s *Store) UploadAll(ctx context.Context, scanID string, files []string) (map[string]string, error) {
	out := make(map[string]string, len(files))
	for _, f := range files {
		u, err := s.Upload(ctx, f, ObjectKey(s.cfg.Prefix, scanID, filepath.Base(f)))
		if err != nil {
			return out, err
		}
		out[f] = u
	}
	return out, nil
}

// ObjectKey builds "<prefix>/<scanID>/<name>", skipping empty parts.
func ObjectKey(prefix, scanID, name string) string {
	var parts []string
	for _, p := range []string{strings.Trim(prefix, "/"), scanID, name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return path.Join(parts...)
}

// ObjectURL is the path-style URL of an object. It is only reachable
// when the bucket allows anonymous reads.
func ObjectURL(endpoint *url.URL, bucket, key string) string {
	u := url.URL{Scheme: endpoint.Scheme, Host: endpoint.Host, Path: "/" + bucket + "/" + key}
	return u.String()
}

// ContentType guesses the MIME type of a report artifact.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".sarif":
		return "application/json"
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
