// Package gcs provides a cache store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/site-summarizer/internal/summary"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// Store keeps each cache entry as a single object named
// <prefix>/<scope>/<sha256(field)>.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
	hasher summary.Hasher
}

// New creates a GCS-backed cache store.
func New(client *storage.Client, cfg Config, hasher summary.Hasher) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		hasher: hasher,
	}, nil
}

// Get downloads the object for (scope, field). A missing object is a miss.
func (s *Store) Get(ctx context.Context, scope, field string) (string, bool, error) {
	name, err := s.objectName(scope, field)
	if err != nil {
		return "", false, err
	}
	reader, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("open object: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", false, fmt.Errorf("read object: %w", err)
	}
	return string(data), true, nil
}

// Set uploads value as the object for (scope, field), replacing any prior one.
func (s *Store) Set(ctx context.Context, scope, field, value string) error {
	name, err := s.objectName(scope, field)
	if err != nil {
		return err
	}
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := io.Copy(writer, strings.NewReader(value)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// ObjectName returns the object path used for (scope, field).
func (s *Store) ObjectName(scope, field string) (string, error) {
	return s.objectName(scope, field)
}

func (s *Store) objectName(scope, field string) (string, error) {
	if strings.TrimSpace(scope) == "" {
		return "", fmt.Errorf("scope is required")
	}
	digest, err := s.hasher.Hash([]byte(field))
	if err != nil {
		return "", fmt.Errorf("hash field: %w", err)
	}
	return path.Join(s.prefix, scope, digest), nil
}
