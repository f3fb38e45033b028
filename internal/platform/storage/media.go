package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	gcs "cloud.google.com/go/storage"
)

const publicHost = "https://storage.googleapis.com"

// MediaStore uploads media objects to a Cloud Storage bucket and returns their
// public URLs. Objects are served directly from the bucket, so the bucket is
// expected to allow public reads.
type MediaStore struct {
	bucket    string
	newWriter func(ctx context.Context, objectPath, contentType string) io.WriteCloser
}

// MediaStoreOption customises the store.
type MediaStoreOption func(*MediaStore)

// WithMediaWriterFactory replaces the object writer, primarily for tests.
func WithMediaWriterFactory(factory func(ctx context.Context, objectPath, contentType string) io.WriteCloser) MediaStoreOption {
	return func(s *MediaStore) {
		if factory != nil {
			s.newWriter = factory
		}
	}
}

// NewMediaStore constructs a MediaStore backed by the given client and bucket.
func NewMediaStore(client *gcs.Client, bucket string, opts ...MediaStoreOption) (*MediaStore, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: media bucket is required")
	}
	store := &MediaStore{bucket: bucket}
	if client != nil {
		handle := client.Bucket(bucket)
		store.newWriter = func(ctx context.Context, objectPath, contentType string) io.WriteCloser {
			w := handle.Object(objectPath).NewWriter(ctx)
			w.ContentType = contentType
			w.CacheControl = "public, max-age=86400"
			return w
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	if store.newWriter == nil {
		return nil, errors.New("storage: media store requires a storage client or writer factory")
	}
	return store, nil
}

// Upload streams the object to the bucket and returns its public URL.
func (s *MediaStore) Upload(ctx context.Context, objectPath, contentType string, data io.Reader) (string, error) {
	if s == nil || s.newWriter == nil {
		return "", errors.New("storage: media store not initialised")
	}
	objectPath = strings.Trim(strings.TrimSpace(objectPath), "/")
	if objectPath == "" {
		return "", errors.New("storage: object path is required")
	}
	if data == nil {
		return "", errors.New("storage: upload body is required")
	}

	w := s.newWriter(ctx, objectPath, strings.TrimSpace(contentType))
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage: write object %q: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage: finalise object %q: %w", objectPath, err)
	}
	return s.PublicURL(objectPath), nil
}

// PublicURL returns the canonical public URL for an object in the media bucket.
func (s *MediaStore) PublicURL(objectPath string) string {
	objectPath = strings.Trim(strings.TrimSpace(objectPath), "/")
	segments := strings.Split(objectPath, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return fmt.Sprintf("%s/%s/%s", publicHost, s.bucket, strings.Join(segments, "/"))
}
