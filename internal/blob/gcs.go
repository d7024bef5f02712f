package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSStore is the concrete C1 Blob Store Adapter backed by Google Cloud
// Storage, adapted from the teacher's gcpclient.StorageAdapter (kept
// here as the Upload/Download shape; Delete and UrlToKey are new — the
// teacher's adapter never needed them because its upload flow was
// client-direct via signed URL).
type GCSStore struct {
	client *storage.Client
	bucket string
}

func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("blob.NewGCSStore: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) Upload(ctx context.Context, key, contentType string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("blob.Upload: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("blob.Upload: close: %w", err)
	}
	return nil
}

func (s *GCSStore) Download(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("blob.Download: %w", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("blob.Download: read: %w", err)
	}
	return data, nil
}

// Delete removes an object. A missing object is not an error, so
// callers (e.g. compensating deletes after a failed DB write, or a
// KnowledgeBase cascade delete) can call it unconditionally.
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && err != storage.ErrObjectNotExist {
		return fmt.Errorf("blob.Delete: %w", err)
	}
	return nil
}

// UrlToKey extracts the object key from a public GCS URL of the form
// https://storage.googleapis.com/{bucket}/{key}.
func (s *GCSStore) UrlToKey(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("blob.UrlToKey: %w", err)
	}
	prefix := "/" + s.bucket + "/"
	if !strings.HasPrefix(u.Path, prefix) {
		return "", fmt.Errorf("blob.UrlToKey: url %q is not under bucket %q", rawURL, s.bucket)
	}
	return strings.TrimPrefix(u.Path, prefix), nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

// PublicURL returns the conventional public URL for a key, used to
// populate KnowledgeDocument.BlobPublicURL after upload.
func (s *GCSStore) PublicURL(key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key)
}
