// Package blob defines the Blob Store Adapter contract (C1): a thin
// external collaborator the rest of the system treats as durable
// key/value object storage.
package blob

import "context"

// Store is the C1 contract. Every method is idempotent: Upload overwrites
// an existing key, Delete on a missing key is not an error.
type Store interface {
	Upload(ctx context.Context, key, contentType string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// UrlToKey extracts the store key from a public URL previously
	// returned for that key, for callers that only retained the URL.
	UrlToKey(url string) (string, error)
}
