// Package blob stores entity attachments (asset images and uploaded files)
// on the local file system or in an S3-compatible bucket.
package blob

import (
	"context"
)

// Store is the attachment storage contract. Keys are slash-separated
// relative paths such as "alice/a1/logo.png".
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// URL returns where clients can fetch key.
	URL(key string) string
}
