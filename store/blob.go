package store

import (
	"context"
	"fmt"
	"net/url"

	gcs "cloud.google.com/go/storage"
)

const firebaseDownloadURL = "https://firebasestorage.googleapis.com/v0/b/%s/o/%s?alt=media"

// Bucket is a BlobStore over a Firebase Storage bucket.
type Bucket struct {
	handle *gcs.BucketHandle
	name   string
}

func NewBucket(handle *gcs.BucketHandle, name string) *Bucket {
	return &Bucket{handle: handle, name: name}
}

func (b *Bucket) Upload(ctx context.Context, path, contentType string, data []byte) error {
	w := b.handle.Object(path).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close object %s: %w", path, err)
	}
	return nil
}

func (b *Bucket) PublicURL(path string) string {
	return fmt.Sprintf(firebaseDownloadURL, b.name, url.PathEscape(path))
}
