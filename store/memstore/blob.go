package memstore

import (
	"context"
	"sync"
)

type Object struct {
	ContentType string
	Data        []byte
}

type Blobs struct {
	bucket string

	mu      sync.RWMutex
	objects map[string]Object
}

func NewBlobs(bucket string) *Blobs {
	return &Blobs{bucket: bucket, objects: make(map[string]Object)}
}

func (b *Blobs) Upload(_ context.Context, path, contentType string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = Object{ContentType: contentType, Data: append([]byte(nil), data...)}
	return nil
}

func (b *Blobs) PublicURL(path string) string {
	return "memory://" + b.bucket + "/" + path
}

func (b *Blobs) Object(path string) (Object, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[path]
	return obj, ok
}
