package storagetest

import (
	"context"
	"sync"
)

type Object struct {
	Data        []byte
	ContentType string
}

// Blobs is an in-memory blob store.
type Blobs struct {
	mu      sync.Mutex
	objects map[string]Object
	// Err, when set, is returned by every Put.
	Err error
}

func NewBlobs() *Blobs {
	return &Blobs{objects: make(map[string]Object)}
}

func (b *Blobs) Put(_ context.Context, path string, data []byte, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return "", b.Err
	}
	b.objects[path] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return path, nil
}

func (b *Blobs) PublicURL(path string) string {
	return "https://blobs.test/" + path
}

func (b *Blobs) Object(path string) (Object, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.objects[path]
	return o, ok
}
