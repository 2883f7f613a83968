// Package sink implements the object-storage backends batches are
// flushed to.
//
// Each backend implements the Client/Bucket/Object interfaces; the
// Flusher drains a stream's spooled buffer into a durably named object.
package sink

import (
	"context"
	"os"
	"path"
	"sort"
	"sync"
)

// Client is a connection to an object-storage backend.
type Client interface {
	// Bucket addresses the named bucket. Existence is not checked
	// until an upload runs against it.
	Bucket(name string) Bucket
	Close() error
}

// Bucket addresses one storage bucket.
type Bucket interface {
	Object(name string) Object
}

// Object addresses one object within a bucket.
type Object interface {
	// UploadFile uploads the local file's full contents as this
	// object, overwriting any previous version.
	UploadFile(ctx context.Context, path string) error
}

// ═══════════════════════════════════════════
// Memory backend (for tests / dry runs)
// ═══════════════════════════════════════════

// MemoryClient is an in-process backend. `target-gcs dry-run` uses it
// to show what a run would create without touching real storage.
type MemoryClient struct {
	mu      sync.Mutex
	objects map[string][]byte // "bucket/object" -> contents
}

// NewMemoryClient creates an empty in-memory backend.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{objects: make(map[string][]byte)}
}

func (c *MemoryClient) Bucket(name string) Bucket {
	return &memoryBucket{client: c, name: name}
}

func (c *MemoryClient) Close() error { return nil }

// Object returns the stored contents of bucket/name.
func (c *MemoryClient) Object(bucket, name string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[path.Join(bucket, name)]
	return data, ok
}

// Keys returns every stored "bucket/object" key in sorted order.
func (c *MemoryClient) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.objects))
	for k := range c.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Size returns the stored size of a key in bytes, or -1 if absent.
func (c *MemoryClient) Size(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if data, ok := c.objects[key]; ok {
		return len(data)
	}
	return -1
}

type memoryBucket struct {
	client *MemoryClient
	name   string
}

func (b *memoryBucket) Object(name string) Object {
	return &memoryObject{client: b.client, key: path.Join(b.name, name)}
}

type memoryObject struct {
	client *MemoryClient
	key    string
}

func (o *memoryObject) UploadFile(ctx context.Context, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	o.client.mu.Lock()
	defer o.client.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	o.client.objects[o.key] = cp
	return nil
}

// ── helpers ──

// resolve returns the value for a backend config key using the chain:
// explicit config value, then environment variable, then default.
func resolve(cfg map[string]any, key, envKey, defaultVal string) string {
	if cfg != nil {
		if v, ok := cfg[key].(string); ok && v != "" {
			return v
		}
	}
	if envKey != "" {
		if v := os.Getenv(envKey); v != "" {
			return v
		}
	}
	return defaultVal
}
