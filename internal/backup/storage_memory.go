package backup

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryObjectStore is an in-process ObjectStore. It backs the memory
// storage strategy and the pipeline tests.
type MemoryObjectStore struct {
	mu         sync.RWMutex
	url        string
	containers map[string]map[string]*memoryObject

	// etagHook, when set, can replace the etag PutObject reports
	etagHook func(key, etag string) string
}

type memoryObject struct {
	data     []byte
	metadata map[string]string
}

// NewMemoryObjectStore creates an empty store reporting url as its endpoint
func NewMemoryObjectStore(url string) *MemoryObjectStore {
	if url == "" {
		url = "memory://localhost"
	}
	return &MemoryObjectStore{
		url:        url,
		containers: make(map[string]map[string]*memoryObject),
	}
}

// SetETagHook installs fn to rewrite the etag of subsequent uploads.
// Tests use it to simulate corruption in transit.
func (m *MemoryObjectStore) SetETagHook(fn func(key, etag string) string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.etagHook = fn
}

func (m *MemoryObjectStore) EnsureContainer(ctx context.Context, container string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.containers[container]; !ok {
		m.containers[container] = make(map[string]*memoryObject)
	}
	return nil
}

func (m *MemoryObjectStore) PutObject(ctx context.Context, container, key string, body io.ReadSeeker, size int64, metadata map[string]string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", NewStorageError("failed to read object body", err).WithContext("key", key)
	}
	if int64(len(data)) != size {
		return "", NewStorageError(fmt.Sprintf("object %s size %d does not match declared size %d", key, len(data), size), nil)
	}

	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	objects, ok := m.containers[container]
	if !ok {
		return "", NewNotFoundError(fmt.Sprintf("container %s does not exist", container), nil)
	}
	objects[key] = &memoryObject{data: data, metadata: meta}

	sum := md5.Sum(data)
	etag := hex.EncodeToString(sum[:])
	if m.etagHook != nil {
		etag = m.etagHook(key, etag)
	}
	return etag, nil
}

func (m *MemoryObjectStore) GetObject(ctx context.Context, container, key string) (io.ReadCloser, error) {
	obj, err := m.lookup(container, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryObjectStore) HeadObject(ctx context.Context, container, key string) (map[string]string, error) {
	obj, err := m.lookup(container, key)
	if err != nil {
		return nil, err
	}

	meta := make(map[string]string, len(obj.metadata))
	for k, v := range obj.metadata {
		meta[k] = v
	}
	return meta, nil
}

func (m *MemoryObjectStore) ListObjects(ctx context.Context, container, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key := range m.containers[container] {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryObjectStore) URL() string {
	return m.url
}

// Object returns a copy of a stored object's content
func (m *MemoryObjectStore) Object(container, key string) ([]byte, bool) {
	obj, err := m.lookup(container, key)
	if err != nil {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

func (m *MemoryObjectStore) lookup(container, key string) (*memoryObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.containers[container][key]
	if !ok {
		return nil, NewNotFoundError(fmt.Sprintf("object %s/%s not found", container, key), nil)
	}
	return obj, nil
}
