package backup

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// metadataDir holds per-object metadata inside a container directory
const metadataDir = ".metadata"

// LocalObjectStore implements ObjectStore on the local file system. Each
// container is a directory below the base path.
type LocalObjectStore struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalObjectStore creates a new LocalObjectStore instance
func NewLocalObjectStore(config *LocalConfig) (*LocalObjectStore, error) {
	if config == nil {
		return nil, NewValidationError("local storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid local storage configuration", err)
	}

	return &LocalObjectStore{
		basePath:    config.BasePath,
		permissions: config.Permissions,
	}, nil
}

// EnsureContainer creates the container directory
func (ls *LocalObjectStore) EnsureContainer(ctx context.Context, container string) error {
	dir, err := ls.containerPath(container)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(dir, metadataDir), ls.permissions); err != nil {
		return NewStorageError(fmt.Sprintf("failed to create container directory %s", dir), err)
	}
	return nil
}

// PutObject writes body atomically and returns the MD5 of the file as re-read from disk
func (ls *LocalObjectStore) PutObject(ctx context.Context, container, key string, body io.ReadSeeker, size int64, metadata map[string]string) (string, error) {
	path, err := ls.objectPath(container, key)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+key+".tmp-*")
	if err != nil {
		return "", NewStorageError("failed to create object file", err).WithContext("key", key)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return "", NewStorageError("failed to write object file", err).WithContext("key", key)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", NewStorageError("failed to sync object file", err).WithContext("key", key)
	}
	if err := tmp.Close(); err != nil {
		return "", NewStorageError("failed to close object file", err).WithContext("key", key)
	}

	if err := ls.writeMetadata(container, key, metadata); err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", NewStorageError("failed to commit object file", err).WithContext("key", key)
	}

	return fileMD5(path)
}

// GetObject opens an object for reading
func (ls *LocalObjectStore) GetObject(ctx context.Context, container, key string) (io.ReadCloser, error) {
	path, err := ls.objectPath(container, key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, NewNotFoundError(fmt.Sprintf("object %s/%s not found", container, key), err)
	}
	if err != nil {
		return nil, NewStorageError("failed to open object file", err).WithContext("key", key)
	}
	return f, nil
}

// HeadObject returns the metadata stored with an object
func (ls *LocalObjectStore) HeadObject(ctx context.Context, container, key string) (map[string]string, error) {
	path, err := ls.objectPath(container, key)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, NewNotFoundError(fmt.Sprintf("object %s/%s not found", container, key), err)
	} else if err != nil {
		return nil, NewStorageError("failed to stat object file", err).WithContext("key", key)
	}

	data, err := os.ReadFile(ls.metadataPath(container, key))
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, NewStorageError("failed to read object metadata", err).WithContext("key", key)
	}

	metadata := map[string]string{}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, NewStorageError("failed to unmarshal object metadata", err).WithContext("key", key)
	}
	return metadata, nil
}

// ListObjects returns the sorted object names in container starting with prefix
func (ls *LocalObjectStore) ListObjects(ctx context.Context, container, prefix string) ([]string, error) {
	dir, err := ls.containerPath(container)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to list container %s", container), err)
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if strings.HasPrefix(name, prefix) {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// URL returns the file URL of the base path
func (ls *LocalObjectStore) URL() string {
	return "file://" + ls.basePath
}

// GetBasePath returns the base path for the object store
func (ls *LocalObjectStore) GetBasePath() string {
	return ls.basePath
}

func (ls *LocalObjectStore) containerPath(container string) (string, error) {
	if err := validateObjectName("container", container); err != nil {
		return "", err
	}
	return filepath.Join(ls.basePath, container), nil
}

func (ls *LocalObjectStore) objectPath(container, key string) (string, error) {
	dir, err := ls.containerPath(container)
	if err != nil {
		return "", err
	}
	if err := validateObjectName("key", key); err != nil {
		return "", err
	}
	return filepath.Join(dir, key), nil
}

func (ls *LocalObjectStore) metadataPath(container, key string) string {
	return filepath.Join(ls.basePath, container, metadataDir, key+".json")
}

func (ls *LocalObjectStore) writeMetadata(container, key string, metadata map[string]string) error {
	path := ls.metadataPath(container, key)
	if len(metadata) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return NewStorageError("failed to clear object metadata", err).WithContext("key", key)
		}
		return nil
	}

	data, err := json.Marshal(metadata)
	if err != nil {
		return NewStorageError("failed to serialize object metadata", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), ls.permissions); err != nil {
		return NewStorageError("failed to create metadata directory", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return NewStorageError("failed to write object metadata", err).WithContext("key", key)
	}
	return nil
}

// validateObjectName rejects names that would escape their directory
func validateObjectName(kind, name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return NewValidationError(fmt.Sprintf("invalid %s name %q", kind, name), nil)
	}
	return nil
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", NewStorageError("failed to reopen object file", err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", NewStorageError("failed to checksum object file", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
