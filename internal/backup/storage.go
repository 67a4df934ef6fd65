package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"dbaas-backup-agent/internal/logging"
)

// ManifestPrefixKey is the manifest metadata entry naming its segments
const ManifestPrefixKey = "manifest_prefix"

// memorySpoolLimit is the largest segment size spooled in memory
const memorySpoolLimit int64 = 32 << 20

// ObjectStore is the minimal object storage surface segmented backups need.
// A container is a key prefix inside the store's configured root.
type ObjectStore interface {
	// EnsureContainer makes the store's root usable. It is idempotent.
	EnsureContainer(ctx context.Context, container string) error

	// PutObject stores body and returns the lowercase hex MD5 the store computed
	PutObject(ctx context.Context, container, key string, body io.ReadSeeker, size int64, metadata map[string]string) (string, error)

	GetObject(ctx context.Context, container, key string) (io.ReadCloser, error)

	// HeadObject returns the object's user metadata, or NOT_FOUND_ERROR
	HeadObject(ctx context.Context, container, key string) (map[string]string, error)

	// ListObjects returns the sorted keys in container starting with prefix
	ListObjects(ctx context.Context, container, prefix string) ([]string, error)

	// URL is the endpoint written into backup locations
	URL() string
}

// Storage persists and retrieves segmented backup streams
type Storage interface {
	Save(ctx context.Context, stream SegmentStream) (*SaveResult, error)
	Load(ctx context.Context, location string) (io.ReadCloser, error)
}

// StorageOptions carries what a storage factory needs to build a Storage
type StorageOptions struct {
	Config         StorageConfig
	SegmentMaxSize int64
	SpoolDir       string
	Logger         *logging.Logger
}

// StorageFactory builds a Storage from configuration
type StorageFactory func(ctx context.Context, opts StorageOptions) (Storage, error)

// SegmentedStorage uploads a stream as ordered, individually verified
// segments followed by a zero-length manifest.
type SegmentedStorage struct {
	store          ObjectStore
	segmentMaxSize int64
	spoolDir       string
	logger         *logging.Logger
}

// NewSegmentedStorage wraps an object store
func NewSegmentedStorage(store ObjectStore, opts StorageOptions) *SegmentedStorage {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	maxSize := opts.SegmentMaxSize
	if maxSize <= 0 {
		maxSize = DefaultSegmentMaxSize
	}

	return &SegmentedStorage{
		store:          store,
		segmentMaxSize: maxSize,
		spoolDir:       opts.SpoolDir,
		logger:         logger,
	}
}

// Store returns the underlying object store
func (s *SegmentedStorage) Store() ObjectStore {
	return s.store
}

// Save uploads every segment of stream and then its manifest. An integrity
// mismatch stops the upload and no manifest is written.
func (s *SegmentedStorage) Save(ctx context.Context, stream SegmentStream) (*SaveResult, error) {
	container := stream.Container()
	if err := s.store.EnsureContainer(ctx, container); err != nil {
		return nil, err
	}

	for !stream.EndOfFile() {
		if err := ctx.Err(); err != nil {
			return nil, NewStorageError("backup upload interrupted", err)
		}
		if err := s.saveSegment(ctx, container, stream); err != nil {
			return nil, err
		}
	}

	manifest := stream.Manifest()
	metadata := map[string]string{ManifestPrefixKey: stream.Prefix()}
	if _, err := s.store.PutObject(ctx, container, manifest, bytes.NewReader(nil), 0, metadata); err != nil {
		return nil, err
	}

	location := Location{Endpoint: s.store.URL(), Container: container, Manifest: manifest}
	return &SaveResult{
		Success:  true,
		Note:     "Successfully saved data to storage",
		Checksum: stream.Checksum(),
		Location: location.String(),
	}, nil
}

func (s *SegmentedStorage) saveSegment(ctx context.Context, container string, stream SegmentStream) error {
	name := stream.Segment()

	sp, err := s.newSpool()
	if err != nil {
		return err
	}
	defer sp.Close()

	var size int64
	for {
		chunk, err := stream.ReadChunk()
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			break
		}
		if _, err := sp.Write(chunk); err != nil {
			return NewStorageError("failed to spool segment", err).WithContext("segment", name)
		}
		size += int64(len(chunk))
	}

	if size == 0 {
		return nil
	}

	body, err := sp.Reader()
	if err != nil {
		return err
	}

	start := time.Now()
	etag, err := s.store.PutObject(ctx, container, name, body, size, nil)
	s.logger.LogSegmentUpload(container, name, size, time.Since(start), err)
	if err != nil {
		return err
	}

	expected := stream.SegmentChecksum()
	if !strings.EqualFold(etag, expected) {
		return NewIntegrityError(name, expected, etag)
	}
	return nil
}

// Load returns a reader over all segments of the backup at location, in
// order. A manifest without segments yields an empty stream.
func (s *SegmentedStorage) Load(ctx context.Context, location string) (io.ReadCloser, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	if endpoint := s.store.URL(); strings.TrimSuffix(loc.Endpoint, "/") != strings.TrimSuffix(endpoint, "/") {
		return nil, NewConfigurationError(
			fmt.Sprintf("backup is stored at %s but the configured storage is %s", loc.Endpoint, endpoint), nil).
			WithContext("location", location).
			WithContext("endpoint", endpoint)
	}

	metadata, err := s.store.HeadObject(ctx, loc.Container, loc.Manifest)
	if err != nil {
		return nil, err
	}

	prefix, ok := metadataValue(metadata, ManifestPrefixKey)
	if !ok || prefix == "" {
		return nil, NewNotFoundError("manifest has no segment prefix", nil).
			WithContext("manifest", loc.Manifest)
	}

	container, keyPrefix := loc.Container, prefix
	if idx := strings.Index(prefix, "/"); idx >= 0 {
		container, keyPrefix = prefix[:idx], prefix[idx+1:]
	}

	keys, err := s.store.ListObjects(ctx, container, keyPrefix)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		// an empty backup has a manifest and no segments
		s.logger.WithFields(map[string]interface{}{
			"manifest": loc.Manifest,
			"prefix":   prefix,
		}).Debug("Manifest references no segments")
	}

	return &segmentReader{
		ctx:       ctx,
		store:     s.store,
		container: container,
		keys:      keys,
	}, nil
}

// metadataValue looks key up ignoring case. S3 canonicalises user metadata
// keys and Azure lowercases them.
func metadataValue(metadata map[string]string, key string) (string, bool) {
	if v, ok := metadata[key]; ok {
		return v, true
	}
	for k, v := range metadata {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// segmentReader concatenates segments, opening one at a time
type segmentReader struct {
	ctx       context.Context
	store     ObjectStore
	container string
	keys      []string
	current   io.ReadCloser
	next      int
}

func (r *segmentReader) Read(p []byte) (int, error) {
	for {
		if r.current == nil {
			if r.next >= len(r.keys) {
				return 0, io.EOF
			}
			body, err := r.store.GetObject(r.ctx, r.container, r.keys[r.next])
			if err != nil {
				return 0, err
			}
			r.current = body
			r.next++
		}

		n, err := r.current.Read(p)
		if err == io.EOF {
			closeErr := r.current.Close()
			r.current = nil
			if closeErr != nil {
				return n, NewStorageError("failed to close segment", closeErr)
			}
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *segmentReader) Close() error {
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	return err
}

// spool holds one segment until it is uploaded
type spool interface {
	io.Writer
	Reader() (io.ReadSeeker, error)
	Close() error
}

func (s *SegmentedStorage) newSpool() (spool, error) {
	if s.segmentMaxSize <= memorySpoolLimit {
		return &memorySpool{}, nil
	}

	f, err := os.CreateTemp(s.spoolDir, "backup-segment-*")
	if err != nil {
		return nil, NewStorageError("failed to create segment spool file", err).
			WithContext("spool_dir", s.spoolDir)
	}
	return &fileSpool{file: f}, nil
}

type memorySpool struct {
	buf bytes.Buffer
}

func (m *memorySpool) Write(p []byte) (int, error) { return m.buf.Write(p) }

func (m *memorySpool) Reader() (io.ReadSeeker, error) {
	return bytes.NewReader(m.buf.Bytes()), nil
}

func (m *memorySpool) Close() error { return nil }

type fileSpool struct {
	file *os.File
}

func (f *fileSpool) Write(p []byte) (int, error) { return f.file.Write(p) }

func (f *fileSpool) Reader() (io.ReadSeeker, error) {
	if _, err := f.file.Seek(0, io.SeekStart); err != nil {
		return nil, NewStorageError("failed to rewind segment spool file", err)
	}
	return f.file, nil
}

func (f *fileSpool) Close() error {
	name := f.file.Name()
	closeErr := f.file.Close()
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return closeErr
}
