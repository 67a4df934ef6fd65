package backup

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeS3Bucket = "dbaas-backups"

type fakeS3Object struct {
	data     []byte
	metadata http.Header
}

// fakeS3 serves the path-style subset of the S3 API the object stores use
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]map[string]*fakeS3Object
	// etagHook rewrites the ETag answered to a PUT
	etagHook func(key, etag string) string
}

func newFakeS3(t *testing.T) (*fakeS3, *httptest.Server) {
	t.Helper()
	fake := &fakeS3{buckets: make(map[string]map[string]*fakeS3Object)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return fake, server
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	objects, exists := f.buckets[bucket]

	if key == "" {
		switch r.Method {
		case http.MethodHead:
			if !exists {
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodPut:
			io.Copy(io.Discard, r.Body)
			if !exists {
				f.buckets[bucket] = make(map[string]*fakeS3Object)
			}
		case http.MethodGet:
			if !exists {
				writeS3Error(w, http.StatusNotFound, "NoSuchBucket")
				return
			}
			f.list(w, bucket, objects, r.URL.Query().Get("prefix"))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if !exists {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket")
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, err := readS3Body(r)
		if err != nil {
			writeS3Error(w, http.StatusBadRequest, "IncompleteBody")
			return
		}
		metadata := http.Header{}
		for name, values := range r.Header {
			if strings.HasPrefix(strings.ToLower(name), "x-amz-meta-") {
				metadata[name] = values
			}
		}
		objects[key] = &fakeS3Object{data: data, metadata: metadata}

		etag := strings.ToUpper(CalculateMD5Checksum(data))
		if f.etagHook != nil {
			etag = f.etagHook(key, etag)
		}
		w.Header().Set("ETag", `"`+etag+`"`)
	case http.MethodHead, http.MethodGet:
		obj, ok := objects[key]
		if !ok {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeS3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		for name, values := range obj.metadata {
			w.Header()[name] = values
		}
		w.Header().Set("ETag", `"`+CalculateMD5Checksum(obj.data)+`"`)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
		if r.Method == http.MethodGet {
			w.Write(obj.data)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) list(w http.ResponseWriter, bucket string, objects map[string]*fakeS3Object, prefix string) {
	type content struct {
		Key          string `xml:"Key"`
		LastModified string `xml:"LastModified"`
		ETag         string `xml:"ETag"`
		Size         int    `xml:"Size"`
		StorageClass string `xml:"StorageClass"`
	}
	type listResult struct {
		XMLName     xml.Name  `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListBucketResult"`
		Name        string    `xml:"Name"`
		Prefix      string    `xml:"Prefix"`
		KeyCount    int       `xml:"KeyCount"`
		MaxKeys     int       `xml:"MaxKeys"`
		IsTruncated bool      `xml:"IsTruncated"`
		Contents    []content `xml:"Contents"`
	}

	result := listResult{Name: bucket, Prefix: prefix, MaxKeys: 1000}
	for key, obj := range objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		result.Contents = append(result.Contents, content{
			Key:          key,
			LastModified: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
			ETag:         `"` + CalculateMD5Checksum(obj.data) + `"`,
			Size:         len(obj.data),
			StorageClass: "STANDARD",
		})
	}
	// stores must not rely on listing order
	sort.Slice(result.Contents, func(i, j int) bool { return result.Contents[i].Key > result.Contents[j].Key })
	result.KeyCount = len(result.Contents)

	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xml.Header))
	xml.NewEncoder(w).Encode(result)
}

func (f *fakeS3) object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.buckets[fakeS3Bucket][key]
	if !ok {
		return nil, false
	}
	return obj.data, true
}

func (f *fakeS3) setETagHook(hook func(key, etag string) string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.etagHook = hook
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `%s<Error><Code>%s</Code><Message>%s</Message><RequestId>fake</RequestId></Error>`, xml.Header, code, code)
}

// readS3Body returns the payload of a PUT, decoding aws-chunked bodies sent
// with streaming signatures
func readS3Body(r *http.Request) ([]byte, error) {
	if !strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
		return io.ReadAll(r.Body)
	}

	var out bytes.Buffer
	br := bufio.NewReader(r.Body)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, br, size); err != nil {
			return nil, err
		}
		if _, err := br.Discard(2); err != nil {
			return nil, err
		}
	}
}

// s3CompatibleStores builds every S3-speaking store against one fake endpoint
func s3CompatibleStores(t *testing.T, endpoint string) map[string]ObjectStore {
	t.Helper()

	s3Store, err := NewS3ObjectStore(&S3Config{
		Bucket:         fakeS3Bucket,
		Region:         "us-east-1",
		AccessKey:      "AKIAEXAMPLE",
		SecretKey:      "secret",
		Endpoint:       endpoint,
		ForcePathStyle: true,
	})
	require.NoError(t, err)

	minioStore, err := NewMinioObjectStore(&MinioConfig{
		Endpoint:  strings.TrimPrefix(endpoint, "http://"),
		Bucket:    fakeS3Bucket,
		AccessKey: "minio",
		SecretKey: "minio123",
		Region:    "us-east-1",
	})
	require.NoError(t, err)

	return map[string]ObjectStore{"s3": s3Store, "minio": minioStore}
}

func TestS3CompatibleStores_RoundTrip(t *testing.T) {
	for _, name := range []string{"s3", "minio"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fake, server := newFakeS3(t)
			store := s3CompatibleStores(t, server.URL)[name]
			assert.Equal(t, server.URL+"/"+fakeS3Bucket, store.URL())

			storage := NewSegmentedStorage(store, StorageOptions{SegmentMaxSize: 48})
			result, err := streamBackup(ctx, newPayloadRunner(t, "printf '"+testPayload+"'"), storage)
			require.NoError(t, err)
			assert.Equal(t, store.URL()+"/backups/backup-1.raw", result.Location)
			assert.Equal(t, CalculateMD5Checksum([]byte(testPayload)), result.Checksum)

			first, ok := fake.object("backups/backup-1_00000000")
			require.True(t, ok)
			assert.Equal(t, testPayload[:48], string(first))

			// a neighbouring container sharing the key prefix stays out of the listing
			other := []byte("other")
			_, err = store.PutObject(ctx, "backups-old", "backup-1_00000000", bytes.NewReader(other), int64(len(other)), nil)
			require.NoError(t, err)

			keys, err := store.ListObjects(ctx, "backups", "backup-1_")
			require.NoError(t, err)
			assert.Equal(t, []string{"backup-1_00000000", "backup-1_00000001", "backup-1_00000002"}, keys)

			metadata, err := store.HeadObject(ctx, "backups", "backup-1.raw")
			require.NoError(t, err)
			prefix, ok := metadataValue(metadata, ManifestPrefixKey)
			require.True(t, ok, "metadata: %v", metadata)
			assert.Equal(t, "backups/backup-1_", prefix)

			reader, err := storage.Load(ctx, result.Location)
			require.NoError(t, err)
			defer reader.Close()
			restored, err := io.ReadAll(reader)
			require.NoError(t, err)
			assert.Equal(t, testPayload, string(restored))

			_, err = store.HeadObject(ctx, "backups", "missing.raw")
			assert.True(t, IsNotFound(err))
		})
	}
}

func TestS3CompatibleStores_PutObjectNormalizesETag(t *testing.T) {
	for _, name := range []string{"s3", "minio"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, server := newFakeS3(t)
			store := s3CompatibleStores(t, server.URL)[name]
			require.NoError(t, store.EnsureContainer(ctx, "backups"))

			body := []byte("segment body")
			etag, err := store.PutObject(ctx, "backups", "b1_00000000", bytes.NewReader(body), int64(len(body)), nil)
			require.NoError(t, err)
			assert.Equal(t, CalculateMD5Checksum(body), etag, "quotes stripped and lowercased")
		})
	}
}

func TestS3CompatibleStores_IntegrityMismatch(t *testing.T) {
	for _, name := range []string{"s3", "minio"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fake, server := newFakeS3(t)
			store := s3CompatibleStores(t, server.URL)[name]
			fake.setETagHook(func(key, etag string) string {
				if strings.HasSuffix(key, "_00000001") {
					return "FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF"
				}
				return etag
			})

			storage := NewSegmentedStorage(store, StorageOptions{SegmentMaxSize: 48})
			_, err := streamBackup(ctx, newPayloadRunner(t, "printf '"+testPayload+"'"), storage)
			require.Error(t, err)
			assert.True(t, IsIntegrityMismatch(err))

			_, ok := fake.object("backups/backup-1.raw")
			assert.False(t, ok, "no manifest after a mismatch")
		})
	}
}

func TestPutObjectOptions_SinglePut(t *testing.T) {
	opts := putObjectOptions(48, map[string]string{ManifestPrefixKey: "c/p_"})
	assert.True(t, opts.DisableMultipart)
	assert.Equal(t, "c/p_", opts.UserMetadata[ManifestPrefixKey])

	assert.False(t, putObjectOptions(maxSinglePutSize, nil).DisableMultipart)
}
