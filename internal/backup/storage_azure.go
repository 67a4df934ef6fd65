package backup

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// azureBlockSize is the size of each staged block
const azureBlockSize = 4 * 1024 * 1024

// AzureObjectStore implements ObjectStore for Azure Blob Storage.
// Containers are blob name prefixes inside the configured Azure container.
type AzureObjectStore struct {
	containerURL  azblob.ContainerURL
	containerName string
	blockSize     int
}

// NewAzureObjectStore creates a new AzureObjectStore instance
func NewAzureObjectStore(config *AzureConfig) (*AzureObjectStore, error) {
	if config == nil {
		return nil, NewValidationError("Azure storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid Azure storage configuration", err)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, NewStorageError("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName)
	}
	serviceURL, err := url.Parse(strings.TrimSuffix(endpoint, "/"))
	if err != nil {
		return nil, NewStorageError("failed to parse Azure service URL", err)
	}

	return &AzureObjectStore{
		containerURL:  azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		containerName: config.ContainerName,
		blockSize:     azureBlockSize,
	}, nil
}

// EnsureContainer creates the Azure container if needed
func (as *AzureObjectStore) EnsureContainer(ctx context.Context, container string) error {
	_, err := as.containerURL.Create(ctx, azblob.Metadata{}, azblob.PublicAccessNone)
	if err == nil {
		return nil
	}

	var stgErr azblob.StorageError
	if errors.As(err, &stgErr) && stgErr.ServiceCode() == azblob.ServiceCodeContainerAlreadyExists {
		return nil
	}
	return NewStorageError(fmt.Sprintf("failed to create Azure container %s", as.containerName), err)
}

// PutObject stages body as blocks and commits them. Every block carries a
// transactional Content-MD5 that Azure checks on receipt, so the MD5 of the
// whole body is returned only once each block was acknowledged intact.
func (as *AzureObjectStore) PutObject(ctx context.Context, container, key string, body io.ReadSeeker, size int64, metadata map[string]string) (string, error) {
	blobURL := as.containerURL.NewBlockBlobURL(objectKey(container, key))

	whole := md5.New()
	buf := make([]byte, as.blockSize)
	var blockIDs []string

	for {
		n, readErr := io.ReadFull(body, buf)
		if n > 0 {
			block := buf[:n]
			whole.Write(block)
			if err := as.stageBlock(ctx, blobURL, key, len(blockIDs), block); err != nil {
				return "", err
			}
			blockIDs = append(blockIDs, azureBlockID(len(blockIDs)))
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return "", NewStorageError("failed to read blob body", readErr).WithContext("key", key)
		}
	}

	digest := whole.Sum(nil)
	_, err := blobURL.CommitBlockList(ctx, blockIDs, azblob.BlobHTTPHeaders{
		ContentType: "application/octet-stream",
		ContentMD5:  digest,
	}, azblob.Metadata(metadata), azblob.BlobAccessConditions{}, azblob.AccessTierNone, nil,
		azblob.ClientProvidedKeyOptions{}, azblob.ImmutabilityPolicyOptions{})
	if err != nil {
		return "", NewStorageError(fmt.Sprintf("failed to commit %s to Azure", key), err).
			WithContext("blocks", len(blockIDs))
	}
	return hex.EncodeToString(digest), nil
}

func (as *AzureObjectStore) stageBlock(ctx context.Context, blobURL azblob.BlockBlobURL, key string, index int, block []byte) error {
	sum := md5.Sum(block)
	id := azureBlockID(index)

	resp, err := blobURL.StageBlock(ctx, id, bytes.NewReader(block), azblob.LeaseAccessConditions{}, sum[:], azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to stage block %d of %s in Azure", index, key), err)
	}
	if echoed := resp.ContentMD5(); len(echoed) > 0 && !bytes.Equal(echoed, sum[:]) {
		return NewIntegrityError(key, hex.EncodeToString(sum[:]), hex.EncodeToString(echoed)).
			WithContext("block", index)
	}
	return nil
}

// azureBlockID returns the fixed-width id of the index-th block
func azureBlockID(index int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("block-%08d", index)))
}

// GetObject downloads a blob
func (as *AzureObjectStore) GetObject(ctx context.Context, container, key string) (io.ReadCloser, error) {
	blobURL := as.containerURL.NewBlobURL(objectKey(container, key))

	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("object %s/%s not found", container, key), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download %s from Azure", key), err)
	}

	return resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20}), nil
}

// HeadObject returns the metadata of a blob. Azure returns keys lowercased.
func (as *AzureObjectStore) HeadObject(ctx context.Context, container, key string) (map[string]string, error) {
	blobURL := as.containerURL.NewBlobURL(objectKey(container, key))

	props, err := blobURL.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("object %s/%s not found", container, key), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to read %s properties from Azure", key), err)
	}

	return map[string]string(props.NewMetadata()), nil
}

// ListObjects lists the blob names in container starting with prefix
func (as *AzureObjectStore) ListObjects(ctx context.Context, container, prefix string) ([]string, error) {
	containerPrefix := container + "/"
	var keys []string

	for marker := (azblob.Marker{}); marker.NotDone(); {
		listResponse, err := as.containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: containerPrefix + prefix,
		})
		if err != nil {
			return nil, NewStorageError("failed to list blobs in Azure", err)
		}

		marker = listResponse.NextMarker
		for _, blob := range listResponse.Segment.BlobItems {
			keys = append(keys, strings.TrimPrefix(blob.Name, containerPrefix))
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// URL returns the Azure container URL
func (as *AzureObjectStore) URL() string {
	u := as.containerURL.URL()
	return strings.TrimSuffix(u.String(), "/")
}

// GetContainerName returns the Azure container name
func (as *AzureObjectStore) GetContainerName() string {
	return as.containerName
}

func isAzureNotFound(err error) bool {
	var stgErr azblob.StorageError
	if !errors.As(err, &stgErr) {
		return false
	}
	if stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
		return true
	}
	resp := stgErr.Response()
	return resp != nil && resp.StatusCode == http.StatusNotFound
}
