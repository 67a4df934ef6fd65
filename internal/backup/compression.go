package backup

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTypeAuto detects the format from the stream's magic bytes
const CompressionTypeAuto CompressionType = "auto"

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Decompressor wraps a compressed stream
type Decompressor interface {
	NewReader(r io.Reader) (io.ReadCloser, error)
	GetAlgorithm() CompressionType
}

// CompressionManager resolves decompressors by algorithm
type CompressionManager struct {
	decompressors map[CompressionType]Decompressor
}

// NewCompressionManager creates a new compression manager
func NewCompressionManager() *CompressionManager {
	cm := &CompressionManager{
		decompressors: make(map[CompressionType]Decompressor),
	}

	cm.decompressors[CompressionTypeGzip] = &GzipDecompressor{}
	cm.decompressors[CompressionTypeLZ4] = &LZ4Decompressor{}
	cm.decompressors[CompressionTypeZstd] = &ZstdDecompressor{}

	return cm
}

// NewReader returns a reader producing the decompressed content of r
func (cm *CompressionManager) NewReader(r io.Reader, algorithm CompressionType) (io.ReadCloser, error) {
	switch algorithm {
	case CompressionTypeNone, "":
		return io.NopCloser(r), nil
	case CompressionTypeAuto:
		br := bufio.NewReader(r)
		detected, err := DetectCompression(br)
		if err != nil {
			return nil, err
		}
		return cm.NewReader(br, detected)
	}

	decompressor, exists := cm.decompressors[algorithm]
	if !exists {
		return nil, NewValidationError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
	return decompressor.NewReader(r)
}

// DetectCompression peeks at the stream header. Unknown headers are treated as uncompressed.
func DetectCompression(br *bufio.Reader) (CompressionType, error) {
	header, err := br.Peek(4)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return "", NewStorageError("failed to read stream header", err)
	}

	switch {
	case bytes.HasPrefix(header, gzipMagic):
		return CompressionTypeGzip, nil
	case bytes.HasPrefix(header, zstdMagic):
		return CompressionTypeZstd, nil
	case bytes.HasPrefix(header, lz4Magic):
		return CompressionTypeLZ4, nil
	default:
		return CompressionTypeNone, nil
	}
}

// GzipDecompressor implements Decompressor for gzip streams
type GzipDecompressor struct{}

func (gd *GzipDecompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	reader, err := gzip.NewReader(r)
	if err != nil {
		return nil, NewRestoreError("failed to open gzip stream", err)
	}
	return reader, nil
}

func (gd *GzipDecompressor) GetAlgorithm() CompressionType {
	return CompressionTypeGzip
}

// LZ4Decompressor implements Decompressor for lz4 frame streams
type LZ4Decompressor struct{}

func (ld *LZ4Decompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func (ld *LZ4Decompressor) GetAlgorithm() CompressionType {
	return CompressionTypeLZ4
}

// ZstdDecompressor implements Decompressor for zstd streams
type ZstdDecompressor struct{}

func (zd *ZstdDecompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, NewRestoreError("failed to open zstd stream", err)
	}
	return decoder.IOReadCloser(), nil
}

func (zd *ZstdDecompressor) GetAlgorithm() CompressionType {
	return CompressionTypeZstd
}
