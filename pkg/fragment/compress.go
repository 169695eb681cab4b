package fragment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// CompressionThreshold is the payload size in bytes above which
// outbound payloads are LZ4 compressed before fragmentation.
const CompressionThreshold = 100

// ErrCorruptPayload means a payload carries the compression header but
// does not decompress to the declared length.
var ErrCorruptPayload = errors.New("corrupt compressed payload")

// compressMagic prefixes a compressed payload. Serialized transactions
// begin with a compact-u16 signature count and never start with it.
var compressMagic = []byte("LZ4")

// compressHeaderSize is the magic plus a little-endian uint32 carrying
// the original payload length.
const compressHeaderSize = 7

// Compress returns the payload LZ4 block compressed behind a small
// header carrying the original length. Payloads at or below the
// threshold, or that do not shrink, are returned unchanged.
func Compress(payload []byte) []byte {
	if len(payload) <= CompressionThreshold {
		return payload
	}

	var c lz4.Compressor
	dst := make([]byte, compressHeaderSize+lz4.CompressBlockBound(len(payload)))
	n, err := c.CompressBlock(payload, dst[compressHeaderSize:])
	if err != nil || n == 0 || compressHeaderSize+n >= len(payload) {
		return payload
	}

	copy(dst, compressMagic)
	binary.LittleEndian.PutUint32(dst[len(compressMagic):], uint32(len(payload)))
	return dst[:compressHeaderSize+n]
}

// IsCompressed reports whether the payload carries the compression
// header.
func IsCompressed(payload []byte) bool {
	return len(payload) >= compressHeaderSize && bytes.HasPrefix(payload, compressMagic)
}

// Decompress reverses Compress. Payloads without the header pass
// through unchanged.
func Decompress(payload []byte) ([]byte, error) {
	if !IsCompressed(payload) {
		return payload, nil
	}

	size := binary.LittleEndian.Uint32(payload[len(compressMagic):compressHeaderSize])
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(payload[compressHeaderSize:], out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	if n != int(size) {
		return nil, fmt.Errorf("%w: declared %d bytes, got %d", ErrCorruptPayload, size, n)
	}
	return out, nil
}
