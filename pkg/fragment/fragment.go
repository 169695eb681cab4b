package fragment

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/pollinet/pollinet-go/pkg/wire"
)

const (
	// MinChunkSize is the smallest usable data chunk per fragment.
	MinChunkSize = 20

	// MaxChunkSize is the largest data chunk per fragment.
	MaxChunkSize = 512

	// DefaultChunkSize suits a typical constrained mesh link after
	// header overhead is subtracted from the negotiated unit.
	DefaultChunkSize = 150
)

var (
	// ErrEmptyPayload is returned when splitting a zero-length payload.
	ErrEmptyPayload = errors.New("payload is empty")

	// ErrPayloadTooLarge is returned when a payload would need more
	// fragments than the sequence index can address.
	ErrPayloadTooLarge = errors.New("payload requires too many fragments")
)

// ClampChunkSize bounds a requested chunk size to the usable range.
// Non-positive values fall back to the default.
func ClampChunkSize(size int) int {
	if size <= 0 {
		return DefaultChunkSize
	}
	if size < MinChunkSize {
		return MinChunkSize
	}
	if size > MaxChunkSize {
		return MaxChunkSize
	}
	return size
}

// TransactionID computes the identifier of a payload, the SHA-256 of
// its bytes.
func TransactionID(payload []byte) []byte {
	sum := sha256.Sum256(payload)
	return sum[:]
}

// Stats describes how a payload would fragment without fragmenting it.
type Stats struct {
	// Count is the number of fragments the payload yields.
	Count int

	// ChunkSize is the effective data chunk size after clamping.
	ChunkSize int

	// LastChunkSize is the size of the final, possibly short, chunk.
	LastChunkSize int
}

// EstimateStats reports the fragment count and chunk sizes for a payload
// of the given length at the given chunk size.
func EstimateStats(payloadLen, chunkSize int) (Stats, error) {
	if payloadLen <= 0 {
		return Stats{}, ErrEmptyPayload
	}
	size := ClampChunkSize(chunkSize)
	count := (payloadLen + size - 1) / size
	if count > int(^uint16(0)) {
		return Stats{}, fmt.Errorf("%w: %d chunks of %d bytes", ErrPayloadTooLarge, count, size)
	}
	last := payloadLen - (count-1)*size
	return Stats{Count: count, ChunkSize: size, LastChunkSize: last}, nil
}

// Split fragments a payload into wire fragments of at most chunkSize
// data bytes each. Fragments are returned in sequence order and each
// carries the payload's transaction id, its index, the total count and
// a CRC-32 of its chunk.
func Split(payload []byte, chunkSize int) ([]*wire.Fragment, error) {
	stats, err := EstimateStats(len(payload), chunkSize)
	if err != nil {
		return nil, err
	}

	id := TransactionID(payload)
	fragments := make([]*wire.Fragment, 0, stats.Count)
	for i := 0; i < stats.Count; i++ {
		start := i * stats.ChunkSize
		end := start + stats.ChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := make([]byte, end-start)
		copy(chunk, payload[start:end])

		fragments = append(fragments, &wire.Fragment{
			Type:          wire.FrameFragment,
			TransactionID: id,
			Index:         uint16(i),
			Total:         uint16(stats.Count),
			Checksum:      crc32.ChecksumIEEE(chunk),
			Data:          chunk,
		})
	}
	return fragments, nil
}
