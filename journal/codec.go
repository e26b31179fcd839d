package journal

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	// compressionThreshold is the minimum record size before compression
	// is considered. zstd overhead is not worth it for smaller records.
	compressionThreshold = 2048

	// maxDecodedSize is the hard cap during decompression to prevent
	// compression bombs in a corrupted database file.
	maxDecodedSize = 10 * 1024 * 1024

	encodingIdentity byte = 0
	encodingZstd     byte = 1
)

var (
	// ErrCorrupted is returned when a stored record cannot be decoded.
	ErrCorrupted = errors.New("corrupted journal record")

	// ErrRecordTooLarge is returned when a decoded record exceeds the cap.
	ErrRecordTooLarge = errors.New("journal record exceeds maximum size")
)

// codec compresses record payloads above the threshold. Encoder and
// decoder are pooled and goroutine-safe.
type codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	mu      sync.RWMutex
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &codec{encoder: enc, decoder: dec}, nil
}

func (c *codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
}

// encode returns the stored form of data: a one-byte encoding tag followed
// by the payload, compressed when that actually saves space.
func (c *codec) encode(data []byte) []byte {
	if len(data) < compressionThreshold {
		return append([]byte{encodingIdentity}, data...)
	}

	c.mu.RLock()
	enc := c.encoder
	c.mu.RUnlock()

	if enc == nil {
		return append([]byte{encodingIdentity}, data...)
	}

	compressed := enc.EncodeAll(data, make([]byte, 1, len(data)/2))
	if len(compressed) >= len(data)+1 {
		return append([]byte{encodingIdentity}, data...)
	}
	compressed[0] = encodingZstd
	return compressed
}

func (c *codec) decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, ErrCorrupted
	}

	payload := stored[1:]
	switch stored[0] {
	case encodingIdentity:
		return payload, nil
	case encodingZstd:
		c.mu.RLock()
		dec := c.decoder
		c.mu.RUnlock()

		if dec == nil {
			return nil, errors.New("decoder not initialized")
		}
		decoded, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCorrupted, err)
		}
		if len(decoded) > maxDecodedSize {
			return nil, ErrRecordTooLarge
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding %d", ErrCorrupted, stored[0])
	}
}
