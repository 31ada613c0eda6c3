// Package compression wraps zstd for draft payloads stored at rest.
package compression

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// magic is the zstd frame header; payloads without it are passed through.
var magic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	encOnce sync.Once
	encoder *zstd.Encoder
	decOnce sync.Once
	decoder *zstd.Decoder
)

func enc() *zstd.Encoder {
	encOnce.Do(func() {
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder
}

func dec() *zstd.Decoder {
	decOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil)
	})
	return decoder
}

// Compress encodes data as a single zstd frame.
func Compress(data []byte) []byte {
	return enc().EncodeAll(data, make([]byte, 0, len(data)/2))
}

// Decompress decodes a zstd frame. Data that is not zstd-framed is
// returned unchanged, so rows written before compression stay readable.
func Decompress(data []byte) ([]byte, error) {
	if !IsCompressed(data) {
		return data, nil
	}
	return dec().DecodeAll(data, nil)
}

// IsCompressed reports whether data starts with a zstd frame header.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, magic)
}
