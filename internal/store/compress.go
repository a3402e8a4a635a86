package store

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	encodingJSON     = "json"
	encodingJSONZstd = "json+zstd"
)

// The encoder and decoder are safe for concurrent use and reused across calls.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeValue compresses raw and falls back to plain JSON when compression
// does not help.
func encodeValue(raw []byte) (string, []byte) {
	compressed := zstdEncoder.EncodeAll(raw, nil)
	if len(compressed) >= len(raw) {
		return encodingJSON, raw
	}
	return encodingJSONZstd, compressed
}

func decodeValue(encoding string, value []byte) ([]byte, error) {
	switch encoding {
	case encodingJSON, "":
		return value, nil
	case encodingJSONZstd:
		raw, err := zstdDecoder.DecodeAll(value, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}
