package persist

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// BytesPerSample is the stored width of one sample: raw little-endian int32,
// a direct cast from the source's native width with no normalization.
const BytesPerSample = 4

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	// SpeedDefault favors throughput over ratio; chunk uploads happen on
	// every collection tick.
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
}

// Encode serializes samples as little-endian int32 and compresses them.
func Encode(samples []int32) []byte {
	raw := make([]byte, len(samples)*BytesPerSample)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(raw[i*BytesPerSample:], uint32(v))
	}
	return encoder.EncodeAll(raw, nil)
}

// Decode reverses Encode.
func Decode(data []byte) ([]int32, error) {
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing chunk: %w", err)
	}
	if len(raw)%BytesPerSample != 0 {
		return nil, fmt.Errorf("chunk payload is %d bytes, not a multiple of %d", len(raw), BytesPerSample)
	}
	samples := make([]int32, len(raw)/BytesPerSample)
	for i := range samples {
		samples[i] = int32(binary.LittleEndian.Uint32(raw[i*BytesPerSample:]))
	}
	return samples, nil
}
