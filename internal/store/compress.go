package store

import (
	"bytes"

	"github.com/klauspost/compress/zstd"
)

// compressMinSize keeps small values, such as claim entries, uncompressed.
const compressMinSize = 256

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(1<<20))
)

// compressValue zstd-compresses an encoded log entry if that makes it smaller.
func compressValue(data []byte) []byte {
	if len(data) < compressMinSize {
		return data
	}
	out := zstdEncoder.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return data
	}
	return out
}

// decompressValue reverses compressValue. Values without the zstd frame magic
// are returned as-is.
func decompressValue(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}
	return zstdDecoder.DecodeAll(data, nil)
}
