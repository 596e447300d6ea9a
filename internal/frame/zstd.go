package frame

import (
	"github.com/klauspost/compress/zstd"
)

const maxDecodedSize = 64 << 20

// ZstdDecompressor inflates zstd payloads. Safe for concurrent use.
type ZstdDecompressor struct {
	dec *zstd.Decoder
}

func NewZstdDecompressor() (*ZstdDecompressor, error) {
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxDecodedSize),
	)
	if err != nil {
		return nil, err
	}
	return &ZstdDecompressor{dec: dec}, nil
}

func (z *ZstdDecompressor) Decompress(src []byte) ([]byte, error) {
	return z.dec.DecodeAll(src, nil)
}

func (z *ZstdDecompressor) Close() {
	z.dec.Close()
}
