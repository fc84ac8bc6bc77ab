package timeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag is stored per record (1 byte).
type CompressionTag uint8

const (
	CompressionNone CompressionTag = 0
	CompressionLZ4  CompressionTag = 1
	CompressionZstd CompressionTag = 2
)

func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

var errIncompressible = errors.New("data is incompressible")

// compressor picks the algorithm from compress_level:
// 0 stores blobs as is, 1 uses lz4, 2 and up use zstd at that level.
type compressor struct {
	level int
	zenc  *zstd.Encoder
}

func newCompressor(level int) (*compressor, error) {
	c := &compressor{level: level}
	if level >= 2 {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
			zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, err
		}

		c.zenc = enc
	}

	return c, nil
}

func (c *compressor) tag() CompressionTag {
	switch {
	case c.level <= 0:
		return CompressionNone
	case c.level == 1:
		return CompressionLZ4
	}

	return CompressionZstd
}

// compress returns the stored form of data and its tag. Data that does not
// shrink is stored uncompressed.
func (c *compressor) compress(data []byte) ([]byte, CompressionTag) {
	var out []byte
	var err error

	switch c.tag() {
	case CompressionLZ4:
		out, err = compressLZ4(data)
	case CompressionZstd:
		out = c.zenc.EncodeAll(data, nil)
		if len(out) >= len(data) {
			err = errIncompressible
		}
	default:
		return data, CompressionNone
	}

	if err != nil {
		return data, CompressionNone
	}

	return out, c.tag()
}

func (c *compressor) close() {
	if c.zenc != nil {
		c.zenc.Close()
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}

	return destination[:written], nil
}

var (
	zstdDecoderOnce sync.Once
	zstdDecoder     *zstd.Decoder
	zstdDecoderErr  error
)

func decompress(stored []byte, tag CompressionTag, rawSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(stored) != rawSize {
			return nil, fmt.Errorf("uncompressed blob: size %d does not match expected %d", len(stored), rawSize)
		}
		return stored, nil

	case CompressionLZ4:
		destination := make([]byte, rawSize)
		read, err := lz4.UncompressBlock(stored, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != rawSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, rawSize)
		}
		return destination, nil

	case CompressionZstd:
		zstdDecoderOnce.Do(func() {
			zstdDecoder, zstdDecoderErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		})
		if zstdDecoderErr != nil {
			return nil, zstdDecoderErr
		}

		out, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != rawSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), rawSize)
		}
		return out, nil
	}

	return nil, fmt.Errorf("unsupported compression tag: %d", tag)
}
