package envelope

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression applied to an envelope payload.
type Codec uint8

const (
	CodecNone Codec = 0
	CodecS2   Codec = 1
	CodecZstd Codec = 2
	CodecLZ4  Codec = 3
)

var ErrUnknownCodec = errors.New("envelope: unknown codec")

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecS2:
		return "s2"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CodecNone, nil
	case "s2":
		return CodecS2, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	default:
		return CodecNone, fmt.Errorf("%w: %q", ErrUnknownCodec, s)
	}
}

var zstdEncoderPool = sync.Pool{
	New: func() any {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithEncoderCRC(false),
		)
		if err != nil {
			panic(fmt.Sprintf("envelope: zstd encoder: %v", err))
		}
		return enc
	},
}

var zstdDecoderPool = sync.Pool{
	New: func() any {
		dec, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(MaxPayloadBytes),
		)
		if err != nil {
			panic(fmt.Sprintf("envelope: zstd decoder: %v", err))
		}
		return dec
	},
}

var lz4CompressorPool = sync.Pool{
	New: func() any { return &lz4.Compressor{} },
}

func compress(c Codec, data []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return data, nil
	case CodecS2:
		return s2.Encode(nil, data), nil
	case CodecZstd:
		enc := zstdEncoderPool.Get().(*zstd.Encoder)
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(data, nil), nil
	case CodecLZ4:
		lc := lz4CompressorPool.Get().(*lz4.Compressor)
		defer lz4CompressorPool.Put(lc)
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lc.CompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("envelope: lz4: %w", err)
		}
		if n == 0 {
			// incompressible input
			return nil, errIncompressible
		}
		return dst[:n], nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, c)
	}
}

var errIncompressible = errors.New("envelope: incompressible payload")

func decompress(c Codec, data []byte, limit int) ([]byte, error) {
	switch c {
	case CodecNone:
		return data, nil
	case CodecS2:
		n, err := s2.DecodedLen(data)
		if err != nil {
			return nil, fmt.Errorf("envelope: s2: %w", err)
		}
		if n > limit {
			return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
		}
		out, err := s2.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("envelope: s2: %w", err)
		}
		return out, nil
	case CodecZstd:
		dec := zstdDecoderPool.Get().(*zstd.Decoder)
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("envelope: zstd: %w", err)
		}
		if len(out) > limit {
			return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(out))
		}
		return out, nil
	case CodecLZ4:
		size := max(len(data)*4, 64)
		for {
			buf := make([]byte, min(size, limit))
			n, err := lz4.UncompressBlock(data, buf)
			if err == nil {
				return buf[:n], nil
			}
			if !errors.Is(err, lz4.ErrInvalidSourceShortBuffer) || size >= limit {
				return nil, fmt.Errorf("envelope: lz4: %w", err)
			}
			size *= 2
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, c)
	}
}
