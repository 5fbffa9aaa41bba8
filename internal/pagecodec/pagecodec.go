// Package pagecodec compresses persisted posting pages.
//
// Page layout: [codec uint8][uncompressed size uint32][stored size uint32][data].
// A stored size of 0 means the payload is kept uncompressed because
// compression did not save at least 10%.
package pagecodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the compression algorithm.
type Codec uint8

const (
	// None stores pages as-is.
	None Codec = 0
	// LZ4 is fast block compression for frequently rewritten pages.
	LZ4 Codec = 1
	// ZSTD gives a better ratio for cold pages.
	ZSTD Codec = 2
)

const headerSize = 9

// ErrCorrupt is returned for pages that cannot be decoded.
var ErrCorrupt = errors.New("pagecodec: corrupt page")

// ParseCodec maps a configuration name to a Codec.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return ZSTD, nil
	default:
		return None, fmt.Errorf("pagecodec: unknown codec %q", name)
	}
}

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Codec(%d)", uint8(c))
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Encode compresses data with c and prepends the page header.
func Encode(data []byte, c Codec) ([]byte, error) {
	var compressed []byte
	switch c {
	case None:
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case ZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("pagecodec: unknown codec %d", c)
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		out := make([]byte, headerSize+len(data))
		out[0] = byte(c)
		binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
		copy(out[headerSize:], data)
		return out, nil
	}

	out := make([]byte, headerSize+len(compressed))
	out[0] = byte(c)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[5:], uint32(len(compressed)))
	copy(out[headerSize:], compressed)
	return out, nil
}

// Decode returns the payload of an encoded page.
func Decode(page []byte) ([]byte, error) {
	if len(page) < headerSize {
		return nil, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	c := Codec(page[0])
	size := binary.LittleEndian.Uint32(page[1:])
	stored := binary.LittleEndian.Uint32(page[5:])
	body := page[headerSize:]

	if stored == 0 {
		if uint32(len(body)) != size {
			return nil, fmt.Errorf("%w: %d payload bytes, header says %d", ErrCorrupt, len(body), size)
		}
		out := make([]byte, size)
		copy(out, body)
		return out, nil
	}
	if uint32(len(body)) != stored {
		return nil, fmt.Errorf("%w: %d compressed bytes, header says %d", ErrCorrupt, len(body), stored)
	}

	out := make([]byte, size)
	switch c {
	case LZ4:
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(n) != size {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return out, nil
	case ZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)

		decoded, err := dec.DecodeAll(body, out[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(len(decoded)) != size {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrCorrupt, c)
	}
}
