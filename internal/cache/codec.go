package cache

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Codec names the serialization format of remote values.
type Codec string

const (
	CodecJSON Codec = "json"
	CodecGob  Codec = "gob"
)

// Compression names the compression applied to remote values.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionS2   Compression = "s2"
)

// Frame header bytes. Decoding follows the header, not the configured
// compression, so values written under an earlier setting stay readable.
const (
	frameRaw  byte = 0
	frameZstd byte = 1
	frameS2   byte = 2
)

// Interface-typed values inside cached rows and maps travel by gob type name.
func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(time.Time{})
}

func encodeValue[T any](codec Codec, v T) ([]byte, error) {
	switch codec {
	case CodecGob:
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CodecJSON, "":
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("unsupported codec %q", codec)
	}
}

func decodeValue[T any](codec Codec, data []byte) (T, error) {
	var v T
	switch codec {
	case CodecGob:
		err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
		return v, err
	case CodecJSON, "":
		// Numbers decoded into interfaces stay json.Number so int64 values
		// beyond 2^53 keep their precision.
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		err := dec.Decode(&v)
		return v, err
	default:
		return v, fmt.Errorf("unsupported codec %q", codec)
	}
}

// compressor frames payloads with a one-byte header naming the algorithm.
type compressor struct {
	kind    Compression
	encoder *zstd.Encoder

	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
}

func newCompressor(kind Compression) (*compressor, error) {
	c := &compressor{kind: kind}
	switch kind {
	case CompressionNone, "":
		c.kind = CompressionNone
	case CompressionS2:
	case CompressionZstd:
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		c.encoder = encoder
	default:
		return nil, fmt.Errorf("unsupported compression %q", kind)
	}
	return c, nil
}

func (c *compressor) compress(data []byte) []byte {
	switch c.kind {
	case CompressionZstd:
		return c.encoder.EncodeAll(data, []byte{frameZstd})
	case CompressionS2:
		return append([]byte{frameS2}, s2.Encode(nil, data)...)
	default:
		return append([]byte{frameRaw}, data...)
	}
}

func (c *compressor) decompress(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	payload := frame[1:]
	switch frame[0] {
	case frameRaw:
		return payload, nil
	case frameS2:
		return s2.Decode(nil, payload)
	case frameZstd:
		c.decoderOnce.Do(func() {
			c.decoder, c.decoderErr = zstd.NewReader(nil)
		})
		if c.decoderErr != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", c.decoderErr)
		}
		return c.decoder.DecodeAll(payload, nil)
	default:
		return nil, fmt.Errorf("unknown frame header 0x%02x", frame[0])
	}
}

func (c *compressor) close() {
	if c.encoder != nil {
		_ = c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
